package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/mcdev12/qrhit/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// Databases holds the two Postgres handles: database/sql over lib/pq for
// the scan feed, and a pgx pool for catalog lookups.
type Databases struct {
	SQL  *sql.DB
	Pool *pgxpool.Pool
	DSN  string
}

func setupDatabase(ctx context.Context) (*Databases, error) {
	dbConfig := dbconfig.NewConfigFromEnv()
	dsn := dbConfig.DSN()

	database, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		database.Close()
		return nil, fmt.Errorf("failed to ping pgx pool: %w", err)
	}

	log.Info().Str("dsn", dbConfig.Redacted()).Msg("connected to database")
	return &Databases{SQL: database, Pool: pool, DSN: dsn}, nil
}

func (d *Databases) Close() {
	if d == nil {
		return
	}
	d.Pool.Close()
	if err := d.SQL.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
}
