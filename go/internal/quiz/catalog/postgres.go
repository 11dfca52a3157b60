package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/qrhit/go/internal/models"
	"github.com/mcdev12/qrhit/go/internal/sqlutil"
)

// Querier is the part of pgxpool.Pool the catalog needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCatalog reads tracks from the tracks table.
type PostgresCatalog struct {
	db Querier
}

// NewPostgresCatalog creates a catalog over a pgx pool.
func NewPostgresCatalog(db Querier) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const selectTrack = `
	SELECT content_id, artist, title, release_year
	FROM tracks
	WHERE channel_id = $1 AND content_id = $2
`

// Track returns the track behind a card.
func (c *PostgresCatalog) Track(ctx context.Context, channelID, contentID int64) (*models.Track, error) {
	var (
		t    models.Track
		year sql.NullInt32
	)
	err := c.db.QueryRow(ctx, selectTrack, channelID, contentID).Scan(&t.ContentID, &t.Artist, &t.Title, &year)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	t.Year = sqlutil.FromSqlInt32(year)
	return &t, nil
}
