package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/qrhit/go/internal/dbconfig"
	"github.com/mcdev12/qrhit/go/internal/sqlutil"
)

// Track mirrors the JSON snapshot
type Track struct {
	ChannelID int64  `json:"channel_id"`
	ContentID int64  `json:"content_id"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Year      *int   `json:"year"`
}

func main() {
	path := "go/internal/assets/tracks.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var tracks []Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(tracks)
		inserted int
		updated  int
		errs     int
	)

	for _, t := range tracks {
		if t.Artist == "" || t.Title == "" {
			fmt.Fprintf(os.Stderr, "skipping %d/%d: artist and title are required\n", t.ChannelID, t.ContentID)
			errs++
			continue
		}

		var wasInserted bool
		err := pool.QueryRow(ctx, `
            INSERT INTO tracks (channel_id, content_id, artist, title, release_year)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (channel_id, content_id) DO UPDATE
              SET artist = EXCLUDED.artist,
                  title = EXCLUDED.title,
                  release_year = EXCLUDED.release_year
            RETURNING (xmax = 0)
        `,
			t.ChannelID, t.ContentID, t.Artist, t.Title, sqlutil.ToSqlInt32(t.Year),
		).Scan(&wasInserted)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting track %d/%d: %v\n", t.ChannelID, t.ContentID, err)
			errs++
			continue
		}
		if wasInserted {
			inserted++
		} else {
			updated++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Tracks seed complete: %d total, %d inserted, %d updated, %d errors\n",
		total, inserted, updated, errs,
	)
}
