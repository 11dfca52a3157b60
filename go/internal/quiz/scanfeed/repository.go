package scanfeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/qrhit/go/internal/sqlutil"
)

// ErrAlreadyClaimed is returned when another worker processed the scan first.
var ErrAlreadyClaimed = errors.New("scan already claimed")

// Scan is a card scan ready to start a round.
type Scan struct {
	ID         uuid.UUID
	ChannelID  int64
	ContentID  int64
	DeviceInfo []byte
	ScannedAt  time.Time
}

// Repository reads and claims card scans in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Claim marks the scan processed and returns it. Exactly one caller wins;
// the others get ErrAlreadyClaimed.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan *Scan
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *Queries { return New(tx) }, func(q *Queries) error {
		n, err := q.ClaimScan(ctx, id)
		if err != nil {
			return fmt.Errorf("claim scan: %w", err)
		}
		if n != 1 {
			return ErrAlreadyClaimed
		}

		row, err := q.FetchScanByID(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch scan: %w", err)
		}
		scan = &Scan{
			ID:         row.ID,
			ChannelID:  row.ChannelID,
			ContentID:  row.ContentID,
			DeviceInfo: sqlutil.FromNullRawMessage(row.DeviceInfo),
			ScannedAt:  row.ScannedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// Unprocessed lists scans newer than since that no worker claimed yet.
func (r *Repository) Unprocessed(ctx context.Context, since time.Time, limit int32) ([]uuid.UUID, error) {
	ids, err := New(r.db).FetchUnprocessedScans(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed scans: %w", err)
	}
	return ids, nil
}
