package scanfeed

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// CardScan is a row of card_scans.
type CardScan struct {
	ID          uuid.UUID
	ChannelID   int64
	ContentID   int64
	DeviceInfo  pqtype.NullRawMessage
	ScannedAt   time.Time
	ProcessedAt sql.NullTime
}

const claimScan = `
UPDATE card_scans
SET processed_at = now()
WHERE id = $1 AND processed_at IS NULL
`

// ClaimScan marks the scan processed. It returns the number of rows
// updated: 0 when another worker already claimed it.
func (q *Queries) ClaimScan(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimScan, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const fetchScanByID = `
SELECT id, channel_id, content_id, device_info, scanned_at, processed_at
FROM card_scans
WHERE id = $1
`

func (q *Queries) FetchScanByID(ctx context.Context, id uuid.UUID) (CardScan, error) {
	row := q.db.QueryRowContext(ctx, fetchScanByID, id)
	var i CardScan
	err := row.Scan(
		&i.ID,
		&i.ChannelID,
		&i.ContentID,
		&i.DeviceInfo,
		&i.ScannedAt,
		&i.ProcessedAt,
	)
	return i, err
}

const fetchUnprocessedScans = `
SELECT id
FROM card_scans
WHERE processed_at IS NULL AND scanned_at > $1
ORDER BY scanned_at
LIMIT $2
`

func (q *Queries) FetchUnprocessedScans(ctx context.Context, since time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnprocessedScans, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
