package sqlutil

import (
	"database/sql"

	"github.com/sqlc-dev/pqtype"
)

// ToSqlInt32 converts an optional int, such as a release year, to sql.NullInt32
func ToSqlInt32(val *int) sql.NullInt32 {
	if val == nil {
		return sql.NullInt32{Valid: false}
	}
	return sql.NullInt32{Int32: int32(*val), Valid: true}
}

// FromSqlInt32 converts sql.NullInt32 to an optional int
func FromSqlInt32(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// FromNullRawMessage returns the JSON held by a nullable jsonb column, or nil.
func FromNullRawMessage(val pqtype.NullRawMessage) []byte {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil
	}
	return val.RawMessage
}
