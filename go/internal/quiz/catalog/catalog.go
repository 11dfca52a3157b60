// Package catalog resolves scanned cards to the canonical track a round is
// scored against.
package catalog

import (
	"context"
	"errors"

	"github.com/mcdev12/qrhit/go/internal/models"
)

// ErrTrackNotFound means the channel has no track for the content id.
var ErrTrackNotFound = errors.New("track not found")

// Catalog looks up tracks by channel and content id.
type Catalog interface {
	Track(ctx context.Context, channelID, contentID int64) (*models.Track, error)
}
