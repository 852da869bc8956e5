package driven

import (
	"context"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// EventStore defines the driven port for change-detection state: the comment
// snapshots from the last completed pass per page, and the events derived on
// each pass.
type EventStore interface {
	// ReplaceSnapshots atomically swaps the page's stored snapshot set for
	// the given one. Order of the slice is the comments' sequence order.
	ReplaceSnapshots(ctx context.Context, pageID int64, snapshots []model.CommentSnapshot) error
	// GetSnapshots returns the page's snapshots in sequence order, or an
	// empty slice when the page has never completed a pass.
	GetSnapshots(ctx context.Context, pageID int64) ([]model.CommentSnapshot, error)

	RecordEvents(ctx context.Context, events []model.Event) error
	// ListByPage returns up to limit of the page's newest events,
	// newest first.
	ListByPage(ctx context.Context, pageID int64, limit int) ([]model.Event, error)
	// ListRecent returns up to limit of the newest events across all pages,
	// newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Event, error)
}
