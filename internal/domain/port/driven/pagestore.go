package driven

import (
	"context"
	"errors"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// Sentinel errors returned by PageStore implementations.
var (
	// ErrPageNotFound indicates the requested page is not on the watch list.
	ErrPageNotFound = errors.New("page not found")

	// ErrPageAlreadyWatched indicates the page is already on the watch list.
	ErrPageAlreadyWatched = errors.New("page already watched")
)

// PageStore defines the driven port for watched-page persistence.
// Add returns ErrPageAlreadyWatched for a duplicate title.
// Remove returns ErrPageNotFound if the title is not watched.
type PageStore interface {
	Add(ctx context.Context, title string) (*model.Page, error)
	Remove(ctx context.Context, title string) error
	GetByTitle(ctx context.Context, title string) (*model.Page, error)
	ListAll(ctx context.Context) ([]model.Page, error)
	// SetRevision records the revision ID and poll time of the last
	// completed change-detection pass for the page.
	SetRevision(ctx context.Context, pageID int64, revisionID int64, polledAt time.Time) error
}
