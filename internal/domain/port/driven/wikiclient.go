package driven

import (
	"context"
	"errors"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// Sentinel errors returned by WikiClient implementations.
var (
	// ErrEditConflict indicates the page was edited after the base revision
	// the submitted code was computed against. The caller must refetch,
	// relocate and rebuild its edit; located positions from the stale
	// revision are invalid.
	ErrEditConflict = errors.New("edit conflict")

	// ErrPageMissing indicates the requested page does not exist on the wiki.
	ErrPageMissing = errors.New("page missing")
)

// WikiClient defines the driven port for the wiki's Action API.
// Read methods fetch page state; write methods submit edits and thanks.
type WikiClient interface {
	// Read methods

	// FetchPageCode returns the page's current wikitext together with the
	// revision ID it belongs to.
	FetchPageCode(ctx context.Context, title string) (*model.PageCode, error)
	// FetchParsedHTML returns the wiki's own HTML rendering of the page
	// (the rendering oracle comments are extracted from).
	FetchParsedHTML(ctx context.Context, title string) (string, error)
	// FetchLastRevisionID returns the page's latest revision ID without
	// transferring content. It is the cheap change probe for the poll loop.
	FetchLastRevisionID(ctx context.Context, title string) (int64, error)

	// Write methods

	// SubmitEdit saves newCode over the page. baseRevID must be the revision
	// the new code was derived from; an intervening edit yields
	// ErrEditConflict.
	SubmitEdit(ctx context.Context, title, newCode, summary string, baseRevID int64) error
	// Thank sends a thanks notification to the author of the given revision.
	Thank(ctx context.Context, revisionID int64) error
}
