package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
	"github.com/jwbth/convenient-discussions-sub003/internal/platform/metrics"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

// ErrUnknownComment indicates the requested sequence ID does not correspond
// to a comment in the page's current rendering.
var ErrUnknownComment = errors.New("unknown comment")

// DiscussionService implements the write flows: reply to, edit and delete a
// comment, and thank a revision's author. Each flow fetches fresh markup,
// locates the comment in it, mutates the code and submits the result against
// the fetched base revision. An edit conflict surfaces as
// driven.ErrEditConflict with no retry; all located positions from the stale
// revision are invalid and the caller starts over.
type DiscussionService struct {
	wiki      driven.WikiClient
	extractor CommentExtractor
	locator   *wikitext.Locator
	mutator   *wikitext.Mutator
	metrics   *metrics.Registry
}

// NewDiscussionService creates a DiscussionService sharing the site settings
// with the core components.
func NewDiscussionService(
	wiki driven.WikiClient,
	extractor CommentExtractor,
	settings *wikitext.Settings,
	reg *metrics.Registry,
) *DiscussionService {
	return &DiscussionService{
		wiki:      wiki,
		extractor: extractor,
		locator:   wikitext.NewLocator(settings),
		mutator:   wikitext.NewMutator(settings),
		metrics:   reg,
	}
}

// Reply inserts a reply under the comment with the given sequence ID and
// submits the page.
func (s *DiscussionService) Reply(ctx context.Context, title string, sequenceID int, text, summary string) error {
	located, pageCode, err := s.locate(ctx, title, sequenceID)
	if err != nil {
		return err
	}

	newCode, err := s.mutator.Reply(located, pageCode.Code, text)
	if err != nil {
		return fmt.Errorf("reply to comment %d on %q: %w", sequenceID, title, err)
	}

	return s.submit(ctx, title, newCode, summary, pageCode.RevisionID)
}

// Edit replaces the comment's content, keeping its indentation and signature
// bytes untouched, and submits the page.
func (s *DiscussionService) Edit(ctx context.Context, title string, sequenceID int, newText, summary string) error {
	located, pageCode, err := s.locate(ctx, title, sequenceID)
	if err != nil {
		return err
	}

	// The span before the content (indentation, skipped lead-in markup) and
	// the signature are preserved byte for byte.
	prefix := pageCode.Code[located.LineStartIndex:located.CodeStartIndex]
	replacement := prefix + newText + located.Signature.DirtyCode

	newCode, err := s.mutator.Edit(located, pageCode.Code, replacement)
	if err != nil {
		return fmt.Errorf("edit comment %d on %q: %w", sequenceID, title, err)
	}

	return s.submit(ctx, title, newCode, summary, pageCode.RevisionID)
}

// Delete removes the comment (or, for a section opener, its whole section)
// and submits the page. Comments with replies are refused by the mutator.
func (s *DiscussionService) Delete(ctx context.Context, title string, sequenceID int, summary string) error {
	located, pageCode, err := s.locate(ctx, title, sequenceID)
	if err != nil {
		return err
	}

	newCode, err := s.mutator.Delete(located, pageCode.Code)
	if err != nil {
		return fmt.Errorf("delete comment %d on %q: %w", sequenceID, title, err)
	}

	return s.submit(ctx, title, newCode, summary, pageCode.RevisionID)
}

// Thank sends a thanks notification for the given revision.
func (s *DiscussionService) Thank(ctx context.Context, revisionID int64) error {
	if err := s.wiki.Thank(ctx, revisionID); err != nil {
		return fmt.Errorf("thank revision %d: %w", revisionID, err)
	}
	return nil
}

// locate fetches the page's markup and rendering and pins the requested
// comment to its exact source span.
func (s *DiscussionService) locate(ctx context.Context, title string, sequenceID int) (*wikitext.LocatedComment, *model.PageCode, error) {
	pageCode, err := s.wiki.FetchPageCode(ctx, title)
	if err != nil {
		if errors.Is(err, driven.ErrPageMissing) {
			return nil, nil, fmt.Errorf("fetch %q: %w", title, wikitext.ErrNoCode)
		}
		return nil, nil, fmt.Errorf("fetch %q: %w", title, err)
	}

	pageHTML, err := s.wiki.FetchParsedHTML(ctx, title)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch rendering of %q: %w", title, err)
	}
	comments, err := s.extractor.Extract(pageHTML)
	if err != nil {
		return nil, nil, fmt.Errorf("extract comments of %q: %w", title, err)
	}

	idx := -1
	for i, c := range comments {
		if c.SequenceID == sequenceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("comment %d on %q: %w", sequenceID, title, ErrUnknownComment)
	}

	located, err := s.locator.Locate(comments[idx], pageCode.Code, comments[:idx])
	if err != nil {
		var pe *wikitext.ParseError
		if errors.As(err, &pe) {
			s.metrics.LocateFailures.WithLabelValues(pe.Code).Inc()
		}
		return nil, nil, fmt.Errorf("locate comment %d on %q: %w", sequenceID, title, err)
	}

	return located, pageCode, nil
}

func (s *DiscussionService) submit(ctx context.Context, title, newCode, summary string, baseRevID int64) error {
	if err := s.wiki.SubmitEdit(ctx, title, newCode, summary, baseRevID); err != nil {
		if errors.Is(err, driven.ErrEditConflict) {
			slog.Info("edit conflict", "page", title, "base_revid", baseRevID)
		}
		return fmt.Errorf("submit edit of %q: %w", title, err)
	}
	return nil
}
