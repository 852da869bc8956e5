// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
	"github.com/jwbth/convenient-discussions-sub003/internal/platform/metrics"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

// CommentExtractor turns the wiki's rendered HTML into the ordered comment
// list the matcher consumes.
type CommentExtractor interface {
	Extract(pageHTML string) ([]*model.RenderedComment, error)
}

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	title string // Empty means all pages.
	done  chan error
}

// WatchService runs the change-detection cycle: probe each watched page's
// revision, extract both comment lists when it changed, pair them with the
// cross-revision matcher, and persist the derived events plus the new
// snapshot. One goroutine owns the loop, so cycles never overlap and a manual
// refresh is serviced between cycles, never concurrently with one.
type WatchService struct {
	wiki      driven.WikiClient
	pages     driven.PageStore
	events    driven.EventStore
	extractor CommentExtractor
	matcher   *wikitext.Matcher
	metrics   *metrics.Registry
	interval  time.Duration
	refreshCh chan refreshRequest
}

// NewWatchService creates a WatchService with all required dependencies.
func NewWatchService(
	wiki driven.WikiClient,
	pages driven.PageStore,
	events driven.EventStore,
	extractor CommentExtractor,
	reg *metrics.Registry,
	interval time.Duration,
) *WatchService {
	return &WatchService{
		wiki:      wiki,
		pages:     pages,
		events:    events,
		extractor: extractor,
		matcher:   wikitext.NewMatcher(),
		metrics:   reg,
		interval:  interval,
		refreshCh: make(chan refreshRequest),
	}
}

// Start begins the watch loop. It runs an immediate pass, then one per
// interval, and services manual refresh requests in between. Start blocks
// until the context is canceled.
func (s *WatchService) Start(ctx context.Context) {
	if err := s.pollAll(ctx); err != nil {
		slog.Error("initial pass failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch service stopped")
			return
		case <-ticker.C:
			if err := s.pollAll(ctx); err != nil {
				slog.Error("pass failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshPage triggers an immediate pass over one page, bypassing the
// interval. It blocks until the pass completes or the context is canceled.
func (s *WatchService) RefreshPage(ctx context.Context, title string) error {
	done := make(chan error, 1)
	req := refreshRequest{title: title, done: done}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WatchService) handleRefresh(ctx context.Context, req refreshRequest) error {
	if req.title == "" {
		return s.pollAll(ctx)
	}

	page, err := s.pages.GetByTitle(ctx, req.title)
	if err != nil {
		return err
	}
	if page == nil {
		return fmt.Errorf("refresh %q: %w", req.title, driven.ErrPageNotFound)
	}
	return s.pollPage(ctx, *page)
}

// pollAll runs one change-detection pass over every watched page.
func (s *WatchService) pollAll(ctx context.Context) error {
	start := time.Now()

	pages, err := s.pages.ListAll(ctx)
	if err != nil {
		return err
	}
	s.metrics.WatchedPages.Set(float64(len(pages)))

	var pollErrors int
	for _, page := range pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.pollPage(ctx, page); err != nil {
			slog.Error("page poll failed", "page", page.Title, "error", err)
			s.metrics.PollErrors.Inc()
			pollErrors++
		}
	}

	s.metrics.PollCycles.Inc()
	slog.Info("pass complete",
		"pages", len(pages),
		"errors", pollErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// pollPage runs the change-detection pass for one page.
func (s *WatchService) pollPage(ctx context.Context, page model.Page) error {
	revID, err := s.wiki.FetchLastRevisionID(ctx, page.Title)
	if err != nil {
		return fmt.Errorf("probe revision: %w", err)
	}
	if revID == page.LastRevisionID {
		slog.Debug("page unchanged", "page", page.Title, "revid", revID)
		return nil
	}

	pageHTML, err := s.wiki.FetchParsedHTML(ctx, page.Title)
	if err != nil {
		return fmt.Errorf("fetch parsed html: %w", err)
	}
	current, err := s.extractor.Extract(pageHTML)
	if err != nil {
		return fmt.Errorf("extract comments: %w", err)
	}
	s.metrics.CommentsScanned.Add(float64(len(current)))

	snapshots, err := s.events.GetSnapshots(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	previous := make([]*model.RenderedComment, 0, len(snapshots))
	for _, snap := range snapshots {
		previous = append(previous, snap.ToRendered())
	}

	s.matcher.Match(current, previous)

	// The first completed pass establishes the baseline; pre-existing
	// comments are not news.
	if page.LastRevisionID != 0 {
		events := s.deriveEvents(page.ID, revID, current, previous)
		if err := s.events.RecordEvents(ctx, events); err != nil {
			return fmt.Errorf("record events: %w", err)
		}
		for _, e := range events {
			s.metrics.EventsDetected.WithLabelValues(string(e.Kind)).Inc()
		}
		if len(events) > 0 {
			slog.Info("changes detected", "page", page.Title, "revid", revID, "events", len(events))
		}
	}

	newSnapshots := make([]model.CommentSnapshot, 0, len(current))
	for _, c := range current {
		newSnapshots = append(newSnapshots, model.SnapshotOf(page.ID, c))
	}
	if err := s.events.ReplaceSnapshots(ctx, page.ID, newSnapshots); err != nil {
		return fmt.Errorf("store snapshots: %w", err)
	}

	if err := s.pages.SetRevision(ctx, page.ID, revID, time.Now().UTC()); err != nil {
		return fmt.Errorf("store revision: %w", err)
	}

	return nil
}

// deriveEvents turns a completed matcher pass into events. An unmatched
// current comment is new, a matched one whose text changed is edited, and a
// previous comment nothing claimed is deleted. A plausible-but-unaccepted
// pairing (hasPoorMatch) demotes the certainty of the addition and of the
// disappearance it shadows.
func (s *WatchService) deriveEvents(pageID, revID int64, current, previous []*model.RenderedComment) []model.Event {
	now := time.Now().UTC()
	var events []model.Event

	claimed := make(map[*model.RenderedComment]bool, len(current))
	for _, c := range current {
		if c.Match != nil {
			claimed[c.Match] = true
		}
	}

	for _, c := range current {
		switch {
		case c.Match == nil:
			events = append(events, model.Event{
				PageID: pageID, Kind: model.EventNew, RevisionID: revID,
				Author: c.Author, Anchor: c.Anchor,
				SectionHeadline: c.SectionHeadline, Text: c.Text,
				Uncertain: c.HasPoorMatch, DetectedAt: now,
			})
		case c.Text != c.Match.Text:
			events = append(events, model.Event{
				PageID: pageID, Kind: model.EventEdited, RevisionID: revID,
				Author: c.Author, Anchor: c.Anchor,
				SectionHeadline: c.SectionHeadline, Text: c.Text,
				DetectedAt: now,
			})
		}
	}

	for _, o := range previous {
		if claimed[o] {
			continue
		}
		uncertain := false
		for _, c := range current {
			if c.HasPoorMatch && c.SameAuthorAndDate(o) {
				uncertain = true
				break
			}
		}
		events = append(events, model.Event{
			PageID: pageID, Kind: model.EventDeleted, RevisionID: revID,
			Author: o.Author, Anchor: o.Anchor,
			SectionHeadline: o.SectionHeadline, Text: o.Text,
			Uncertain: uncertain, DetectedAt: now,
		})
	}

	return events
}
