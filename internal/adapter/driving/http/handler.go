// Package httphandler is the HTTP driving adapter serving the REST API and
// the rendered digest.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/application"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
	"github.com/jwbth/convenient-discussions-sub003/internal/platform/metrics"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

// WatchRefresher triggers a change-detection pass for one page.
type WatchRefresher interface {
	RefreshPage(ctx context.Context, title string) error
}

// DiscussionWriter carries the write flows against the wiki.
type DiscussionWriter interface {
	Reply(ctx context.Context, title string, sequenceID int, text, summary string) error
	Edit(ctx context.Context, title string, sequenceID int, newText, summary string) error
	Delete(ctx context.Context, title string, sequenceID int, summary string) error
	Thank(ctx context.Context, revisionID int64) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	pages      driven.PageStore
	events     driven.EventStore
	watch      WatchRefresher
	discussion DiscussionWriter
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	pages driven.PageStore,
	events driven.EventStore,
	watch WatchRefresher,
	discussion DiscussionWriter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		pages:      pages,
		events:     events,
		watch:      watch,
		discussion: discussion,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/pages", h.ListPages)
	mux.HandleFunc("POST /api/v1/pages", h.AddPage)
	mux.HandleFunc("DELETE /api/v1/pages/{title}", h.RemovePage)
	mux.HandleFunc("GET /api/v1/pages/{title}/comments", h.ListComments)
	mux.HandleFunc("GET /api/v1/pages/{title}/events", h.ListEvents)
	mux.HandleFunc("POST /api/v1/pages/{title}/refresh", h.RefreshPage)
	mux.HandleFunc("POST /api/v1/pages/{title}/reply", h.Reply)
	mux.HandleFunc("POST /api/v1/pages/{title}/edit", h.Edit)
	mux.HandleFunc("POST /api/v1/pages/{title}/delete", h.Delete)
	mux.HandleFunc("POST /api/v1/thanks", h.Thank)
	mux.HandleFunc("GET /api/v1/digest", h.Digest)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", reg.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListPages returns all watched pages.
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.pages.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list pages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PageResponse, 0, len(pages))
	for _, p := range pages {
		resp = append(resp, toPageResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddPage adds a page to the watch list and triggers an async first poll.
func (h *Handler) AddPage(w http.ResponseWriter, r *http.Request) {
	var req AddPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title := strings.TrimSpace(req.Title)
	if !isValidPageTitle(title) {
		writeError(w, http.StatusBadRequest, "invalid page title")
		return
	}

	page, err := h.pages.Add(r.Context(), title)
	if err != nil {
		if errors.Is(err, driven.ErrPageAlreadyWatched) {
			writeError(w, http.StatusConflict, "page is already watched")
			return
		}
		h.logger.Error("failed to add page", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Fire-and-forget first poll with background context since the HTTP
	// request context will be cancelled after the response is sent.
	if h.watch != nil {
		go func() {
			if err := h.watch.RefreshPage(context.Background(), title); err != nil {
				h.logger.Error("async page refresh failed", "page", title, "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusCreated, toPageResponse(*page))
}

// RemovePage removes a page from the watch list along with its snapshots and
// events.
func (h *Handler) RemovePage(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	if err := h.pages.Remove(r.Context(), title); err != nil {
		if errors.Is(err, driven.ErrPageNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		h.logger.Error("failed to remove page", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListComments returns the comments recorded by the last completed poll of a
// page.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	page, err := h.pages.GetByTitle(r.Context(), title)
	if err != nil {
		h.logger.Error("failed to get page", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if page == nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}

	snapshots, err := h.events.GetSnapshots(r.Context(), page.ID)
	if err != nil {
		h.logger.Error("failed to get snapshots", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CommentResponse, 0, len(snapshots))
	for _, s := range snapshots {
		resp = append(resp, toCommentResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListEvents returns the most recent detected changes on a page, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	page, err := h.pages.GetByTitle(r.Context(), title)
	if err != nil {
		h.logger.Error("failed to get page", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if page == nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}

	limit := parseLimit(r, 50)
	events, err := h.events.ListByPage(r.Context(), page.ID, limit)
	if err != nil {
		h.logger.Error("failed to list events", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RefreshPage runs a change-detection pass for the page and returns when it
// completes.
func (h *Handler) RefreshPage(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	if err := h.watch.RefreshPage(r.Context(), title); err != nil {
		if errors.Is(err, driven.ErrPageNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		h.logger.Error("refresh failed", "page", title, "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reply inserts a reply under a comment and saves the page.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := h.discussion.Reply(r.Context(), title, req.SequenceID, req.Text, req.Summary)
	h.writeMutationResult(w, title, err)
}

// Edit replaces a comment's content, keeping its signature, and saves the
// page.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := h.discussion.Edit(r.Context(), title, req.SequenceID, req.Text, req.Summary)
	h.writeMutationResult(w, title, err)
}

// Delete removes a comment (or its whole section for a section opener) and
// saves the page.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.discussion.Delete(r.Context(), title, req.SequenceID, req.Summary)
	h.writeMutationResult(w, title, err)
}

// Thank sends a thanks notification for a revision.
func (h *Handler) Thank(w http.ResponseWriter, r *http.Request) {
	var req ThankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RevisionID <= 0 {
		writeError(w, http.StatusBadRequest, "revision_id is required")
		return
	}

	if err := h.discussion.Thank(r.Context(), req.RevisionID); err != nil {
		h.logger.Error("thank failed", "revision_id", req.RevisionID, "error", err)
		writeError(w, http.StatusBadGateway, "thank failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeMutationResult maps the outcome of a write flow to an HTTP response.
// Refusals from the source-location engine keep their stable codes in the
// error body so clients can react (refetch, surface "discussion is closed",
// and so on).
func (h *Handler) writeMutationResult(w http.ResponseWriter, title string, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case errors.Is(err, application.ErrUnknownComment):
		writeError(w, http.StatusNotFound, "comment not found")
	case errors.Is(err, wikitext.ErrLocateComment):
		writeError(w, http.StatusNotFound, "comment could not be located in the page source")
	case errors.Is(err, wikitext.ErrNoCode):
		writeError(w, http.StatusServiceUnavailable, "page source unavailable")
	case errors.Is(err, driven.ErrEditConflict):
		writeError(w, http.StatusConflict, "edit conflict: the page changed, refetch and retry")
	case errors.Is(err, wikitext.ErrClosed):
		writeError(w, http.StatusConflict, "the discussion is closed")
	case errors.Is(err, wikitext.ErrFindPlace):
		writeError(w, http.StatusConflict, "no safe insertion point could be determined")
	case errors.Is(err, wikitext.ErrDeleteRepliesToComment):
		writeError(w, http.StatusConflict, "the comment has replies")
	case errors.Is(err, wikitext.ErrDeleteRepliesInSection):
		writeError(w, http.StatusConflict, "the section contains other comments")
	default:
		h.logger.Error("mutation failed", "page", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseLimit reads the limit query parameter, falling back to def when absent
// or invalid.
func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// isValidPageTitle rejects titles MediaWiki itself refuses: empty strings and
// ones containing characters invalid in titles.
func isValidPageTitle(title string) bool {
	if title == "" || len(title) > 255 {
		return false
	}
	return !strings.ContainsAny(title, "#<>[]{}|")
}
