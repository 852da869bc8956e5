package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/jwbth/convenient-discussions-sub003/internal/adapter/driving/http"
	"github.com/jwbth/convenient-discussions-sub003/internal/application"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
	"github.com/jwbth/convenient-discussions-sub003/internal/platform/metrics"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

// --- Mock implementations ---

type mockPageStore struct {
	pages     []model.Page
	page      *model.Page
	err       error
	addErr    error
	removeErr error
	added     []string
	removed   []string
}

func (m *mockPageStore) Add(_ context.Context, title string) (*model.Page, error) {
	if m.addErr != nil {
		return nil, m.addErr
	}
	m.added = append(m.added, title)
	return &model.Page{ID: 1, Title: title, AddedAt: testTime}, nil
}

func (m *mockPageStore) Remove(_ context.Context, title string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, title)
	return nil
}

func (m *mockPageStore) GetByTitle(_ context.Context, title string) (*model.Page, error) {
	if m.page != nil && m.page.Title == title {
		return m.page, m.err
	}
	return nil, m.err
}

func (m *mockPageStore) ListAll(_ context.Context) ([]model.Page, error) {
	return m.pages, m.err
}

func (m *mockPageStore) SetRevision(_ context.Context, _ int64, _ int64, _ time.Time) error {
	return nil
}

type mockEventStore struct {
	snapshots []model.CommentSnapshot
	events    []model.Event
	err       error
	lastLimit int
}

func (m *mockEventStore) ReplaceSnapshots(_ context.Context, _ int64, _ []model.CommentSnapshot) error {
	return nil
}

func (m *mockEventStore) GetSnapshots(_ context.Context, _ int64) ([]model.CommentSnapshot, error) {
	return m.snapshots, m.err
}

func (m *mockEventStore) RecordEvents(_ context.Context, _ []model.Event) error { return nil }

func (m *mockEventStore) ListByPage(_ context.Context, _ int64, limit int) ([]model.Event, error) {
	m.lastLimit = limit
	return m.events, m.err
}

func (m *mockEventStore) ListRecent(_ context.Context, limit int) ([]model.Event, error) {
	m.lastLimit = limit
	return m.events, m.err
}

type mockWatch struct {
	refreshed []string
	err       error
}

func (m *mockWatch) RefreshPage(_ context.Context, title string) error {
	if m.err != nil {
		return m.err
	}
	m.refreshed = append(m.refreshed, title)
	return nil
}

type discussionCall struct {
	Op         string
	Title      string
	SequenceID int
	Text       string
	Summary    string
}

type mockDiscussion struct {
	calls    []discussionCall
	thanks   []int64
	err      error
	thankErr error
}

func (m *mockDiscussion) Reply(_ context.Context, title string, sequenceID int, text, summary string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, discussionCall{Op: "reply", Title: title, SequenceID: sequenceID, Text: text, Summary: summary})
	return nil
}

func (m *mockDiscussion) Edit(_ context.Context, title string, sequenceID int, newText, summary string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, discussionCall{Op: "edit", Title: title, SequenceID: sequenceID, Text: newText, Summary: summary})
	return nil
}

func (m *mockDiscussion) Delete(_ context.Context, title string, sequenceID int, summary string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, discussionCall{Op: "delete", Title: title, SequenceID: sequenceID, Summary: summary})
	return nil
}

func (m *mockDiscussion) Thank(_ context.Context, revisionID int64) error {
	if m.thankErr != nil {
		return m.thankErr
	}
	m.thanks = append(m.thanks, revisionID)
	return nil
}

// --- Test helpers ---

var (
	testTime    = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	testTimeStr = "2026-08-20T12:00:00Z"
)

type testMux struct {
	pages      *mockPageStore
	events     *mockEventStore
	watch      *mockWatch
	discussion *mockDiscussion
	handler    http.Handler
}

func setupMux() *testMux {
	m := &testMux{
		pages:      &mockPageStore{},
		events:     &mockEventStore{},
		watch:      &mockWatch{},
		discussion: &mockDiscussion{},
	}
	h := httphandler.NewHandler(m.pages, m.events, m.watch, m.discussion, slog.Default())
	m.handler = httphandler.NewServeMux(h, metrics.NewRegistry(), slog.Default())
	return m
}

func (m *testMux) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	m.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// --- Tests ---

func TestListPages(t *testing.T) {
	m := setupMux()
	m.pages.pages = []model.Page{
		{ID: 1, Title: "Talk:Trains", LastRevisionID: 90, AddedAt: testTime},
		{ID: 2, Title: "Talk:Weather", LastRevisionID: 100, LastPolledAt: testTime, AddedAt: testTime},
	}

	rec := m.do(http.MethodGet, "/api/v1/pages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]any
	decodeJSON(t, rec, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "Talk:Trains", got[0]["title"])
	assert.Equal(t, float64(90), got[0]["last_revision_id"])
	assert.Equal(t, testTimeStr, got[0]["added_at"])
	_, polled := got[0]["last_polled_at"]
	assert.False(t, polled, "never-polled page must omit last_polled_at")
	assert.Equal(t, testTimeStr, got[1]["last_polled_at"])
}

func TestAddPage(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages", `{"title":"Talk:Weather"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"Talk:Weather"}, m.pages.added)

	var got map[string]any
	decodeJSON(t, rec, &got)
	assert.Equal(t, "Talk:Weather", got["title"])
}

func TestAddPage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"title":`},
		{"empty title", `{"title":"  "}`},
		{"forbidden characters", `{"title":"Talk:A|B"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupMux()
			rec := m.do(http.MethodPost, "/api/v1/pages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, m.pages.added)
		})
	}
}

func TestAddPage_AlreadyWatched(t *testing.T) {
	m := setupMux()
	m.pages.addErr = driven.ErrPageAlreadyWatched

	rec := m.do(http.MethodPost, "/api/v1/pages", `{"title":"Talk:Weather"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemovePage(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodDelete, "/api/v1/pages/Talk:Weather", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"Talk:Weather"}, m.pages.removed)
}

func TestRemovePage_NotFound(t *testing.T) {
	m := setupMux()
	m.pages.removeErr = driven.ErrPageNotFound

	rec := m.do(http.MethodDelete, "/api/v1/pages/Talk:Nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListComments(t *testing.T) {
	parent := 0
	m := setupMux()
	m.pages.page = &model.Page{ID: 1, Title: "Talk:Weather"}
	m.events.snapshots = []model.CommentSnapshot{
		{SequenceID: 0, Author: "Alice", Date: testTime, Anchor: "c-Alice-20260820120000", Text: "Opening comment.", SectionHeadline: "Weather", FollowsHeading: true},
		{SequenceID: 1, Author: "Bob", Date: testTime, Text: "A reply.", Level: 1, ParentSequenceID: &parent, SectionHeadline: "Weather"},
	}

	rec := m.do(http.MethodGet, "/api/v1/pages/Talk:Weather/comments", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]any
	decodeJSON(t, rec, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "Alice", got[0]["author"])
	assert.Equal(t, "c-Alice-20260820120000", got[0]["anchor"])
	assert.Equal(t, true, got[0]["follows_heading"])
	_, hasParent := got[0]["parent_sequence_id"]
	assert.False(t, hasParent, "top-level comment must omit parent_sequence_id")
	assert.Equal(t, float64(0), got[1]["parent_sequence_id"])
	assert.Equal(t, float64(1), got[1]["level"])
}

func TestListComments_PageNotFound(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodGet, "/api/v1/pages/Talk:Nope/comments", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	m := setupMux()
	m.pages.page = &model.Page{ID: 1, Title: "Talk:Weather"}
	m.events.events = []model.Event{
		{Kind: model.EventNew, RevisionID: 101, Author: "Carol", Text: "A new remark.", DetectedAt: testTime},
		{Kind: model.EventDeleted, RevisionID: 100, Author: "Bob", Uncertain: true, DetectedAt: testTime},
	}

	rec := m.do(http.MethodGet, "/api/v1/pages/Talk:Weather/events?limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, m.events.lastLimit)

	var got []map[string]any
	decodeJSON(t, rec, &got)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0]["kind"])
	assert.Equal(t, float64(101), got[0]["revision_id"])
	assert.Equal(t, false, got[0]["uncertain"])
	assert.Equal(t, true, got[1]["uncertain"])
	assert.Equal(t, testTimeStr, got[1]["detected_at"])
}

func TestListEvents_DefaultLimit(t *testing.T) {
	m := setupMux()
	m.pages.page = &model.Page{ID: 1, Title: "Talk:Weather"}

	rec := m.do(http.MethodGet, "/api/v1/pages/Talk:Weather/events?limit=junk", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, m.events.lastLimit)
}

func TestRefreshPage(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/refresh", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"Talk:Weather"}, m.watch.refreshed)
}

func TestRefreshPage_NotFound(t *testing.T) {
	m := setupMux()
	m.watch.err = driven.ErrPageNotFound

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Nope/refresh", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReply(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/reply",
		`{"sequence_id":2,"text":"I agree. ~~~~","summary":"reply"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, m.discussion.calls, 1)
	call := m.discussion.calls[0]
	assert.Equal(t, "reply", call.Op)
	assert.Equal(t, "Talk:Weather", call.Title)
	assert.Equal(t, 2, call.SequenceID)
	assert.Equal(t, "I agree. ~~~~", call.Text)
	assert.Equal(t, "reply", call.Summary)
}

func TestReply_EmptyText(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/reply",
		`{"sequence_id":2,"text":"  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, m.discussion.calls)
}

func TestEdit(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/edit",
		`{"sequence_id":0,"text":"Amended content.","summary":"copyedit"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, m.discussion.calls, 1)
	assert.Equal(t, "edit", m.discussion.calls[0].Op)
}

func TestDelete(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/delete",
		`{"sequence_id":0,"summary":"remove"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, m.discussion.calls, 1)
	assert.Equal(t, "delete", m.discussion.calls[0].Op)
}

func TestMutation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown comment", application.ErrUnknownComment, http.StatusNotFound},
		{"locate failed", wikitext.ErrLocateComment, http.StatusNotFound},
		{"no code", wikitext.ErrNoCode, http.StatusServiceUnavailable},
		{"edit conflict", driven.ErrEditConflict, http.StatusConflict},
		{"closed discussion", wikitext.ErrClosed, http.StatusConflict},
		{"no insertion point", wikitext.ErrFindPlace, http.StatusConflict},
		{"replies to comment", wikitext.ErrDeleteRepliesToComment, http.StatusConflict},
		{"replies in section", wikitext.ErrDeleteRepliesInSection, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupMux()
			// Wrapped the way the service surfaces them.
			m.discussion.err = fmt.Errorf("reply to comment 0: %w", tt.err)

			rec := m.do(http.MethodPost, "/api/v1/pages/Talk:Weather/reply",
				`{"sequence_id":0,"text":"text"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestThank(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/thanks", `{"revision_id":12345}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{12345}, m.discussion.thanks)
}

func TestThank_MissingRevision(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodPost, "/api/v1/thanks", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, m.discussion.thanks)
}

func TestDigest(t *testing.T) {
	m := setupMux()
	m.events.events = []model.Event{
		{Kind: model.EventNew, Author: "Carol", SectionHeadline: "Weather", Text: "A new remark.", DetectedAt: testTime},
		{Kind: model.EventDeleted, Author: "Bob", Uncertain: true, DetectedAt: testTime},
	}

	rec := m.do(http.MethodGet, "/api/v1/digest", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Carol")
	assert.Contains(t, body, "<em>Weather</em>")
	assert.Contains(t, body, "(uncertain)")
}

func TestDigest_SanitizesEventText(t *testing.T) {
	m := setupMux()
	m.events.events = []model.Event{
		{Kind: model.EventNew, Author: "Mallory", Text: `<script>alert("x")</script>`, DetectedAt: testTime},
	}

	rec := m.do(http.MethodGet, "/api/v1/digest", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script")
}

func TestHealth(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	decodeJSON(t, rec, &got)
	assert.Equal(t, "ok", got["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := setupMux()

	rec := m.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "talkwatch_")
}
