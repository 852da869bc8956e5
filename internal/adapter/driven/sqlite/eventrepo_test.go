package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

func addTestPage(t *testing.T, db *DB, title string) int64 {
	t.Helper()
	page, err := NewPageRepo(db).Add(context.Background(), title)
	require.NoError(t, err)
	return page.ID
}

func makeSnapshot(seq int, author, text string) model.CommentSnapshot {
	return model.CommentSnapshot{
		SequenceID:      seq,
		Author:          author,
		Timestamp:       "10:00, 12 May 2024 (UTC)",
		Date:            time.Date(2024, time.May, 12, 10, 0, 0, 0, time.UTC),
		Anchor:          "c-" + author + "-20240512100000",
		Text:            text,
		ElementHTMLs:    []string{"<p>" + text + "</p>"},
		Level:           1,
		SectionHeadline: "Weather",
	}
}

func TestEventRepo_ReplaceAndGetSnapshots(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()
	pageID := addTestPage(t, db, "Talk:Weather")

	parent := 0
	first := makeSnapshot(0, "Alice", "Opening thoughts about the forecast.")
	second := makeSnapshot(1, "Bob", "Reply with observations.")
	second.ParentSequenceID = &parent

	require.NoError(t, repo.ReplaceSnapshots(ctx, pageID, []model.CommentSnapshot{first, second}))

	got, err := repo.GetSnapshots(ctx, pageID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Alice", got[0].Author)
	assert.Nil(t, got[0].ParentSequenceID)
	assert.Equal(t, []string{"<p>Opening thoughts about the forecast.</p>"}, got[0].ElementHTMLs)
	assert.True(t, got[0].Date.Equal(first.Date))

	assert.Equal(t, "Bob", got[1].Author)
	require.NotNil(t, got[1].ParentSequenceID)
	assert.Equal(t, 0, *got[1].ParentSequenceID)
}

func TestEventRepo_ReplaceSnapshots_Swaps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()
	pageID := addTestPage(t, db, "Talk:Weather")

	require.NoError(t, repo.ReplaceSnapshots(ctx, pageID, []model.CommentSnapshot{
		makeSnapshot(0, "Alice", "First pass text."),
		makeSnapshot(1, "Bob", "Also first pass."),
	}))
	require.NoError(t, repo.ReplaceSnapshots(ctx, pageID, []model.CommentSnapshot{
		makeSnapshot(0, "Carol", "Second pass only."),
	}))

	got, err := repo.GetSnapshots(ctx, pageID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Carol", got[0].Author)
}

func TestEventRepo_GetSnapshots_EmptyBeforeFirstPass(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	pageID := addTestPage(t, db, "Talk:Weather")

	got, err := repo.GetSnapshots(context.Background(), pageID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventRepo_RecordAndListEvents(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()
	pageID := addTestPage(t, db, "Talk:Weather")

	events := []model.Event{
		{
			PageID: pageID, Kind: model.EventNew, RevisionID: 100,
			Author: "Alice", Anchor: "c-Alice-20240512100000",
			SectionHeadline: "Weather", Text: "A new comment.",
			DetectedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			PageID: pageID, Kind: model.EventDeleted, RevisionID: 101,
			Author: "Bob", Uncertain: true,
			DetectedAt: time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, repo.RecordEvents(ctx, events))

	got, err := repo.ListByPage(ctx, pageID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, model.EventDeleted, got[0].Kind)
	assert.True(t, got[0].Uncertain)
	assert.Equal(t, model.EventNew, got[1].Kind)
	assert.Equal(t, "A new comment.", got[1].Text)
	assert.Equal(t, int64(100), got[1].RevisionID)
}

func TestEventRepo_ListByPage_Limit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()
	pageID := addTestPage(t, db, "Talk:Weather")

	var events []model.Event
	for i := 0; i < 5; i++ {
		events = append(events, model.Event{
			PageID: pageID, Kind: model.EventNew, RevisionID: int64(i),
			Author:     "Alice",
			DetectedAt: time.Date(2026, 2, 1, 10, i, 0, 0, time.UTC),
		})
	}
	require.NoError(t, repo.RecordEvents(ctx, events))

	got, err := repo.ListByPage(ctx, pageID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].RevisionID)
	assert.Equal(t, int64(3), got[1].RevisionID)
}

func TestEventRepo_ListRecent_AcrossPages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepo(db)
	ctx := context.Background()
	weather := addTestPage(t, db, "Talk:Weather")
	trains := addTestPage(t, db, "Talk:Trains")

	require.NoError(t, repo.RecordEvents(ctx, []model.Event{
		{PageID: weather, Kind: model.EventNew, Author: "Alice",
			DetectedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
		{PageID: trains, Kind: model.EventEdited, Author: "Bob",
			DetectedAt: time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)},
	}))

	got, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, trains, got[0].PageID)
	assert.Equal(t, weather, got[1].PageID)
}

func TestEventRepo_RemovePageCascades(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepo(db)
	pages := NewPageRepo(db)
	ctx := context.Background()
	pageID := addTestPage(t, db, "Talk:Weather")

	require.NoError(t, events.ReplaceSnapshots(ctx, pageID, []model.CommentSnapshot{
		makeSnapshot(0, "Alice", "Soon to be gone."),
	}))
	require.NoError(t, events.RecordEvents(ctx, []model.Event{
		{PageID: pageID, Kind: model.EventNew, Author: "Alice", DetectedAt: time.Now().UTC()},
	}))

	require.NoError(t, pages.Remove(ctx, "Talk:Weather"))

	snaps, err := events.GetSnapshots(ctx, pageID)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	evs, err := events.ListByPage(ctx, pageID, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}
