package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventStore = (*EventRepo)(nil)

// EventRepo is the SQLite implementation of the EventStore port interface.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new EventRepo backed by the given DB.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// ReplaceSnapshots swaps the page's stored snapshot set in one transaction,
// so a crashed pass never leaves a half-written "previous revision".
func (r *EventRepo) ReplaceSnapshots(ctx context.Context, pageID int64, snapshots []model.CommentSnapshot) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace snapshots of page %d: begin: %w", pageID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comment_snapshots WHERE page_id = ?`, pageID); err != nil {
		return fmt.Errorf("replace snapshots of page %d: clear: %w", pageID, err)
	}

	const insert = `INSERT INTO comment_snapshots
		(page_id, sequence_id, author, timestamp, date, anchor, text, element_htmls, level, parent_sequence_id, section_headline, follows_heading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, s := range snapshots {
		htmls, err := json.Marshal(s.ElementHTMLs)
		if err != nil {
			return fmt.Errorf("replace snapshots of page %d: marshal element htmls: %w", pageID, err)
		}

		var parent sql.NullInt64
		if s.ParentSequenceID != nil {
			parent = sql.NullInt64{Int64: int64(*s.ParentSequenceID), Valid: true}
		}

		_, err = tx.ExecContext(ctx, insert,
			pageID, s.SequenceID, s.Author, s.Timestamp, s.Date.UTC().Format(time.RFC3339),
			s.Anchor, s.Text, string(htmls), s.Level, parent, s.SectionHeadline, s.FollowsHeading,
		)
		if err != nil {
			return fmt.Errorf("replace snapshots of page %d: insert seq %d: %w", pageID, s.SequenceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace snapshots of page %d: commit: %w", pageID, err)
	}

	return nil
}

// GetSnapshots returns the page's snapshots in sequence order. A page that has
// never completed a pass yields an empty slice.
func (r *EventRepo) GetSnapshots(ctx context.Context, pageID int64) ([]model.CommentSnapshot, error) {
	const query = `SELECT id, page_id, sequence_id, author, timestamp, date, anchor, text, element_htmls, level, parent_sequence_id, section_headline, follows_heading
		FROM comment_snapshots WHERE page_id = ? ORDER BY sequence_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("get snapshots of page %d: %w", pageID, err)
	}
	defer rows.Close()

	snapshots := []model.CommentSnapshot{}
	for rows.Next() {
		var s model.CommentSnapshot
		var date, htmls string
		var parent sql.NullInt64

		err := rows.Scan(&s.ID, &s.PageID, &s.SequenceID, &s.Author, &s.Timestamp, &date,
			&s.Anchor, &s.Text, &htmls, &s.Level, &parent, &s.SectionHeadline, &s.FollowsHeading)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		if s.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("parse snapshot date: %w", err)
		}
		if err := json.Unmarshal([]byte(htmls), &s.ElementHTMLs); err != nil {
			return nil, fmt.Errorf("parse element htmls: %w", err)
		}
		if parent.Valid {
			id := int(parent.Int64)
			s.ParentSequenceID = &id
		}

		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// RecordEvents appends detected events in one transaction.
func (r *EventRepo) RecordEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record events: begin: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO events
		(page_id, kind, revision_id, author, anchor, section_headline, text, uncertain, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, e := range events {
		detectedAt := e.DetectedAt
		if detectedAt.IsZero() {
			detectedAt = time.Now().UTC()
		}

		_, err := tx.ExecContext(ctx, insert,
			e.PageID, string(e.Kind), e.RevisionID, e.Author, e.Anchor,
			e.SectionHeadline, e.Text, e.Uncertain, detectedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("record event %s on page %d: %w", e.Kind, e.PageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record events: commit: %w", err)
	}

	return nil
}

// ListByPage returns up to limit of the page's newest events, newest first.
func (r *EventRepo) ListByPage(ctx context.Context, pageID int64, limit int) ([]model.Event, error) {
	const query = `SELECT id, page_id, kind, revision_id, author, anchor, section_headline, text, uncertain, detected_at
		FROM events WHERE page_id = ? ORDER BY detected_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events of page %d: %w", pageID, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListRecent returns up to limit of the newest events across all pages,
// newest first.
func (r *EventRepo) ListRecent(ctx context.Context, limit int) ([]model.Event, error) {
	const query = `SELECT id, page_id, kind, revision_id, author, anchor, section_headline, text, uncertain, detected_at
		FROM events ORDER BY detected_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		var kind, detectedAt string

		err := rows.Scan(&e.ID, &e.PageID, &kind, &e.RevisionID, &e.Author, &e.Anchor,
			&e.SectionHeadline, &e.Text, &e.Uncertain, &detectedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Kind = model.EventKind(kind)
		if e.DetectedAt, err = parseTime(detectedAt); err != nil {
			return nil, fmt.Errorf("parse detected_at: %w", err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
