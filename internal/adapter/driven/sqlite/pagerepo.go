// Package sqlite persists the watch list and the change-detection state
// (comment snapshots and derived events) in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PageStore = (*PageRepo)(nil)

// PageRepo is the SQLite implementation of the PageStore port interface.
type PageRepo struct {
	db *DB
}

// NewPageRepo creates a new PageRepo backed by the given DB.
func NewPageRepo(db *DB) *PageRepo {
	return &PageRepo{db: db}
}

// Add puts a page on the watch list. Returns ErrPageAlreadyWatched when the
// title is already present.
func (r *PageRepo) Add(ctx context.Context, title string) (*model.Page, error) {
	const query = `INSERT INTO pages (title, last_revision_id, added_at) VALUES (?, 0, ?)`

	addedAt := time.Now().UTC()

	result, err := r.db.Writer.ExecContext(ctx, query, title, addedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("add page %q: %w", title, driven.ErrPageAlreadyWatched)
		}
		return nil, fmt.Errorf("add page %q: %w", title, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add page %q: last insert id: %w", title, err)
	}

	return &model.Page{ID: id, Title: title, AddedAt: addedAt}, nil
}

// Remove takes a page off the watch list; its snapshots and events go with it
// via foreign key cascade. Returns ErrPageNotFound for an unknown title.
func (r *PageRepo) Remove(ctx context.Context, title string) error {
	const query = `DELETE FROM pages WHERE title = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, title)
	if err != nil {
		return fmt.Errorf("remove page %q: %w", title, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("remove page %q: %w", title, driven.ErrPageNotFound)
	}

	return nil
}

// GetByTitle retrieves a watched page by title. Returns nil, nil if the page
// is not watched.
func (r *PageRepo) GetByTitle(ctx context.Context, title string) (*model.Page, error) {
	const query = `SELECT id, title, last_revision_id, last_polled_at, added_at FROM pages WHERE title = ?`

	page, err := scanPage(r.db.Reader.QueryRowContext(ctx, query, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page %q: %w", title, err)
	}

	return page, nil
}

// ListAll returns all watched pages ordered by title.
func (r *PageRepo) ListAll(ctx context.Context) ([]model.Page, error) {
	const query = `SELECT id, title, last_revision_id, last_polled_at, added_at FROM pages ORDER BY title`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, *page)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	return pages, nil
}

// SetRevision records the revision and poll time of the last completed pass.
func (r *PageRepo) SetRevision(ctx context.Context, pageID int64, revisionID int64, polledAt time.Time) error {
	const query = `UPDATE pages SET last_revision_id = ?, last_polled_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, revisionID, polledAt.UTC().Format(time.RFC3339), pageID)
	if err != nil {
		return fmt.Errorf("set revision of page %d: %w", pageID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set revision of page %d: %w", pageID, driven.ErrPageNotFound)
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPage(s scanner) (*model.Page, error) {
	var page model.Page
	var polledAt sql.NullString
	var addedAt string

	err := s.Scan(&page.ID, &page.Title, &page.LastRevisionID, &polledAt, &addedAt)
	if err != nil {
		return nil, err
	}

	if page.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}
	if polledAt.Valid {
		if page.LastPolledAt, err = parseTime(polledAt.String); err != nil {
			return nil, fmt.Errorf("parse last_polled_at: %w", err)
		}
	}

	return &page, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
