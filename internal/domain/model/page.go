package model

import "time"

// PageCode is the wikitext of a page pinned to the revision it was read from.
// RevisionID is the base-revision token for conflict detection on save.
type PageCode struct {
	Code       string
	RevisionID int64
	FetchedAt  time.Time
}

// Page is a watched talk page.
type Page struct {
	ID             int64
	Title          string
	LastRevisionID int64 // 0 until the first successful poll.
	LastPolledAt   time.Time
	AddedAt        time.Time
}

// CommentSnapshot is the persisted form of a rendered comment from the last
// completed change-detection pass. It carries exactly the fields the
// cross-revision matcher needs to rebuild the "old" side of the next pass.
type CommentSnapshot struct {
	ID               int64
	PageID           int64
	SequenceID       int
	Author           string
	Timestamp        string
	Date             time.Time
	Anchor           string
	Text             string
	ElementHTMLs     []string
	Level            int
	ParentSequenceID *int
	SectionHeadline  string
	FollowsHeading   bool
}

// ToRendered converts a snapshot back into the in-memory record consumed by
// the matcher.
func (s CommentSnapshot) ToRendered() *RenderedComment {
	return &RenderedComment{
		SequenceID:       s.SequenceID,
		Author:           s.Author,
		Timestamp:        s.Timestamp,
		Date:             s.Date,
		Anchor:           s.Anchor,
		Text:             s.Text,
		ElementHTMLs:     s.ElementHTMLs,
		Level:            s.Level,
		ParentSequenceID: s.ParentSequenceID,
		SectionHeadline:  s.SectionHeadline,
		FollowsHeading:   s.FollowsHeading,
	}
}

// SnapshotOf converts a rendered comment into its persisted form.
func SnapshotOf(pageID int64, c *RenderedComment) CommentSnapshot {
	return CommentSnapshot{
		PageID:           pageID,
		SequenceID:       c.SequenceID,
		Author:           c.Author,
		Timestamp:        c.Timestamp,
		Date:             c.Date,
		Anchor:           c.Anchor,
		Text:             c.Text,
		ElementHTMLs:     c.ElementHTMLs,
		Level:            c.Level,
		ParentSequenceID: c.ParentSequenceID,
		SectionHeadline:  c.SectionHeadline,
		FollowsHeading:   c.FollowsHeading,
	}
}
