package model

import "time"

// EventKind classifies a change detected between two revisions of a page.
type EventKind string

const (
	// EventNew marks a comment present in the new revision with no match in
	// the previous one.
	EventNew EventKind = "new"
	// EventEdited marks a matched comment whose text changed between revisions.
	EventEdited EventKind = "edited"
	// EventDeleted marks a comment from the previous revision with no match
	// in the new one.
	EventDeleted EventKind = "deleted"
)

// Event is one detected change on a watched page. Uncertain is set when the
// comment had a plausible but not-best match candidate (hasPoorMatch), so the
// event should be presented tentatively rather than as a definite addition or
// removal.
type Event struct {
	ID              int64
	PageID          int64
	Kind            EventKind
	RevisionID      int64
	Author          string
	Anchor          string
	SectionHeadline string
	Text            string
	Uncertain       bool
	DetectedAt      time.Time
}
