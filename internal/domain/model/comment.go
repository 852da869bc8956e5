package model

import "time"

// RenderedComment is one comment as produced by a rendering pass over a talk
// page. It is an immutable record within that pass: SequenceID is the
// comment's position among all comments on the page and is only meaningful
// inside the pass that produced it. It must never be used as a durable
// cross-revision identifier; pairing comments across revisions is the job of
// the cross-revision matcher.
type RenderedComment struct {
	SequenceID       int
	Author           string
	Timestamp        string // Source-faithful timestamp text.
	Date             time.Time
	Anchor           string // Derived from author+timestamp; not guaranteed unique.
	Text             string // Flattened, signature-stripped content.
	ElementHTMLs     []string
	Level            int // Nesting depth; 0 = top-level or outdented.
	ParentSequenceID *int
	SectionHeadline  string
	FollowsHeading   bool // First comment directly after a section heading.

	// Cross-revision match annotations. Valid only for the duration of one
	// change-detection pass; the matcher resets them at the start of every
	// pass so they cannot accumulate across cycles.
	Match        *RenderedComment
	MatchScore   float64
	HasPoorMatch bool
}

// Parent returns the comment's parent from the given pass-ordered list, or
// nil for top-level comments.
func (c *RenderedComment) Parent(comments []*RenderedComment) *RenderedComment {
	if c.ParentSequenceID == nil {
		return nil
	}
	for _, other := range comments {
		if other.SequenceID == *c.ParentSequenceID {
			return other
		}
	}
	return nil
}

// SameAuthorAndDate reports whether two comments carry the same author and a
// millisecond-equal timestamp. This is the initial candidate filter used by
// the cross-revision matcher.
func (c *RenderedComment) SameAuthorAndDate(other *RenderedComment) bool {
	return c.Author == other.Author && c.Date.Equal(other.Date)
}

// ResetMatch clears the per-pass match annotations.
func (c *RenderedComment) ResetMatch() {
	c.Match = nil
	c.MatchScore = 0
	c.HasPoorMatch = false
}
