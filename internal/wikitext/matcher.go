package wikitext

import (
	"sort"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// Matcher pairs rendered comments across two independently produced renderings
// of a page (two revisions) without relying on any persistent identifier.
type Matcher struct{}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Hand-tuned pairing constants carried over from the source system. Changing
// any of them is a breaking behavioral change.
const (
	parentMatchWeight     = 1.0
	parentlessMatchWeight = 0.75
	headlineMatchWeight   = 1.0
	indexMatchWeight      = 0.25
	eligibilityThreshold  = 1.66
)

// Match computes a best-effort pairing between current and other, attaching
// Match, MatchScore and HasPoorMatch to the comments in current. All three
// annotations are reset first, so they never accumulate across passes.
//
// The outer iteration runs over other so that, when one other-side comment
// has several plausible current-side candidates, the best current candidate
// is chosen for it rather than the first one to claim it; that preserves
// left-over assignments for genuinely new or removed comments. A match, once
// set, can only be rebound to a higher-scoring other-side comment within the
// same pass.
func (m *Matcher) Match(current, other []*model.RenderedComment) {
	for _, c := range current {
		c.ResetMatch()
	}

	sameLength := len(current) == len(other)

	for _, o := range other {
		var cands []*model.RenderedComment
		for _, c := range current {
			if c.SameAuthorAndDate(o) {
				cands = append(cands, c)
			}
		}

		switch len(cands) {
		case 0:
			// Nothing on the current side; o was removed (or current gained
			// nothing to pair) — no annotation to make.
		case 1:
			c := cands[0]
			score := m.score(c, o, current, other, sameLength)
			bind(c, o, score)
		default:
			m.resolve(cands, o, current, other, sameLength)
		}
	}
}

// resolve handles an other-side comment with several candidates: score each,
// drop the ineligible ones, accept the best, and flag the rest.
func (m *Matcher) resolve(cands []*model.RenderedComment, o *model.RenderedComment, current, other []*model.RenderedComment, sameLength bool) {
	type scored struct {
		c     *model.RenderedComment
		score float64
	}
	eligible := make([]scored, 0, len(cands))
	for _, c := range cands {
		s := m.score(c, o, current, other, sameLength)
		if s > eligibilityThreshold {
			eligible = append(eligible, scored{c: c, score: s})
		}
	}
	if len(eligible) == 0 {
		return
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].score > eligible[j].score })

	bind(eligible[0].c, o, eligible[0].score)

	// Every examined candidate that did not become the accepted match, and
	// has no match of its own yet, had a plausible-but-not-best pairing; it
	// must not later be treated as unambiguously new.
	for _, s := range eligible[1:] {
		if s.c.Match == nil {
			s.c.HasPoorMatch = true
		}
	}
}

// bind attaches o to c unless c already holds a better-scoring match.
// MatchScore only ever increases within a pass.
func bind(c *model.RenderedComment, o *model.RenderedComment, score float64) {
	if c.Match == nil || score > c.MatchScore {
		c.Match = o
		c.MatchScore = score
		c.HasPoorMatch = false
	}
}

// score computes the composite pairing score between a current-side and an
// other-side comment.
func (m *Matcher) score(c, o *model.RenderedComment, current, other []*model.RenderedComment, sameLength bool) float64 {
	var score float64

	cParent := c.Parent(current)
	oParent := o.Parent(other)
	switch {
	case cParent != nil && oParent != nil && cParent.SameAuthorAndDate(oParent):
		score += parentMatchWeight
	case cParent == nil && oParent == nil:
		// Two parentless comments "matching" is weaker evidence than two
		// specific parents agreeing.
		score += parentlessMatchWeight
	}

	if c.SectionHeadline == o.SectionHeadline {
		score += headlineMatchWeight
	}

	// A fully byte-identical rendering doubles as the text-overlap signal,
	// skipping the word-overlap computation entirely.
	proportion := htmlProportion(c.ElementHTMLs, o.ElementHTMLs)
	overlap := proportion
	if proportion < 1 {
		overlap = WordOverlap(c.Text, o.Text)
	}
	score += proportion + overlap

	if sameLength && c.SequenceID == o.SequenceID {
		score += indexMatchWeight
	}

	return score
}

// htmlProportion is the share of element fragments that are byte-identical
// between the two comments, position by position.
func htmlProportion(a, b []string) float64 {
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if longer == 0 {
		return 1
	}

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	equal := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(longer)
}
