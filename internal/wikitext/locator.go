package wikitext

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// LocatedComment is the result of matching a rendered comment to its span of
// raw markup. Code is the exact markup slice judged to be the comment's
// content; together with the (possibly trimmed) signature's DirtyCode it
// reconstructs the original markup byte for byte:
//
//	markup == markup[:CodeStartIndex] + Code + Signature.DirtyCode + markup[Signature.EndIndex:]
type LocatedComment struct {
	Comment   *model.RenderedComment
	Signature Signature

	Code           string
	CodeStartIndex int

	// LineStartIndex is the offset of the first line of the comment,
	// including its indentation run. Edit and delete operations replace from
	// here.
	LineStartIndex int

	OriginalIndentation string
	// ReplyIndentation is the indentation a child reply to this comment must
	// use.
	ReplyIndentation string

	// Heading is set when the comment opens a section; the heading itself is
	// excluded from Code.
	Heading *HeadingMatch

	Score float64
}

// HeadingMatch records a section heading found directly before a comment.
type HeadingMatch struct {
	Level        int
	HeadlineCode string
	StartIndex   int
	EndIndex     int // One past the heading line's trailing newline.
}

// Locator matches rendered comments to markup spans.
type Locator struct {
	settings *Settings
	scanner  *Scanner
}

// NewLocator creates a Locator over the given compiled site settings.
func NewLocator(settings *Settings) *Locator {
	return &Locator{settings: settings, scanner: NewScanner(settings)}
}

// candidate is one signature under consideration for a rendered comment,
// together with its match signals.
type candidate struct {
	sig     Signature
	content string // code[sig.CommentStartIndex:sig.StartIndex]

	overlap       float64
	headlineScore float64 // +1 satisfied, -1 violated.
	prevMatch     bool
	prevEqual     bool
	idMatch       bool
	bestEvidence  bool

	score float64
}

// Locate finds the markup span of comment within code. prior is the ordered
// list of comments preceding it in the same rendering pass; its last entries
// drive the previous-comments disambiguation signal.
//
// It fails with ErrNoCode when code is absent and with ErrLocateComment when
// no candidate clears the acceptance threshold. Ambiguity is a hard failure,
// never a guess.
func (l *Locator) Locate(comment *model.RenderedComment, code string, prior []*model.RenderedComment) (*LocatedComment, error) {
	if code == "" {
		return nil, ErrNoCode
	}

	sigs := l.scanner.Scan(code)

	var cands []candidate
	for _, sig := range sigs {
		if !authorMatches(sig.Author, comment.Author) {
			continue
		}
		if !timestampMatches(sig.Timestamp, comment.Timestamp) {
			continue
		}
		cands = append(cands, candidate{
			sig:     sig,
			content: code[sig.CommentStartIndex:sig.StartIndex],
		})
	}

	for i := range cands {
		l.computeSignals(&cands[i], comment, code, sigs, prior, len(cands) == 1)
		cands[i].score = cands[i].composite()
	}

	accepted := cands[:0]
	for _, c := range cands {
		if c.score > acceptThreshold {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) == 0 {
		return nil, parseErrorf("locateComment", "no source candidate for comment %q by %s", comment.Anchor, comment.Author)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].score != accepted[j].score {
			return accepted[i].score > accepted[j].score
		}
		return seqDelta(accepted[i].sig, comment) < seqDelta(accepted[j].sig, comment)
	})

	return l.adjustBoundaries(code, comment, accepted[0])
}

// Hand-tuned scoring constants carried over from the source system. Changing
// any of them is a breaking behavioral change.
const (
	bestEvidenceWeight = 2.0
	headlineWeight     = 1.0
	prevMatchWeight    = 0.5
	idMatchWeight      = 0.0001
	acceptThreshold    = 2.5
	overlapFloor       = 0.5
)

func (c *candidate) composite() float64 {
	score := c.overlap + c.headlineScore*headlineWeight
	if c.bestEvidence {
		score += bestEvidenceWeight
	}
	if c.prevMatch {
		score += prevMatchWeight
	}
	if c.idMatch {
		score += idMatchWeight
	}
	return score
}

// computeSignals fills in the match signals for one candidate.
//
// The bestEvidence indicator exists because word overlap alone is unreliable
// for very short comments; a structural fallback (unique candidate, or
// previous-comments agreement) must be able to carry the score on its own.
func (l *Locator) computeSignals(
	c *candidate,
	comment *model.RenderedComment,
	code string,
	sigs []Signature,
	prior []*model.RenderedComment,
	sole bool,
) {
	c.overlap = WordOverlap(comment.Text, StripMarkup(c.content))
	c.headlineScore = l.headlineScore(comment, code, c.sig)
	c.prevMatch, c.prevEqual = previousCommentsSignals(c.sig, sigs, prior)
	c.idMatch = c.sig.SequenceID == comment.SequenceID

	isFirst := len(prior) == 0
	switch {
	case sole:
		c.bestEvidence = true
	case c.overlap > overlapFloor:
		c.bestEvidence = true
	case !isFirst && c.prevMatch && !c.prevEqual:
		c.bestEvidence = true
	case isFirst && c.prevMatch && c.headlineScore > 0:
		c.bestEvidence = true
	}
}

// headlineScore returns +1 when the candidate's heading context agrees with
// the rendered comment (a matching heading directly before a section-opening
// comment, or no heading before a mid-section one) and -1 otherwise. A
// mismatch is a strong negative signal rather than an automatic rejection so
// that heading renames stay recoverable through the other signals.
func (l *Locator) headlineScore(comment *model.RenderedComment, code string, sig Signature) float64 {
	h := findHeadingBefore(code, sig.CommentStartIndex)

	if comment.FollowsHeading {
		if h != nil && headlineEqual(h.HeadlineCode, comment.SectionHeadline) {
			return 1
		}
		return -1
	}
	if h == nil {
		return 1
	}
	return -1
}

// previousCommentsSignals walks up to the two comments immediately preceding
// the rendered comment and checks whether the signatures immediately
// preceding the candidate agree with them on author and timestamp. This is
// the primary disambiguator when several signatures share the same author and
// timestamp (fast consecutive replies).
//
// prevEqual reports the degenerate case where the checked previous comments
// are indistinguishable from each other, in which case the match signal has
// no real discriminating power and is down-weighted by the caller.
func previousCommentsSignals(sig Signature, sigs []Signature, prior []*model.RenderedComment) (prevMatch, prevEqual bool) {
	prevMatch = true

	checked := 0
	for k := 1; k <= 2 && k <= len(prior); k++ {
		pc := prior[len(prior)-k]
		sigIdx := sig.SequenceID - k
		if sigIdx < 0 {
			prevMatch = false
			break
		}
		prev := sigs[sigIdx]
		if !authorMatches(prev.Author, pc.Author) || !timestampMatches(prev.Timestamp, pc.Timestamp) {
			prevMatch = false
		}
		checked++
	}

	if checked >= 2 {
		a, b := prior[len(prior)-1], prior[len(prior)-2]
		prevEqual = a.Author == b.Author && a.Timestamp == b.Timestamp
	}
	return prevMatch, prevEqual
}

func authorMatches(sigAuthor, commentAuthor string) bool {
	return sigAuthor == commentAuthor || sigAuthor == UndatedAuthor
}

// timestampMatches accepts equality or a prefix relation, which tolerates an
// optional trailing timezone abbreviation present on only one side.
func timestampMatches(sigTimestamp, commentTimestamp string) bool {
	if sigTimestamp == "" {
		return commentTimestamp == ""
	}
	return strings.HasPrefix(commentTimestamp, sigTimestamp) ||
		strings.HasPrefix(sigTimestamp, commentTimestamp)
}

func seqDelta(sig Signature, comment *model.RenderedComment) int {
	d := sig.SequenceID - comment.SequenceID
	if d < 0 {
		return -d
	}
	return d
}

var headingRe = regexp.MustCompile(`^(=+)[ \t]*(.*?)[ \t]*(=+)[ \t]*(?:\n|$)`)

// findHeadingBefore returns the heading directly preceding the content that
// starts at offset start: either a heading line at start itself, or one on
// the nearest preceding non-blank line. Blank lines between a heading and
// the section's first comment are common and do not break the adjacency.
func findHeadingBefore(code string, start int) *HeadingMatch {
	if h := headingAt(code, start); h != nil {
		return h
	}

	ls := lineStart(code, start)
	for ls > 0 {
		prevStart := lineStart(code, ls-1)
		if strings.TrimSpace(code[prevStart:ls]) == "" {
			ls = prevStart
			continue
		}
		if h := headingAt(code, prevStart); h != nil && h.EndIndex == ls {
			return h
		}
		return nil
	}
	return nil
}

func headingAt(code string, pos int) *HeadingMatch {
	m := headingRe.FindStringSubmatchIndex(code[pos:])
	if m == nil {
		return nil
	}
	level := m[3] - m[2]
	if closing := m[7] - m[6]; closing < level {
		level = closing
	}
	return &HeadingMatch{
		Level:        level,
		HeadlineCode: code[pos+m[4] : pos+m[5]],
		StartIndex:   pos,
		EndIndex:     pos + m[1],
	}
}

var spaceRunRe = regexp.MustCompile(`\s+`)

// headlineEqual compares a markup headline against a rendered section
// headline, ignoring markup, whitespace runs and case.
func headlineEqual(headlineCode, rendered string) bool {
	norm := func(s string) string {
		return strings.ToLower(spaceRunRe.ReplaceAllString(strings.TrimSpace(StripMarkup(s)), " "))
	}
	return norm(headlineCode) == norm(rendered)
}
