package wikitext

import (
	"sort"
	"strings"
	"time"
)

// Signature is a located author+timestamp marker in raw markup. Offsets are
// byte offsets into the scanned string. Signatures are totally ordered by
// SequenceID, consistent with StartIndex ordering.
type Signature struct {
	Author    string // UndatedAuthor when only a timestamp matched.
	Timestamp string // Source-faithful timestamp text; may be empty for unsigned templates without one.
	Date      time.Time
	DateValid bool

	// DirtyCode is the raw span including the signature itself. It always
	// equals code[StartIndex:EndIndex] of the string it was scanned from.
	DirtyCode  string
	StartIndex int
	EndIndex   int

	// CommentStartIndex is where the enclosing comment's content is believed
	// to begin. It is a first approximation refined by the locator's boundary
	// adjustment, not a final answer.
	CommentStartIndex int

	SequenceID int
}

// Scanner extracts signatures from raw markup.
type Scanner struct {
	settings *Settings
}

// NewScanner creates a Scanner over the given compiled site settings.
func NewScanner(settings *Settings) *Scanner {
	return &Scanner{settings: settings}
}

// Scan returns every signature in code, ordered by start offset with
// SequenceID assigned in that order. A signature is a timestamp match,
// optionally preceded on the same line by an author link (user, user-talk or
// contributions), optionally wrapped in an "unsigned" template. When no
// timestamp pattern is configured the result is empty; Scan never panics.
func (sc *Scanner) Scan(code string) []Signature {
	if sc.settings.Timestamp == nil {
		return nil
	}

	sigs := sc.scanUnsigned(code)
	sigs = append(sigs, sc.scanTimestamps(code, sigs)...)

	sort.Slice(sigs, func(i, j int) bool { return sigs[i].StartIndex < sigs[j].StartIndex })

	for i := range sigs {
		sigs[i].SequenceID = i
		sigs[i].CommentStartIndex = sc.commentStart(code, sigs, i)
	}
	return sigs
}

// scanUnsigned finds signatures produced by "unsigned comment" templates. The
// first capture group is the username, the optional second one the timestamp.
func (sc *Scanner) scanUnsigned(code string) []Signature {
	var sigs []Signature
	for _, re := range sc.settings.Unsigned {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			sig := Signature{
				Author:     UndatedAuthor,
				DirtyCode:  code[m[0]:m[1]],
				StartIndex: m[0],
				EndIndex:   m[1],
			}
			if len(m) >= 4 && m[2] >= 0 {
				sig.Author = normalizeUsername(code[m[2]:m[3]])
			}
			if len(m) >= 6 && m[4] >= 0 {
				sig.Timestamp = code[m[4]:m[5]]
				sig.Date, sig.DateValid = sc.settings.ParseTimestamp(sig.Timestamp)
			}
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// scanTimestamps finds plain author-link + timestamp signatures, skipping
// timestamps already covered by an unsigned template.
func (sc *Scanner) scanTimestamps(code string, covered []Signature) []Signature {
	var sigs []Signature
	for _, m := range sc.settings.Timestamp.FindAllStringIndex(code, -1) {
		if coveredBy(covered, m[0]) {
			continue
		}

		sig := Signature{
			Author:     UndatedAuthor,
			Timestamp:  code[m[0]:m[1]],
			StartIndex: m[0],
			EndIndex:   m[1],
		}
		sig.Date, sig.DateValid = sc.settings.ParseTimestamp(sig.Timestamp)

		// The author link, when present, is the last user/user-talk/contribs
		// link on the same line before the timestamp.
		ls := lineStart(code, m[0])
		if author, start, ok := sc.lastUserLink(code[ls:m[0]]); ok {
			sig.Author = author
			sig.StartIndex = ls + start
		}
		sig.DirtyCode = code[sig.StartIndex:sig.EndIndex]

		sigs = append(sigs, sig)
	}
	return sigs
}

// lastUserLink finds the author of the last user link in segment and the
// start of the trailing run of same-author links it belongs to. A signature
// commonly chains several links to the same user ("Alice (talk · contribs)");
// the whole chain belongs to the signature, not to the comment content.
func (sc *Scanner) lastUserLink(segment string) (author string, start int, ok bool) {
	type link struct {
		start, end int
		user       string
	}
	var links []link
	for _, re := range sc.settings.UserLinks {
		for _, m := range re.FindAllStringSubmatchIndex(segment, -1) {
			links = append(links, link{start: m[0], end: m[1], user: normalizeUsername(segment[m[2]:m[3]])})
		}
	}
	if len(links) == 0 {
		return "", 0, false
	}
	sort.Slice(links, func(i, j int) bool { return links[i].start < links[j].start })

	last := links[len(links)-1]
	start = last.start
	for i := len(links) - 2; i >= 0; i-- {
		// Same user, separated only by short punctuation ("(", " · ", ") ").
		if links[i].user != last.user || start-links[i].end > 30 {
			break
		}
		start = links[i].start
	}
	return last.user, start, true
}

// commentStart computes the first approximation of where the comment ending
// at sigs[i] begins: just past the previous signature's line (or the start of
// the string), then past leading blank lines and closed-discussion wrappers
// that do not belong to the comment.
func (sc *Scanner) commentStart(code string, sigs []Signature, i int) int {
	start := 0
	if i > 0 {
		start = lineEnd(code, sigs[i-1].EndIndex)
	}

	for start < sigs[i].StartIndex {
		le := lineEnd(code, start)
		line := strings.TrimRight(code[start:le], "\n")

		if strings.TrimSpace(line) == "" {
			start = le
			continue
		}
		// Headings delimit comments; the headline is matched separately by
		// the locator, never treated as comment content.
		if h := headingAt(code, start); h != nil && h.EndIndex == le {
			start = le
			continue
		}
		if sc.lineIsClosedWrapper(line) && le <= sigs[i].StartIndex {
			start = le
			continue
		}
		break
	}

	if start > sigs[i].StartIndex {
		start = sigs[i].StartIndex
	}
	return start
}

func (sc *Scanner) lineIsClosedWrapper(line string) bool {
	trimmed := strings.TrimLeft(line, ":*# ")
	for _, re := range sc.settings.ClosedBegins {
		if loc := re.FindStringIndex(trimmed); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

func coveredBy(sigs []Signature, pos int) bool {
	for _, s := range sigs {
		if pos >= s.StartIndex && pos < s.EndIndex {
			return true
		}
	}
	return false
}

// normalizeUsername canonicalizes a username from a wikilink target:
// underscores become spaces and surrounding whitespace is dropped.
func normalizeUsername(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "_", " "))
}
