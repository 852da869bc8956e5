package wikitext

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRe matches word tokens considered significant for overlap scoring.
// Tokens shorter than three letters carry too little signal and are ignored.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}]{3,}`)

// WordOverlap computes the symmetric token-set overlap of two texts:
// 2·|A∩B| / (|A|+|B|) over unique lowercased tokens. It is deliberately a set
// measure rather than an edit distance, so it is robust to reordering and to
// markup noise. Two texts with no significant tokens at all overlap fully;
// one empty side overlaps not at all.
func WordOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	common := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(setA)+len(setB))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(text, -1) {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

var (
	templateRe    = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	wikilinkRe    = regexp.MustCompile(`\[\[(?:[^|\]]*\|)?([^\]]*)\]\]`)
	extLinkRe     = regexp.MustCompile(`\[\S+ ([^\]]+)\]`)
	htmlTagRe     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	htmlCommentRe = regexp.MustCompile(`<!--[\s\S]*?-->`)
	quoteMarksRe  = regexp.MustCompile(`'{2,}`)
	headingLineRe = regexp.MustCompile(`^=+[^=]*=+$`)
)

// StripMarkup reduces a wikitext fragment to approximately its rendered text,
// good enough for token-overlap comparison against a rendered comment's
// flattened text. It is not a parser: templates are dropped wholesale, links
// keep their labels, tags and quote markup are removed, and indentation runs
// are stripped per line.
func StripMarkup(code string) string {
	text := htmlCommentRe.ReplaceAllString(code, "")
	// Templates may nest one level; two passes cover the common cases.
	text = templateRe.ReplaceAllString(text, "")
	text = templateRe.ReplaceAllString(text, "")
	text = wikilinkRe.ReplaceAllString(text, "$1")
	text = extLinkRe.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = quoteMarksRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimLeft(line, ":*#")
		line = strings.TrimFunc(line, unicode.IsSpace)
		if headingLineRe.MatchString(line) {
			line = ""
		}
		lines[i] = line
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
