// Package wikitext implements the comment identity resolution and source
// location engine for talk pages: extracting signatures from raw markup,
// matching rendered comments back to their markup spans, computing exact
// mutation boundaries for reply/edit/delete operations, and pairing rendered
// comments across two page revisions without a persistent identifier.
//
// Everything in this package is a pure, synchronous computation over
// immutable inputs. Components are constructed from a *Settings and hold only
// compiled patterns, so a single instance is safe for concurrent use across
// pages and tests.
package wikitext

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// UndatedAuthor is the sentinel author assigned to a signature whose
// timestamp matched but whose author link could not be resolved.
const UndatedAuthor = "<undated>"

// SettingsSpec is the raw, file-loadable form of a site's discussion
// conventions. All patterns are uncompiled regular expressions; an empty
// TimestampPattern disables signature scanning entirely (Scan returns an
// empty list, per the scanner contract).
type SettingsSpec struct {
	IndentationChar       string   `mapstructure:"indentation_char"`
	SpaceAfterIndentation bool     `mapstructure:"space_after_indentation"`
	TimestampPattern      string   `mapstructure:"timestamp_pattern"`
	TimestampLayouts      []string `mapstructure:"timestamp_layouts"`
	UserLinkPatterns      []string `mapstructure:"user_link_patterns"`
	UnsignedPatterns      []string `mapstructure:"unsigned_patterns"`
	ClosedBeginPatterns   []string `mapstructure:"closed_begin_patterns"`
	ClosedEndPatterns     []string `mapstructure:"closed_end_patterns"`
	OutdentPattern        string   `mapstructure:"outdent_pattern"`
	BadBeginningPatterns  []string `mapstructure:"bad_beginning_patterns"`
	KeepInSectionEnding   []string `mapstructure:"keep_in_section_ending"`
	SignatureTrimPatterns []string `mapstructure:"signature_trim_patterns"`
}

// Settings is the compiled site configuration shared by the scanner, locator
// and mutator. Instances own their compiled regexps; there are no
// package-level pattern caches.
type Settings struct {
	IndentationChar       string
	SpaceAfterIndentation bool

	Timestamp        *regexp.Regexp
	timestampLayouts []string
	UserLinks        []*regexp.Regexp // Capture group 1 is the username.
	Unsigned         []*regexp.Regexp // Capture group 1 is the username, optional group 2 the timestamp.
	ClosedBegins     []*regexp.Regexp
	ClosedEnds       []*regexp.Regexp
	Outdent          *regexp.Regexp
	BadBeginnings    []*regexp.Regexp
	KeepInSectionEnd []*regexp.Regexp
	SignatureTrims   []*regexp.Regexp // Anchored at end of comment content.
}

// DefaultSpec returns the conventions of an English-language MediaWiki
// installation with the usual signature, archive and outdent templates.
func DefaultSpec() SettingsSpec {
	return SettingsSpec{
		IndentationChar:       ":",
		SpaceAfterIndentation: true,
		TimestampPattern:      `\d{2}:\d{2}, \d{1,2} (?:January|February|March|April|May|June|July|August|September|October|November|December) \d{4} \([A-Z]{1,5}\)`,
		TimestampLayouts:      []string{"15:04, 2 January 2006 (MST)"},
		UserLinkPatterns: []string{
			`\[\[[Uu]ser(?:[ _]talk)?[ _]*:[ _]*([^|\]#/]+)(?:#[^|\]]*)?(?:\|[^\]]*)?\]\]`,
			`\[\[[Ss]pecial[ _]*:[ _]*Contrib(?:ution)?s/([^|\]#/]+)(?:\|[^\]]*)?\]\]`,
		},
		UnsignedPatterns: []string{
			`\{\{\s*[Uu]nsigned(?:2|[ _]?IP)?\s*\|\s*([^|}]+?)\s*(?:\|\s*([^}]*?)\s*)?\}\}`,
		},
		ClosedBeginPatterns: []string{
			`\{\{\s*(?:[Hh]idden archive top|[Hh]at|[Aa]rchive top|[Cc]losed)\b[^}]*\}\}`,
			`\{\{\s*[Dd]iscussion top\b[^}]*\}\}`,
		},
		ClosedEndPatterns: []string{
			`\{\{\s*(?:[Hh]idden archive bottom|[Hh]ab|[Aa]rchive bottom)\s*\}\}`,
			`\{\{\s*[Dd]iscussion bottom\s*\}\}`,
		},
		OutdentPattern: `\{\{\s*(?:[Oo]utdent|[Oo]d)\b[^}]*\}\}`,
		BadBeginningPatterns: []string{
			`^(?:\{\{[^}]+\}\}\s*\n)+`,
			`^(?:\[\[(?:File|Image):[^\]]+\]\]\s*\n)+`,
			`^<!--[\s\S]*?-->\s*\n`,
		},
		KeepInSectionEnding: []string{
			`\n+(?:\{\{(?:--|[Bb]ottom)[^}]*\}\}\s*)+$`,
			`\n+<!--[\s\S]*?-->\s*$`,
		},
		SignatureTrimPatterns: []string{
			`'+$`,
			`(?:</(?:small|span|sub|sup|i|b|font)>)+$`,
			`\{\{\s*z\|[^}]*$`,
			`<small[^>]*>$`,
		},
	}
}

// NewSettings compiles a SettingsSpec. Every invalid pattern is reported with
// the field it came from.
func NewSettings(spec SettingsSpec) (*Settings, error) {
	s := &Settings{
		IndentationChar:       spec.IndentationChar,
		SpaceAfterIndentation: spec.SpaceAfterIndentation,
		timestampLayouts:      spec.TimestampLayouts,
	}
	if s.IndentationChar == "" {
		s.IndentationChar = ":"
	}

	if spec.TimestampPattern != "" {
		re, err := regexp.Compile(spec.TimestampPattern)
		if err != nil {
			return nil, fmt.Errorf("compile timestamp_pattern: %w", err)
		}
		s.Timestamp = re
	}

	compile := func(field string, patterns []string) ([]*regexp.Regexp, error) {
		res := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile %s %q: %w", field, p, err)
			}
			res = append(res, re)
		}
		return res, nil
	}

	var err error
	if s.UserLinks, err = compile("user_link_patterns", spec.UserLinkPatterns); err != nil {
		return nil, err
	}
	if s.Unsigned, err = compile("unsigned_patterns", spec.UnsignedPatterns); err != nil {
		return nil, err
	}
	if s.ClosedBegins, err = compile("closed_begin_patterns", spec.ClosedBeginPatterns); err != nil {
		return nil, err
	}
	if s.ClosedEnds, err = compile("closed_end_patterns", spec.ClosedEndPatterns); err != nil {
		return nil, err
	}
	if spec.OutdentPattern != "" {
		if s.Outdent, err = regexp.Compile(spec.OutdentPattern); err != nil {
			return nil, fmt.Errorf("compile outdent_pattern: %w", err)
		}
	}
	if s.BadBeginnings, err = compile("bad_beginning_patterns", spec.BadBeginningPatterns); err != nil {
		return nil, err
	}
	if s.KeepInSectionEnd, err = compile("keep_in_section_ending", spec.KeepInSectionEnding); err != nil {
		return nil, err
	}
	if s.SignatureTrims, err = compile("signature_trim_patterns", spec.SignatureTrimPatterns); err != nil {
		return nil, err
	}

	return s, nil
}

// DefaultSettings compiles DefaultSpec. The default patterns are tested, so a
// compile failure here is a programming error.
func DefaultSettings() *Settings {
	s, err := NewSettings(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return s
}

// LoadSettings reads a SettingsSpec from a YAML or JSON file and compiles it.
// Fields absent from the file fall back to DefaultSpec values.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read site settings %s: %w", path, err)
	}

	spec := DefaultSpec()
	if err := v.Unmarshal(&spec); err != nil {
		return nil, fmt.Errorf("parse site settings %s: %w", path, err)
	}

	return NewSettings(spec)
}

// ParseTimestamp parses a source-faithful timestamp string using the
// configured layouts. ok is false when no layout matches; the signature then
// carries a zero Date but remains usable for string comparison.
func (s *Settings) ParseTimestamp(ts string) (time.Time, bool) {
	layouts := s.timestampLayouts
	if len(layouts) == 0 {
		layouts = []string{"15:04, 2 January 2006 (MST)"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IndentationRun returns the leading run of indentation characters
// (":", "*", "#") of a line.
func IndentationRun(line string) string {
	i := 0
	for i < len(line) && (line[i] == ':' || line[i] == '*' || line[i] == '#') {
		i++
	}
	return line[:i]
}

// ReplyPrefix renders the indentation prefix for a new reply, including the
// configured space after the indentation run when enabled.
func (s *Settings) ReplyPrefix(indentation string) string {
	if s.SpaceAfterIndentation && indentation != "" {
		return indentation + " "
	}
	return indentation
}

// closedSpan is one closed-discussion region of a markup string, as byte
// offsets. End is exclusive and extends through the closing template.
type closedSpan struct {
	Start int
	End   int
}

// closedSpans finds every closed-discussion span in code by pairing begin and
// end templates in document order. An unterminated begin template closes at
// the end of the string.
func (s *Settings) closedSpans(code string) []closedSpan {
	var marks []spanMark
	for _, re := range s.ClosedBegins {
		for _, m := range re.FindAllStringIndex(code, -1) {
			marks = append(marks, spanMark{pos: m[0], end: m[1], begin: true})
		}
	}
	for _, re := range s.ClosedEnds {
		for _, m := range re.FindAllStringIndex(code, -1) {
			marks = append(marks, spanMark{pos: m[0], end: m[1]})
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].pos < marks[j].pos })

	var spans []closedSpan
	depth := 0
	start := 0
	for _, m := range marks {
		if m.begin {
			if depth == 0 {
				start = m.pos
			}
			depth++
			continue
		}
		if depth > 0 {
			depth--
			if depth == 0 {
				spans = append(spans, closedSpan{Start: start, End: m.end})
			}
		}
	}
	if depth > 0 {
		spans = append(spans, closedSpan{Start: start, End: len(code)})
	}
	return spans
}

type spanMark struct {
	pos   int
	end   int
	begin bool
}

// inClosedSpan reports whether offset lies strictly inside any of the spans.
func inClosedSpan(spans []closedSpan, offset int) bool {
	for _, sp := range spans {
		if offset > sp.Start && offset < sp.End {
			return true
		}
	}
	return false
}

// lineStart returns the offset of the first byte of the line containing pos.
func lineStart(code string, pos int) int {
	if pos > len(code) {
		pos = len(code)
	}
	i := strings.LastIndexByte(code[:pos], '\n')
	return i + 1
}

// lineEnd returns the offset one past the line containing pos, including its
// trailing newline when present.
func lineEnd(code string, pos int) int {
	if pos >= len(code) {
		return len(code)
	}
	i := strings.IndexByte(code[pos:], '\n')
	if i < 0 {
		return len(code)
	}
	return pos + i + 1
}
