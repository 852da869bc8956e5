package wikitext

import "strings"

// Mutator computes new page source for reply, edit and delete operations
// against a located comment. Every operation is all-or-nothing: on failure no
// output is produced and the input string is untouched.
type Mutator struct {
	settings *Settings
	scanner  *Scanner
}

// NewMutator creates a Mutator over the given compiled site settings.
func NewMutator(settings *Settings) *Mutator {
	return &Mutator{settings: settings, scanner: NewScanner(settings)}
}

// placeholder overwrites spans that must not influence the insertion-point
// scan (closed discussions, HTML comments). Newlines are preserved so line
// offsets stay identical to the original string.
const placeholder = '\x01'

// Reply returns the page source with replyText inserted as a child reply to
// the located comment.
//
// The insertion point comes after any contiguous run of other signed
// comments, closed-discussion wrappers and HTML-comment lines indented at
// least as deeply as the reply, so the new reply lands after the last
// existing reply at or below the target level rather than interleaved.
// It fails with ErrClosed when the insertion point falls inside a closed
// discussion and with ErrFindPlace when an outdent marker at or above the
// target depth stands in the way.
func (m *Mutator) Reply(located *LocatedComment, code, replyText string) (string, error) {
	spans := m.settings.closedSpans(code)
	adjusted := blankSpans(code, spans)

	if inClosedSpan(spans, located.Signature.EndIndex) {
		return "", parseErrorf("closed", "comment by %s lies inside a closed discussion", located.Comment.Author)
	}

	indent := located.ReplyIndentation
	insertion := lineEnd(code, located.Signature.EndIndex)

	pos := insertion
	for pos < len(adjusted) {
		le := lineEnd(adjusted, pos)
		line := strings.TrimRight(adjusted[pos:le], "\n")

		if strings.TrimSpace(strings.Map(dropPlaceholder, line)) == "" && strings.ContainsRune(line, placeholder) {
			// A blanked closed-discussion or HTML-comment line continues the
			// reply block.
			pos = le
			insertion = le
			continue
		}
		if strings.TrimSpace(line) == "" {
			break
		}

		run := IndentationRun(line)

		if m.settings.Outdent != nil {
			rest := code[pos+len(run) : lineEnd(code, pos)]
			if loc := m.settings.Outdent.FindStringIndex(rest); loc != nil && loc[0] == 0 {
				if len(run) <= len(indent) {
					return "", parseErrorf("findPlace", "outdent marker at depth %d blocks a reply at depth %d", len(run), len(indent))
				}
			}
		}

		if len(run) < len(indent) {
			break
		}
		pos = le
		insertion = le
	}

	if inClosedSpan(spans, insertion) {
		return "", parseErrorf("closed", "reply insertion point falls inside a closed discussion")
	}

	reply := m.settings.ReplyPrefix(indent) + strings.TrimRight(replyText, "\n") + "\n"

	var b strings.Builder
	b.Grow(len(code) + len(reply) + 1)
	b.WriteString(code[:insertion])
	if insertion > 0 && code[insertion-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString(reply)
	b.WriteString(code[insertion:])
	return b.String(), nil
}

// Edit returns the page source with the comment's span — from the start of
// its first line through the end of its signature — replaced by newCode.
// newCode must carry the preserved signature; the mutator does not
// reconstruct it.
func (m *Mutator) Edit(located *LocatedComment, code, newCode string) (string, error) {
	return code[:located.LineStartIndex] + newCode + code[located.Signature.EndIndex:], nil
}

// Delete returns the page source with the located comment removed. A
// section-opening comment takes its whole section along; any other comment is
// removed alone. Deletion is refused when dependent content exists:
// ErrDeleteRepliesToComment when the comment has replies beneath it, and
// ErrDeleteRepliesInSection when a section still contains other signatures.
func (m *Mutator) Delete(located *LocatedComment, code string) (string, error) {
	if located.Heading != nil {
		return m.deleteSection(located, code)
	}
	return m.deleteReply(located, code)
}

func (m *Mutator) deleteReply(located *LocatedComment, code string) (string, error) {
	// A directly following line indented deeper than the comment is a reply.
	pos := lineEnd(code, located.Signature.EndIndex)
	for pos < len(code) {
		le := lineEnd(code, pos)
		line := strings.TrimRight(code[pos:le], "\n")
		if strings.TrimSpace(line) == "" {
			pos = le
			continue
		}
		if len(IndentationRun(line)) > len(located.OriginalIndentation) {
			return "", parseErrorf("delete-repliesToComment", "comment by %s has replies", located.Comment.Author)
		}
		break
	}

	end := lineEnd(code, located.Signature.EndIndex)
	return code[:located.LineStartIndex] + code[end:], nil
}

func (m *Mutator) deleteSection(located *LocatedComment, code string) (string, error) {
	start := located.Heading.StartIndex
	end := m.sectionEnd(code, located.Heading)

	if sigs := m.scanner.Scan(code[start:end]); len(sigs) > 1 {
		return "", parseErrorf("delete-repliesInSection", "section %q contains %d signatures", located.Heading.HeadlineCode, len(sigs))
	}

	// Content configured to stay with the section ending (archival markers,
	// trailing HTML comments) survives the deletion.
	for _, re := range m.settings.KeepInSectionEnd {
		if loc := re.FindStringIndex(code[start:end]); loc != nil && start+loc[1] == end {
			end = start + loc[0]
		}
	}

	return code[:start] + code[end:], nil
}

// sectionEnd returns the offset one past the section opened by h: the start
// of the next heading of the same or higher level, or the end of the page.
func (m *Mutator) sectionEnd(code string, h *HeadingMatch) int {
	pos := h.EndIndex
	for pos < len(code) {
		if next := headingAt(code, pos); next != nil && next.Level <= h.Level {
			return pos
		}
		pos = lineEnd(code, pos)
	}
	return len(code)
}

// blankSpans replaces every byte of the given spans, and of HTML comments,
// with the placeholder byte, preserving newlines and total length.
func blankSpans(code string, spans []closedSpan) string {
	b := []byte(code)
	blank := func(start, end int) {
		for i := start; i < end && i < len(b); i++ {
			if b[i] != '\n' {
				b[i] = placeholder
			}
		}
	}
	for _, sp := range spans {
		blank(sp.Start, sp.End)
	}
	for _, m := range htmlCommentRe.FindAllStringIndex(code, -1) {
		blank(m[0], m[1])
	}
	return string(b)
}

func dropPlaceholder(r rune) rune {
	if r == placeholder {
		return -1
	}
	return r
}
