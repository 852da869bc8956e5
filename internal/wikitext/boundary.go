package wikitext

import (
	"strings"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// adjustBoundaries turns the winning candidate into a LocatedComment with
// exact content boundaries: a leading section heading is stripped (and
// recorded), configured bad beginnings are skipped, the indentation run is
// separated from the content, and trailing markup that belongs to the
// signature is moved into it.
func (l *Locator) adjustBoundaries(code string, comment *model.RenderedComment, c candidate) (*LocatedComment, error) {
	start := c.sig.CommentStartIndex
	sig := c.sig

	located := &LocatedComment{
		Comment:   comment,
		Signature: sig,
		Score:     c.score,
	}

	if h := headingAt(code, start); h != nil {
		located.Heading = h
		start = h.EndIndex
	} else if comment.FollowsHeading {
		if h := findHeadingBefore(code, start); h != nil {
			located.Heading = h
		}
	}

	start = l.skipBadBeginnings(code, start, sig.StartIndex)
	located.LineStartIndex = lineStart(code, start)

	if comment.Level > 0 {
		indent := IndentationRun(code[start:sig.StartIndex])
		start += len(indent)

		// Malformed case: the indentation run can absorb a numbered-list "#"
		// that is really the first content character. Repair by giving the
		// "#" back to the content and recording the run one ":"-level deeper.
		if strings.HasSuffix(indent, "#") && len(indent) > comment.Level {
			start--
			indent = indent[:len(indent)-1] + l.settings.IndentationChar
		}
		located.OriginalIndentation = indent
	}

	located.Code = code[start:sig.StartIndex]
	located.CodeStartIndex = start
	l.trimSignature(located)
	located.ReplyIndentation = l.replyIndentation(located, comment)

	return located, nil
}

// skipBadBeginnings advances past configured template/file-link lines that
// precede the comment but are not part of it. limit caps the advance at the
// signature start.
func (l *Locator) skipBadBeginnings(code string, start, limit int) int {
	for {
		advanced := false
		for _, re := range l.settings.BadBeginnings {
			m := re.FindStringIndex(code[start:limit])
			if m != nil && m[0] == 0 && m[1] > 0 {
				start += m[1]
				advanced = true
			}
		}
		if !advanced {
			return start
		}
	}
}

// trimSignature moves trailing markup that visually belongs to the signature
// (closing quote runs, inline closing tags, opening small-font wrappers,
// truncated signature templates) from the comment's content into the
// signature's dirty code, keeping content boundaries exact for the mutator.
func (l *Locator) trimSignature(located *LocatedComment) {
	for {
		trimmed := false

		// Trailing spaces and tabs always travel with the signature.
		if n := len(located.Code) - len(strings.TrimRight(located.Code, " \t")); n > 0 {
			l.moveIntoSignature(located, n)
			trimmed = true
		}

		for _, re := range l.settings.SignatureTrims {
			m := re.FindStringIndex(located.Code)
			if m == nil || m[1] != len(located.Code) || m[1] == m[0] {
				continue
			}
			l.moveIntoSignature(located, m[1]-m[0])
			trimmed = true
		}

		if !trimmed {
			return
		}
	}
}

func (l *Locator) moveIntoSignature(located *LocatedComment, n int) {
	cut := len(located.Code) - n
	moved := located.Code[cut:]
	located.Code = located.Code[:cut]
	located.Signature.StartIndex -= n
	located.Signature.DirtyCode = moved + located.Signature.DirtyCode
}

// replyIndentation derives the indentation a child reply must use: one level
// deeper than the comment, unless the comment's own last line already carries
// a deeper indentation run (inline nested replies) — sibling replies must
// match that run instead.
func (l *Locator) replyIndentation(located *LocatedComment, comment *model.RenderedComment) string {
	base := located.OriginalIndentation + l.settings.IndentationChar

	lastLine := located.Code
	if i := strings.LastIndexByte(located.Code, '\n'); i >= 0 {
		lastLine = located.Code[i+1:]
	}
	if run := IndentationRun(lastLine); len(run) > len(located.OriginalIndentation) {
		return run
	}
	return base
}
