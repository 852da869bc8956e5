package mediawiki

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/wikitext"
)

// Extractor turns the wiki's rendered HTML into the ordered comment list the
// core consumes. It is a best-effort reading of the rendering oracle's output:
// a comment is the run of block elements ending at a signature timestamp, its
// nesting level is the dl/ul/ol depth of that final block, and its author is
// the last user-page link before the timestamp.
type Extractor struct {
	settings *wikitext.Settings
	policy   *bluemonday.Policy
}

// NewExtractor creates an Extractor sharing the site settings with the core.
func NewExtractor(settings *wikitext.Settings) *Extractor {
	return &Extractor{
		settings: settings,
		policy:   bluemonday.UGCPolicy(),
	}
}

// block is one rendered block element awaiting assignment to a comment.
type block struct {
	html   string
	text   string
	level  int
	author string // Last user-page link in the block; empty if none.
}

// extraction accumulates walker state across the document.
type extraction struct {
	comments       []*model.RenderedComment
	pending        []block
	headline       string
	followsHeading bool
}

// Extract parses the rendered page HTML and returns its comments in document
// order. Settings without a timestamp pattern yield an empty list.
func (e *Extractor) Extract(pageHTML string) ([]*model.RenderedComment, error) {
	if e.settings.Timestamp == nil {
		return []*model.RenderedComment{}, nil
	}

	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	ex := &extraction{}
	e.walk(root, 0, ex)

	if ex.comments == nil {
		ex.comments = []*model.RenderedComment{}
	}
	return ex.comments, nil
}

func (e *Extractor) walk(n *html.Node, level int, ex *extraction) {
	if n.Type != html.ElementNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			e.walk(c, level, ex)
		}
		return
	}

	switch n.Data {
	case "h2", "h3", "h4", "h5", "h6":
		// A heading closes any unsigned trailing blocks and opens a section.
		ex.pending = nil
		ex.headline = strings.TrimSpace(textContent(n))
		ex.followsHeading = true

	case "dl", "ul", "ol":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			e.walk(c, level+1, ex)
		}

	case "dd", "li", "p", "div", "blockquote", "dt", "td", "th":
		e.processContainer(n, level, ex)

	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			e.walk(c, level, ex)
		}
	}
}

// processContainer treats the container's non-list content as one block and
// recurses into nested lists afterwards, so replies inside a dd come out
// after their parent in document order.
func (e *Extractor) processContainer(n *html.Node, level int, ex *extraction) {
	var htmlBuf, textBuf strings.Builder
	var nested []*html.Node
	author := ""

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			switch c.Data {
			case "dl", "ul", "ol", "p", "div", "blockquote", "table",
				"h2", "h3", "h4", "h5", "h6":
				// Nested blocks, reply lists and headings are walked on their
				// own after the container's inline content; the parser output
				// wraps the whole page in a div, so headings routinely arrive
				// here rather than as top-level siblings.
				nested = append(nested, c)
				continue
			}
		}
		_ = html.Render(&htmlBuf, c)
		textBuf.WriteString(textContent(c))
		if u := lastUserLinkIn(c); u != "" {
			author = u
		}
	}

	if strings.TrimSpace(textBuf.String()) != "" {
		e.addBlock(block{
			html:   htmlBuf.String(),
			text:   textBuf.String(),
			level:  level,
			author: author,
		}, ex)
	}

	for _, c := range nested {
		e.walk(c, level, ex)
	}
}

// addBlock appends the block and, when it carries a signature timestamp,
// closes the pending run into a comment.
func (e *Extractor) addBlock(b block, ex *extraction) {
	ex.pending = append(ex.pending, b)

	matches := e.settings.Timestamp.FindAllStringIndex(b.text, -1)
	if len(matches) == 0 {
		return
	}
	last := matches[len(matches)-1]
	ts := b.text[last[0]:last[1]]

	ex.comments = append(ex.comments, e.finalize(ex, ts, last[0]))
	ex.pending = nil
	ex.followsHeading = false
}

func (e *Extractor) finalize(ex *extraction, ts string, tsStart int) *model.RenderedComment {
	blocks := ex.pending
	final := blocks[len(blocks)-1]

	author := ""
	for _, b := range blocks {
		if b.author != "" {
			author = b.author
		}
	}
	if author == "" {
		author = wikitext.UndatedAuthor
	}

	htmls := make([]string, 0, len(blocks))
	var texts []string
	for i, b := range blocks {
		htmls = append(htmls, e.policy.Sanitize(b.html))
		text := b.text
		if i == len(blocks)-1 {
			// Cut the signature tail off the flattened text; the source side
			// of word-overlap comparison excludes signatures too.
			text = text[:tsStart]
		}
		if t := strings.TrimSpace(text); t != "" {
			texts = append(texts, t)
		}
	}

	seq := len(ex.comments)
	date, _ := e.settings.ParseTimestamp(ts)
	c := &model.RenderedComment{
		SequenceID:      seq,
		Author:          author,
		Timestamp:       ts,
		Date:            date,
		Anchor:          anchorFor(author, date, ts),
		Text:            strings.Join(texts, "\n"),
		ElementHTMLs:    htmls,
		Level:           final.level,
		SectionHeadline: ex.headline,
		FollowsHeading:  ex.followsHeading,
	}

	// The parent is the nearest preceding comment at a shallower level within
	// the same section.
	for i := seq - 1; i >= 0; i-- {
		prev := ex.comments[i]
		if prev.SectionHeadline != c.SectionHeadline {
			break
		}
		if prev.Level < c.Level {
			id := prev.SequenceID
			c.ParentSequenceID = &id
			break
		}
	}

	return c
}

// anchorFor derives a stable fragment identifier from author and timestamp,
// the same inputs the cross-revision matcher keys on.
func anchorFor(author string, date time.Time, ts string) string {
	stamp := ts
	if !date.IsZero() {
		stamp = date.Format("20060102150400")
	}
	return "c-" + strings.ReplaceAll(author, " ", "_") + "-" + strings.ReplaceAll(stamp, " ", "_")
}

// textContent flattens a node's text, matching how browsers expose innerText
// closely enough for timestamp scanning.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}

// lastUserLinkIn returns the username of the last user-page link in the
// subtree, or "".
func lastUserLinkIn(n *html.Node) string {
	name := ""
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if u := userLinkName(n); u != "" {
				name = u
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return name
}

// userLinkName extracts a username from an anchor pointing at a user,
// user-talk or contributions page.
func userLinkName(a *html.Node) string {
	var href, title string
	for _, attr := range a.Attr {
		switch attr.Key {
		case "href":
			href = attr.Val
		case "title":
			title = attr.Val
		}
	}

	for _, prefix := range []string{"User:", "User talk:"} {
		if strings.HasPrefix(title, prefix) {
			return normalizeTitleName(strings.TrimPrefix(title, prefix))
		}
	}

	path := href
	if u, err := url.Parse(href); err == nil {
		path = u.Path
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	for _, prefix := range []string{"User:", "User_talk:"} {
		if strings.HasPrefix(path, prefix) {
			return normalizeTitleName(strings.TrimPrefix(path, prefix))
		}
	}
	return ""
}

// normalizeTitleName strips subpages and fragments and canonicalizes spacing.
func normalizeTitleName(name string) string {
	if i := strings.IndexAny(name, "/#"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}
