package httphandler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

var (
	digestRenderer  goldmark.Markdown
	digestSanitizer *bluemonday.Policy
)

func init() {
	digestRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
	)

	digestSanitizer = bluemonday.UGCPolicy()
}

// Digest renders the most recent events across all watched pages as an HTML
// page. The markdown source is assembled from event data and sanitized after
// rendering because comment text is user-generated.
func (h *Handler) Digest(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list recent events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var buf bytes.Buffer
	if err := digestRenderer.Convert([]byte(digestMarkdown(events)), &buf); err != nil {
		h.logger.Error("failed to render digest", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(digestSanitizer.Sanitize(buf.String())))
}

// digestMarkdown builds the markdown source for the digest page.
func digestMarkdown(events []model.Event) string {
	var b strings.Builder
	b.WriteString("# Recent discussion activity\n\n")

	if len(events) == 0 {
		b.WriteString("No activity recorded yet.\n")
		return b.String()
	}

	for _, e := range events {
		fmt.Fprintf(&b, "- **%s** %s", e.Kind, e.Author)
		if e.SectionHeadline != "" {
			fmt.Fprintf(&b, " in *%s*", e.SectionHeadline)
		}
		if e.Uncertain {
			b.WriteString(" (uncertain)")
		}
		if e.Text != "" {
			fmt.Fprintf(&b, ": %s", excerpt(e.Text, 120))
		}
		b.WriteByte('\n')
	}

	return b.String()
}

// excerpt shortens s to at most n runes, appending an ellipsis when cut.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
