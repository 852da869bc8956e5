package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// PageResponse is the JSON representation of a watched page.
type PageResponse struct {
	Title          string `json:"title"`
	LastRevisionID int64  `json:"last_revision_id"`
	LastPolledAt   string `json:"last_polled_at,omitempty"`
	AddedAt        string `json:"added_at"`
}

// CommentResponse is the JSON representation of a comment from the last
// completed poll of a page.
type CommentResponse struct {
	SequenceID       int    `json:"sequence_id"`
	Author           string `json:"author"`
	Timestamp        string `json:"timestamp"`
	Date             string `json:"date"`
	Anchor           string `json:"anchor"`
	Text             string `json:"text"`
	Level            int    `json:"level"`
	ParentSequenceID *int   `json:"parent_sequence_id,omitempty"`
	SectionHeadline  string `json:"section_headline"`
	FollowsHeading   bool   `json:"follows_heading"`
}

// EventResponse is the JSON representation of a detected change.
type EventResponse struct {
	Kind            string `json:"kind"`
	RevisionID      int64  `json:"revision_id"`
	Author          string `json:"author"`
	Anchor          string `json:"anchor"`
	SectionHeadline string `json:"section_headline"`
	Text            string `json:"text"`
	Uncertain       bool   `json:"uncertain"`
	DetectedAt      string `json:"detected_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// AddPageRequest is the JSON body for the add page endpoint.
type AddPageRequest struct {
	Title string `json:"title"`
}

// ReplyRequest is the JSON body for the reply endpoint. Text is the reply
// content without indentation; the signature placeholder is appended when
// absent.
type ReplyRequest struct {
	SequenceID int    `json:"sequence_id"`
	Text       string `json:"text"`
	Summary    string `json:"summary"`
}

// EditRequest is the JSON body for the edit endpoint. Text replaces the
// comment's content; indentation and signature are preserved.
type EditRequest struct {
	SequenceID int    `json:"sequence_id"`
	Text       string `json:"text"`
	Summary    string `json:"summary"`
}

// DeleteRequest is the JSON body for the delete endpoint.
type DeleteRequest struct {
	SequenceID int    `json:"sequence_id"`
	Summary    string `json:"summary"`
}

// ThankRequest is the JSON body for the thanks endpoint.
type ThankRequest struct {
	RevisionID int64 `json:"revision_id"`
}

// toPageResponse converts a domain Page to its JSON response representation.
func toPageResponse(p model.Page) PageResponse {
	resp := PageResponse{
		Title:          p.Title,
		LastRevisionID: p.LastRevisionID,
		AddedAt:        p.AddedAt.UTC().Format(time.RFC3339),
	}
	if !p.LastPolledAt.IsZero() {
		resp.LastPolledAt = p.LastPolledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toCommentResponse converts a persisted comment snapshot to its JSON
// response representation.
func toCommentResponse(c model.CommentSnapshot) CommentResponse {
	return CommentResponse{
		SequenceID:       c.SequenceID,
		Author:           c.Author,
		Timestamp:        c.Timestamp,
		Date:             c.Date.UTC().Format(time.RFC3339),
		Anchor:           c.Anchor,
		Text:             c.Text,
		Level:            c.Level,
		ParentSequenceID: c.ParentSequenceID,
		SectionHeadline:  c.SectionHeadline,
		FollowsHeading:   c.FollowsHeading,
	}
}

// toEventResponse converts a domain Event to its JSON response representation.
func toEventResponse(e model.Event) EventResponse {
	return EventResponse{
		Kind:            string(e.Kind),
		RevisionID:      e.RevisionID,
		Author:          e.Author,
		Anchor:          e.Anchor,
		SectionHeadline: e.SectionHeadline,
		Text:            e.Text,
		Uncertain:       e.Uncertain,
		DetectedAt:      e.DetectedAt.UTC().Format(time.RFC3339),
	}
}
