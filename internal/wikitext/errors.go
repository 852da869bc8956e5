package wikitext

import "fmt"

// ParseError is the error type for every refusal this package produces. Code
// is a stable machine-readable string; callers map it to user-facing behavior
// (refetch, "comment not found", "discussion is closed", and so on).
// Ambiguity is always a hard failure here, never a best-effort guess.
type ParseError struct {
	Code    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wikitext: %s", e.Code)
	}
	return fmt.Sprintf("wikitext: %s: %s", e.Code, e.Message)
}

// Is matches any ParseError carrying the same code, so callers can use
// errors.Is with the sentinel values below even when a detailed message was
// attached.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Code == e.Code
}

// Sentinel errors, one per refusal in the taxonomy.
var (
	// ErrNoCode means the page or section markup was unavailable. The caller
	// must refetch; nothing is retried internally.
	ErrNoCode = &ParseError{Code: "noCode"}

	// ErrLocateComment means no source candidate cleared the acceptance
	// threshold for a rendered comment.
	ErrLocateComment = &ParseError{Code: "locateComment"}

	// ErrClosed means the computed reply insertion point falls inside a
	// closed discussion.
	ErrClosed = &ParseError{Code: "closed"}

	// ErrFindPlace means no safe insertion point could be determined
	// relative to an outdent marker.
	ErrFindPlace = &ParseError{Code: "findPlace"}

	// ErrDeleteRepliesInSection refuses deleting a section-opening comment
	// while the section contains other signatures.
	ErrDeleteRepliesInSection = &ParseError{Code: "delete-repliesInSection"}

	// ErrDeleteRepliesToComment refuses deleting a comment that has replies.
	ErrDeleteRepliesToComment = &ParseError{Code: "delete-repliesToComment"}
)

func parseErrorf(code, format string, args ...any) *ParseError {
	return &ParseError{Code: code, Message: fmt.Sprintf(format, args...)}
}
