// Package mediawiki implements the WikiClient port against the MediaWiki
// Action API.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/jwbth/convenient-discussions-sub003/internal/domain/model"
	"github.com/jwbth/convenient-discussions-sub003/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WikiClient = (*Client)(nil)

// Client implements the driven.WikiClient port over the Action API endpoint
// (typically ".../w/api.php"). Reads go through an in-memory ETag cache so
// unchanged pages cost a conditional request; writes fetch a CSRF token first.
type Client struct {
	http      *http.Client
	apiURL    string
	userAgent string
	token     string // OAuth bearer token; empty for anonymous reads.
}

// NewClient creates an Action API client with an httpcache memory-cache
// transport (ETag-based conditional request caching). token may be empty; it
// is required only for SubmitEdit and Thank.
func NewClient(apiURL, userAgent, token string) *Client {
	return &Client{
		http:      &http.Client{Transport: httpcache.NewMemoryCacheTransport(), Timeout: 30 * time.Second},
		apiURL:    apiURL,
		userAgent: userAgent,
		token:     token,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and API URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, apiURL, userAgent, token string) *Client {
	return &Client{
		http:      httpClient,
		apiURL:    apiURL,
		userAgent: userAgent,
		token:     token,
	}
}

// apiError is the error envelope the Action API returns with HTTP 200.
type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// FetchPageCode retrieves the page's current wikitext pinned to its revision.
func (c *Client) FetchPageCode(ctx context.Context, title string) (*model.PageCode, error) {
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"rvprop":  {"content|ids|timestamp"},
		"rvslots": {"main"},
		"titles":  {title},
	}

	var body struct {
		Query struct {
			Pages []struct {
				Missing   bool `json:"missing"`
				Revisions []struct {
					RevID     int64  `json:"revid"`
					Timestamp string `json:"timestamp"`
					Slots     struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		return nil, fmt.Errorf("fetching code of %q: %w", title, err)
	}

	if len(body.Query.Pages) == 0 || body.Query.Pages[0].Missing {
		return nil, fmt.Errorf("fetching code of %q: %w", title, driven.ErrPageMissing)
	}
	page := body.Query.Pages[0]
	if len(page.Revisions) == 0 {
		return nil, fmt.Errorf("fetching code of %q: no revisions returned", title)
	}
	rev := page.Revisions[0]

	fetchedAt, err := time.Parse(time.RFC3339, rev.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("fetching code of %q: parse revision timestamp: %w", title, err)
	}

	return &model.PageCode{
		Code:       rev.Slots.Main.Content,
		RevisionID: rev.RevID,
		FetchedAt:  fetchedAt,
	}, nil
}

// FetchParsedHTML retrieves the wiki's HTML rendering of the page's latest
// revision.
func (c *Client) FetchParsedHTML(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action": {"parse"},
		"page":   {title},
		"prop":   {"text"},
	}

	var body struct {
		Parse struct {
			Text string `json:"text"`
		} `json:"parse"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "missingtitle" {
			return "", fmt.Errorf("parsing %q: %w", title, driven.ErrPageMissing)
		}
		return "", fmt.Errorf("parsing %q: %w", title, err)
	}

	return body.Parse.Text, nil
}

// FetchLastRevisionID retrieves the page's latest revision ID without content.
func (c *Client) FetchLastRevisionID(ctx context.Context, title string) (int64, error) {
	params := url.Values{
		"action": {"query"},
		"prop":   {"revisions"},
		"rvprop": {"ids"},
		"titles": {title},
	}

	var body struct {
		Query struct {
			Pages []struct {
				Missing   bool `json:"missing"`
				Revisions []struct {
					RevID int64 `json:"revid"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		return 0, fmt.Errorf("probing revision of %q: %w", title, err)
	}

	if len(body.Query.Pages) == 0 || body.Query.Pages[0].Missing {
		return 0, fmt.Errorf("probing revision of %q: %w", title, driven.ErrPageMissing)
	}
	if len(body.Query.Pages[0].Revisions) == 0 {
		return 0, fmt.Errorf("probing revision of %q: no revisions returned", title)
	}

	return body.Query.Pages[0].Revisions[0].RevID, nil
}

// SubmitEdit saves newCode over the page. baseRevID anchors conflict
// detection on the server: an edit that landed after it turns into
// driven.ErrEditConflict.
func (c *Client) SubmitEdit(ctx context.Context, title, newCode, summary string, baseRevID int64) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return fmt.Errorf("editing %q: %w", title, err)
	}

	form := url.Values{
		"action":    {"edit"},
		"title":     {title},
		"text":      {newCode},
		"summary":   {summary},
		"baserevid": {strconv.FormatInt(baseRevID, 10)},
		"token":     {token},
	}

	var body struct {
		Edit struct {
			Result string `json:"result"`
		} `json:"edit"`
	}
	if err := c.post(ctx, form, &body); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "editconflict" {
			return fmt.Errorf("editing %q: %w", title, driven.ErrEditConflict)
		}
		return fmt.Errorf("editing %q: %w", title, err)
	}

	if body.Edit.Result != "Success" {
		return fmt.Errorf("editing %q: unexpected result %q", title, body.Edit.Result)
	}

	slog.Debug("edit submitted", "title", title, "base_revid", baseRevID)
	return nil
}

// Thank sends a thanks notification to the author of the given revision.
func (c *Client) Thank(ctx context.Context, revisionID int64) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return fmt.Errorf("thanking revision %d: %w", revisionID, err)
	}

	form := url.Values{
		"action": {"thank"},
		"rev":    {strconv.FormatInt(revisionID, 10)},
		"token":  {token},
	}

	var body struct {
		Result struct {
			Success int `json:"success"`
		} `json:"result"`
	}
	if err := c.post(ctx, form, &body); err != nil {
		return fmt.Errorf("thanking revision %d: %w", revisionID, err)
	}

	return nil
}

// csrfToken fetches a CSRF token for the current session. Tokens are cheap;
// fetching one per write avoids invalidation bookkeeping.
func (c *Client) csrfToken(ctx context.Context) (string, error) {
	params := url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {"csrf"},
	}

	var body struct {
		Query struct {
			Tokens struct {
				CSRFToken string `json:"csrftoken"`
			} `json:"tokens"`
		} `json:"query"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		return "", fmt.Errorf("fetching csrf token: %w", err)
	}

	if body.Query.Tokens.CSRFToken == "" {
		return "", fmt.Errorf("fetching csrf token: empty token in response")
	}

	return body.Query.Tokens.CSRFToken, nil
}

// get performs an API GET with the standard format parameters and decodes the
// response into out, surfacing the API's own error envelope as *apiError.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	withFormat(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.do(req, out)
}

// post performs an API POST form submission. Writes bypass the cache by
// nature of the method.
func (c *Client) post(ctx context.Context, form url.Values, out any) error {
	withFormat(form)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// The API reports most failures inside a 200 body.
	var envelope struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// withFormat sets the JSON format parameters every call uses.
func withFormat(params url.Values) {
	params.Set("format", "json")
	params.Set("formatversion", "2")
}
