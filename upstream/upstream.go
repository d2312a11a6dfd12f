// Package upstream defines the Fetcher contract for retrieving a user's
// public gists from the hosting API, together with the raw record types and
// the error taxonomy callers dispatch on.
//
// The one implementation is GitHub. Handlers never retry a failed fetch;
// errors are classified here and surfaced directly.
package upstream

import (
	"context"
	"fmt"
	"time"
)

// Fetcher retrieves one page of a user's public gists.
type Fetcher interface {
	UserGists(ctx context.Context, username string, page, perPage int) (*Listing, error)
}

// Listing is one fetched page of gists plus whatever rate-limit metadata the
// API reported alongside it.
type Listing struct {
	Gists     []Gist
	RateLimit RateLimit
}

// RateLimit carries the quota signals from the API's rate-limit headers.
// A nil field means the API did not report that signal.
type RateLimit struct {
	Remaining *int
	ResetAt   *time.Time
}

// Gist is a raw gist record as the API returns it. Only the fields the
// gateway consumes are decoded; a null description decodes to "".
type Gist struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	HTMLURL     string              `json:"html_url"`
	Files       map[string]GistFile `json:"files"`
	Public      bool                `json:"public"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Comments    int                 `json:"comments"`
}

// GistFile describes a single file within a gist.
type GistFile struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Language string `json:"language"`
	RawURL   string `json:"raw_url"`
	Size     int64  `json:"size"`
}

// NotFoundError reports that the requested user does not exist upstream.
type NotFoundError struct {
	Username string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.Username)
}

// APIError reports any other upstream HTTP failure, carrying the status code
// the API answered with. Message is the upstream error body's message when
// one could be decoded; it is meant for logs, not for client responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("github API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github API error (%d)", e.StatusCode)
}
