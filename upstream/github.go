package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// GitHub fetches public gists from the GitHub REST API.
type GitHub struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewGitHub creates a GitHub fetcher. Pass "" for baseURL to use the public
// API. A non-empty token authenticates requests via a bearer token source,
// which raises the rate limit from 60 to 5000 requests per hour; anonymous
// access works fine otherwise.
func NewGitHub(baseURL, userAgent, token string, timeout time.Duration) *GitHub {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := &http.Client{}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = oauth2.NewClient(context.Background(), src)
	}
	client.Timeout = timeout

	return &GitHub{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: client,
	}
}

type githubErrorResponse struct {
	Message string `json:"message"`
}

// UserGists fetches one page of username's public gists.
func (g *GitHub) UserGists(ctx context.Context, username string, page, perPage int) (*Listing, error) {
	endpoint := fmt.Sprintf("%s/users/%s/gists?page=%d&per_page=%d",
		g.baseURL, url.PathEscape(username), page, perPage)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	// GitHub rejects requests without a User-Agent.
	httpReq.Header.Set("User-Agent", g.userAgent)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Username: username}
	}
	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode}
		var errResp githubErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Message = errResp.Message
		}
		return nil, apiErr
	}

	var gists []Gist
	if err := json.Unmarshal(respBody, &gists); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &Listing{
		Gists:     gists,
		RateLimit: parseRateLimit(httpResp.Header),
	}, nil
}

// parseRateLimit reads GitHub's quota headers; malformed or missing values
// leave the corresponding signal nil.
func parseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = &n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(sec, 0).UTC()
			rl.ResetAt = &t
		}
	}
	return rl
}
