package gistgateway

import (
	"fmt"
	"sort"
	"time"

	"github.com/nimbus-labs/gist-gateway/upstream"
)

// NoDescription is substituted for gists whose upstream description is null
// or empty.
const NoDescription = "No description"

// Gist is one formatted gist record as the gateway serves it.
type Gist struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Files       []string  `json:"files"`
	FileCount   int       `json:"file_count"`
	Public      bool      `json:"public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Comments    int       `json:"comments"`
}

// Pagination describes the requested window. The listing endpoint exposes no
// total count, so HasNext is inferred from the page being full; a final page
// of exactly per_page records reports one phantom next page.
type Pagination struct {
	CurrentPage int  `json:"current_page"`
	PerPage     int  `json:"per_page"`
	HasNext     bool `json:"has_next"`
	NextPage    *int `json:"next_page"`
	PrevPage    *int `json:"prev_page"`
}

// RateLimit carries the upstream quota signals into the response envelope.
// Fields are null when the upstream did not report them.
type RateLimit struct {
	Remaining *int       `json:"remaining"`
	ResetAt   *time.Time `json:"reset_at"`
}

// UserGists is the cacheable body of a listing response: everything except
// the per-response cache annotation. Stored values are treated as immutable
// once built.
type UserGists struct {
	Username   string     `json:"username"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	GistCount  int        `json:"gist_count"`
	Gists      []Gist     `json:"gists"`
	Pagination Pagination `json:"pagination"`
	RateLimit  RateLimit  `json:"rate_limit"`
}

// CacheInfo annotates one response with how the cache treated it.
type CacheInfo struct {
	Hit        bool `json:"hit"`
	TTLSeconds int  `json:"ttl_seconds"`
}

// ListResponse is the wire shape of a gist listing: the cached body plus the
// read-time cache annotation. The annotation is deliberately built here and
// never stored, so marking one response a hit cannot leak into the cached
// entry that later responses are served from.
type ListResponse struct {
	UserGists
	Cache CacheInfo `json:"cache"`
}

// CacheKey derives the cache key for one (username, page, perPage) window.
// All three values participate, so two different windows never share a key;
// GitHub usernames cannot contain ':'.
func CacheKey(username string, page, perPage int) string {
	return fmt.Sprintf("%s:page%d:per_page%d", username, page, perPage)
}

// FormatGists converts raw upstream records into the gateway's wire shape.
// File names are sorted so the same gist renders identically on every
// request regardless of upstream map order.
func FormatGists(raw []upstream.Gist) []Gist {
	formatted := make([]Gist, 0, len(raw))
	for _, g := range raw {
		files := make([]string, 0, len(g.Files))
		for name := range g.Files {
			files = append(files, name)
		}
		sort.Strings(files)

		description := g.Description
		if description == "" {
			description = NoDescription
		}

		formatted = append(formatted, Gist{
			ID:          g.ID,
			Description: description,
			URL:         g.HTMLURL,
			Files:       files,
			FileCount:   len(files),
			Public:      g.Public,
			CreatedAt:   g.CreatedAt,
			UpdatedAt:   g.UpdatedAt,
			Comments:    g.Comments,
		})
	}
	return formatted
}

// NewPagination computes the pagination block for a page holding pageLen
// records.
func NewPagination(page, perPage, pageLen int) Pagination {
	p := Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		HasNext:     pageLen == perPage,
	}
	if p.HasNext {
		next := page + 1
		p.NextPage = &next
	}
	if page > 1 {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}
