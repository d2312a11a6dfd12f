package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	gistgateway "github.com/nimbus-labs/gist-gateway"
	"github.com/nimbus-labs/gist-gateway/internal/metrics"
	"github.com/nimbus-labs/gist-gateway/internal/version"
	"github.com/nimbus-labs/gist-gateway/upstream"
	"github.com/nimbus-labs/gist-gateway/web"
)

var indexTemplate = template.Must(template.ParseFS(web.Templates, "index.html"))

// handleListGists serves one page of a user's gists, from the cache when it
// can. X-Cache-Status tells the caller which it was; a no_cache=true query
// forces a fresh fetch (which still refreshes the cache).
func handleListGists(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		page, perPage := paginationParams(r.URL.Query())
		bypass := strings.EqualFold(r.URL.Query().Get("no_cache"), "true")

		res, err := gw.ListGists(r.Context(), username, page, perPage, bypass)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(strconv.Itoa(gistgateway.StatusForError(err))).Inc()
			writeFetchError(w, username, err)
			return
		}
		metrics.RequestsTotal.WithLabelValues("200").Inc()

		status := "MISS"
		if res.CacheHit {
			status = "HIT"
		}
		w.Header().Set("X-Cache-Status", status)
		writeJSON(w, http.StatusOK, gistgateway.ListResponse{
			UserGists: *res.Payload,
			Cache:     gistgateway.CacheInfo{Hit: res.CacheHit, TTLSeconds: gw.TTLSeconds()},
		})
	}
}

func handleCacheStats(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, gw.CacheStats())
	}
}

func handleCacheClear(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		removed := gw.ClearCache()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":         "Cache cleared successfully",
			"entries_removed": removed,
		})
	}
}

func handleCacheRemove(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw.RemoveKey(chi.URLParam(r, "key"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHealth(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"cache_entries": gw.CacheStats().TotalEntries,
		})
	}
}

func handleIndex(gw *gistgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexTemplate.Execute(w, struct {
			TTLSeconds int
			Version    string
		}{gw.TTLSeconds(), version.Short()})
	}
}

// paginationParams parses page and per_page together: if either value is
// malformed, both fall back to their defaults, then both are clamped to the
// upstream's 1..100 window.
func paginationParams(q url.Values) (int, int) {
	page, perPage := 1, 30
	var err error
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			return 1, 30
		}
	}
	if raw := q.Get("per_page"); raw != "" {
		if perPage, err = strconv.Atoi(raw); err != nil {
			return 1, 30
		}
	}
	return clamp(page, 1, 100), clamp(perPage, 1, 100)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// writeFetchError maps fetch errors onto the wire: a missing user is a 404,
// an upstream HTTP failure echoes the upstream's status code, and anything
// else is a 500.
func writeFetchError(w http.ResponseWriter, username string, err error) {
	var apiErr *upstream.APIError
	var notFound *upstream.NotFoundError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("User %q not found", username))
	case errors.As(err, &apiErr):
		writeError(w, apiErr.StatusCode, fmt.Sprintf("GitHub API error: %d", apiErr.StatusCode))
	default:
		writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v indented; responses are read in browsers and terminals
// as much as by machines.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
