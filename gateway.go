// Package gistgateway implements a caching HTTP gateway for a user's public
// gists.
//
// The Gateway type is the main entry point: create one with New around an
// upstream.Fetcher, then serve pages with ListGists. Fetched pages are held
// in an in-memory TTL cache keyed by (username, page, per_page); expired
// entries are dropped lazily on read, with an optional background sweep via
// StartCacheJanitor.
//
// Behaviour is configured via [Config], which can be loaded from a YAML or
// JSON file using [LoadConfig].
package gistgateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nimbus-labs/gist-gateway/internal/cache"
	"github.com/nimbus-labs/gist-gateway/internal/circuitbreaker"
	"github.com/nimbus-labs/gist-gateway/internal/logging"
	"github.com/nimbus-labs/gist-gateway/internal/metrics"
	"github.com/nimbus-labs/gist-gateway/upstream"
	"golang.org/x/sync/singleflight"
)

// EventHookFunc is called asynchronously after a gateway event (request
// completed or failed). Hooks receive a snapshot of the request outcome and
// must not block the caller.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Event subject constants used when invoking gateway hooks.
const (
	SubjectRequestCompleted = "gateway.request.completed"
	SubjectRequestFailed    = "gateway.request.failed"
)

// Result is the outcome of one listing request.
type Result struct {
	// Payload is shared with the cache and must be treated as read-only.
	Payload  *UserGists
	CacheHit bool
}

// Gateway serves gist pages from the cache, fetching from the upstream on a
// miss. It is safe for concurrent use.
type Gateway struct {
	mu      sync.RWMutex
	config  Config
	fetcher upstream.Fetcher
	cache   *cache.Memory[*UserGists]
	group   singleflight.Group
	breaker *circuitbreaker.CircuitBreaker
	hooks   []EventHookFunc
}

// New creates a Gateway that serves gists through fetcher, caching pages for
// cfg.Cache.TTL(). A circuit breaker guards the upstream only when
// cfg.CircuitBreaker is set.
func New(cfg Config, fetcher upstream.Fetcher) *Gateway {
	g := &Gateway{
		config:  cfg,
		fetcher: fetcher,
		cache:   cache.NewMemory[*UserGists](cfg.Cache.TTL()),
	}
	if cfg.CircuitBreaker != nil {
		g.breaker = circuitbreaker.New(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.Cooldown())
	}
	return g
}

// AddHook registers an EventHookFunc that is called asynchronously on each
// completed or failed request. Multiple hooks may be registered; all are
// invoked for every event.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// StartCacheJanitor starts the background sweep that drops expired cache
// entries, running until ctx is cancelled. It is a no-op when no sweep
// interval is configured; lazy expiry on read keeps the cache correct
// either way.
func (g *Gateway) StartCacheJanitor(ctx context.Context) {
	interval := g.config.Cache.SweepInterval()
	if interval <= 0 {
		return
	}
	g.cache.StartJanitor(ctx, interval)
}

// ListGists returns one page of a user's public gists. The cache is
// consulted first unless bypassCache is set; either way a successful
// upstream fetch refreshes the cached entry for the page.
func (g *Gateway) ListGists(ctx context.Context, username string, page, perPage int, bypassCache bool) (*Result, error) {
	start := time.Now()
	log := logging.FromContext(ctx)
	key := CacheKey(username, page, perPage)

	var (
		payload     *UserGists
		err         error
		cacheResult = "miss"
	)
	if bypassCache {
		cacheResult = "bypass"
		payload, err = g.fetchAndStore(ctx, key, username, page, perPage)
	} else if cached, ok := g.cache.Get(key); ok {
		cacheResult = "hit"
		payload = cached
	} else {
		// Collapse concurrent misses for one key into a single upstream
		// fetch. No cache lock is held while the fetch is in flight.
		v, fetchErr, _ := g.group.Do(key, func() (interface{}, error) {
			return g.fetchAndStore(ctx, key, username, page, perPage)
		})
		if fetchErr != nil {
			err = fetchErr
		} else {
			payload = v.(*UserGists)
		}
	}
	metrics.CacheLookups.WithLabelValues(cacheResult).Inc()
	latency := time.Since(start)

	if err != nil {
		log.Error("listing failed",
			"username", username,
			"page", page,
			"per_page", perPage,
			"cache", cacheResult,
			"latency_ms", latency.Milliseconds(),
			"error", err.Error(),
		)

		g.publishEvent(ctx, SubjectRequestFailed, map[string]interface{}{
			"trace_id":   logging.TraceIDFromContext(ctx),
			"username":   username,
			"page":       page,
			"per_page":   perPage,
			"cache":      cacheResult,
			"status":     StatusForError(err),
			"error":      err.Error(),
			"latency_ms": latency.Milliseconds(),
			"timestamp":  time.Now(),
		})
		return nil, err
	}

	log.Info("listing served",
		"username", username,
		"page", page,
		"per_page", perPage,
		"cache", cacheResult,
		"gists", payload.GistCount,
		"latency_ms", latency.Milliseconds(),
	)

	g.publishEvent(ctx, SubjectRequestCompleted, map[string]interface{}{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"username":   username,
		"page":       page,
		"per_page":   perPage,
		"cache":      cacheResult,
		"status":     http.StatusOK,
		"gist_count": payload.GistCount,
		"latency_ms": latency.Milliseconds(),
		"timestamp":  time.Now(),
	})

	return &Result{Payload: payload, CacheHit: cacheResult == "hit"}, nil
}

// fetchAndStore performs one upstream fetch and, on success, inserts the
// built page payload under key. The payload is never modified after
// insertion, so cached reads can share it without copying.
func (g *Gateway) fetchAndStore(ctx context.Context, key, username string, page, perPage int) (*UserGists, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		return nil, circuitbreaker.ErrCircuitOpen
	}

	start := time.Now()
	listing, err := g.fetcher.UserGists(ctx, username, page, perPage)
	metrics.UpstreamRequestDuration.WithLabelValues(upstreamOutcome(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		// A 404 is the upstream answering normally; only real failures
		// count against the breaker.
		var notFound *upstream.NotFoundError
		if g.breaker != nil && !errors.As(err, &notFound) {
			g.breaker.RecordFailure()
		}
		return nil, err
	}
	if g.breaker != nil {
		g.breaker.RecordSuccess()
	}
	if listing.RateLimit.Remaining != nil {
		metrics.UpstreamRateLimitRemaining.Set(float64(*listing.RateLimit.Remaining))
	}

	payload := &UserGists{
		Username:   username,
		Page:       page,
		PerPage:    perPage,
		GistCount:  len(listing.Gists),
		Gists:      FormatGists(listing.Gists),
		Pagination: NewPagination(page, perPage, len(listing.Gists)),
		RateLimit:  RateLimit(listing.RateLimit),
	}
	g.cache.Set(key, payload)
	metrics.CacheEntries.Set(float64(g.cache.Stats().TotalEntries))
	return payload, nil
}

func upstreamOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var notFound *upstream.NotFoundError
	if errors.As(err, &notFound) {
		return "not_found"
	}
	return "error"
}

// StatusForError maps a listing error onto the HTTP status the gateway
// serves for it: 404 for a missing user, the upstream's own status for an
// API failure, 500 for everything else.
func StatusForError(err error) int {
	var notFound *upstream.NotFoundError
	var apiErr *upstream.APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return apiErr.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

// CacheStats reports the cache census without disturbing any entry.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

// ClearCache empties the cache and returns how many entries were removed,
// expired ones included.
func (g *Gateway) ClearCache() int {
	removed := g.cache.Clear()
	metrics.CacheEntries.Set(0)
	return removed
}

// RemoveKey deletes a single cache entry. Removing an absent key is a no-op.
func (g *Gateway) RemoveKey(key string) {
	g.cache.Remove(key)
	metrics.CacheEntries.Set(float64(g.cache.Stats().TotalEntries))
}

// TTLSeconds returns the configured cache TTL in whole seconds.
func (g *Gateway) TTLSeconds() int {
	return int(g.config.Cache.TTL().Seconds())
}

// publishEvent calls all registered hooks asynchronously.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}
