package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gistgateway "github.com/nimbus-labs/gist-gateway"
	"github.com/nimbus-labs/gist-gateway/internal/logging"
	"github.com/nimbus-labs/gist-gateway/internal/metrics"
	"github.com/nimbus-labs/gist-gateway/internal/ratelimit"
	"github.com/nimbus-labs/gist-gateway/internal/requestlog"
	"github.com/nimbus-labs/gist-gateway/internal/version"
	"github.com/nimbus-labs/gist-gateway/upstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate config if GISTGW_CONFIG is set.
	cfg := gistgateway.DefaultConfig()
	if cfgPath := os.Getenv("GISTGW_CONFIG"); cfgPath != "" {
		loaded, err := gistgateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := gistgateway.ValidateConfig(*loaded); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		cfg = *loaded
		log.Printf("Config loaded from %s", cfgPath)
	}

	if cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	}

	// Environment beats file config for deploy-time settings.
	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			log.Fatalf("Invalid PORT %q: %v", p, err)
		}
		cfg.Server.Port = port
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	}

	baseURL := cfg.Upstream.BaseURL
	if baseURL == "" {
		baseURL = upstream.DefaultBaseURL
	}
	userAgent := cfg.Upstream.UserAgent
	if userAgent == "" {
		userAgent = "gist-gateway/" + version.Version
	}
	token := os.Getenv("GITHUB_TOKEN")
	fetcher := upstream.NewGitHub(baseURL, userAgent, token, cfg.Upstream.Timeout())
	if token != "" {
		log.Println("GitHub token configured; authenticated rate limits apply")
	}

	gw := gistgateway.New(cfg, fetcher)

	if cfg.RequestLog != nil {
		writer, err := newRequestLogWriter(*cfg.RequestLog)
		if err != nil {
			log.Fatalf("Failed to open request log: %v", err)
		}
		defer func() {
			_ = writer.Close()
		}()
		gw.AddHook(requestLogHook(writer))
		log.Printf("Request audit log enabled: driver=%s", cfg.RequestLog.Driver)
	}

	var limits *ratelimit.Store
	if cfg.RateLimit != nil {
		limits = ratelimit.NewStore(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		log.Printf("Per-client rate limiting enabled: %.1f req/s (burst %.0f)",
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	r := newRouter(gw, limits, cfg.Server.CORSOrigins)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM. The same context stops the
	// cache janitor, when one is configured.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw.StartCacheJanitor(ctx)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("GistGateway %s listening on %s (cache TTL %ds)", version.Short(), addr, gw.TTLSeconds())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// newRouter builds the HTTP router. limits may be nil (no client rate
// limiting) and corsOrigins may be empty (allow any origin).
func newRouter(gw *gistgateway.Gateway, limits *ratelimit.Store, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))
	if limits != nil {
		r.Use(rateLimitMiddleware(limits))
	}

	r.Get("/", handleIndex(gw))
	r.Get("/index.html", handleIndex(gw))
	r.Get("/healthz", handleHealth(gw))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/cache", handleCacheStats(gw))
	r.Get("/cache/clear", handleCacheClear(gw))
	r.Delete("/cache/{key}", handleCacheRemove(gw))

	// Fixed routes above win over the username catch-all.
	r.Get("/{username}", handleListGists(gw))

	return r
}

// rateLimitMiddleware rejects requests from clients whose token bucket is
// empty. RealIP runs earlier in the chain, so RemoteAddr identifies the
// actual client behind a proxy.
func rateLimitMiddleware(limits *ratelimit.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limits.Allow(host) {
				metrics.RateLimitRejections.Inc()
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRequestLogWriter(cfg gistgateway.RequestLogConfig) (*requestlog.SQLWriter, error) {
	if cfg.Driver == "postgres" {
		return requestlog.NewPostgresWriter(cfg.DSN)
	}
	return requestlog.NewSQLiteWriter(cfg.DSN)
}

// requestLogHook adapts gateway events into audit rows. The request context
// is cancelled once the handler returns, so writes run under their own
// deadline.
func requestLogHook(writer requestlog.Writer) gistgateway.EventHookFunc {
	return func(_ context.Context, subject string, data map[string]interface{}) {
		entry := requestlog.Entry{
			TraceID:     stringField(data, "trace_id"),
			Username:    stringField(data, "username"),
			Page:        intField(data, "page"),
			PerPage:     intField(data, "per_page"),
			CacheStatus: stringField(data, "cache"),
			Status:      intField(data, "status"),
			GistCount:   intField(data, "gist_count"),
		}
		if ms, ok := data["latency_ms"].(int64); ok {
			entry.DurationMs = ms
		}
		if subject == gistgateway.SubjectRequestFailed {
			entry.ErrorMessage = stringField(data, "error")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := writer.Write(ctx, entry); err != nil {
			log.Printf("Request log write failed: %v", err)
		}
	}
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]interface{}, key string) int {
	v, _ := data[key].(int)
	return v
}
