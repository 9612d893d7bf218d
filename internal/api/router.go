package api

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/waypoint/internal/middleware"
)

// RouterConfig assembles the HTTP surface for one process. Sessions is set
// on the coordinator, Stream on the realtime node; the rest is shared.
type RouterConfig struct {
	Sessions *SessionHandlers
	Stream   http.Handler
	Stats    http.Handler
	Health   *HealthHandlers
	Metrics  http.Handler

	HTTPMetrics        *middleware.Metrics
	RateLimitStore     middleware.RateLimitStore
	CORSAllowedOrigins []string
	TracingService     string
	Logger             *slog.Logger
}

// NewRouter builds the routed handler with the standard middleware chain:
// request id, tracing, logging, metrics, CORS and rate limiting.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if cfg.Sessions != nil {
		s := cfg.Sessions

		createSession := http.Handler(http.HandlerFunc(s.CreateSession))
		joinSession := http.Handler(http.HandlerFunc(s.JoinSession))
		if cfg.RateLimitStore != nil {
			createSession = middleware.RateLimiter(cfg.RateLimitStore, middleware.DefaultCreateLimit(), middleware.IPKeyFunc())(createSession)
			joinSession = middleware.RateLimiter(cfg.RateLimitStore, middleware.DefaultJoinLimit(), middleware.IPKeyFunc())(joinSession)
		}

		mux.Handle("POST /api/sessions", createSession)
		mux.HandleFunc("GET /api/sessions/{id}", s.GetSession)
		mux.HandleFunc("DELETE /api/sessions/{id}", s.EndSession)
		mux.Handle("POST /api/sessions/{id}/join", joinSession)
		mux.HandleFunc("GET /api/sessions/{id}/participants", s.ListParticipants)
		mux.HandleFunc("DELETE /api/sessions/{id}/participants/{user_id}", s.RemoveParticipant)
	}

	if cfg.Stream != nil {
		mux.Handle("GET /ws", cfg.Stream)
	}
	if cfg.Stats != nil {
		mux.Handle("GET /stats", cfg.Stats)
	}

	var handler http.Handler = mux

	if cfg.RateLimitStore != nil {
		limited := middleware.RateLimiter(cfg.RateLimitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())(handler)
		unlimited := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Probes and scrapes bypass the global limit.
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				unlimited.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(handler)
	if cfg.HTTPMetrics != nil {
		handler = middleware.HTTPMetrics(cfg.HTTPMetrics)(handler)
	}
	handler = middleware.Logging(cfg.Logger)(handler)
	if cfg.TracingService != "" {
		handler = middleware.Tracing(cfg.TracingService)(handler)
	}
	handler = middleware.RequestID(handler)

	return handler
}
