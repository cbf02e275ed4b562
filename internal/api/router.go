package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig contains all dependencies needed to construct the HTTP router.
// Designed for dependency injection: tests pass mocks and a permissive rate
// limit, then serve the result through httptest.NewServer.
type RouterConfig struct {
	// Engine is the read-only stats view of the game engine (required).
	Engine StatsSource

	// Relay exposes the audio relay counters (required).
	Relay RelayStatsSource

	// Hub handles WebSocket upgrades (required).
	Hub *Hub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used when RateLimiter is nil.
	// If both are nil, DefaultRateLimitConfig applies.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins optionally overrides the allowed CORS origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for tests).
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// This function is PURE aside from the rate limiter's cleanup goroutine:
// no listeners are opened, which keeps it safe for httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS to reject early and save CPU.
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &handlers{
		engine: cfg.Engine,
		relay:  cfg.Relay,
		hub:    cfg.Hub,
	}

	r.Get("/health", h.handleHealth)
	r.Get("/api/stats", h.handleStats)
	r.Get("/ws", cfg.Hub.HandleWebSocket)

	return r
}
