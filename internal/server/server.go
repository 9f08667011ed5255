package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sertdev/reqgate/internal/config"
	"github.com/sertdev/reqgate/internal/gate"
)

// Opts holds optional dependencies for the router.
type Opts struct {
	MetricsMiddleware func(http.Handler) http.Handler
	MetricsHandler    http.Handler
	AdminRouter       chi.Router
	Ready             func(ctx context.Context) error
}

// New creates and configures the chi router with all routes mounted. Any
// route runs behind the gate when its path matches cfg.GatePaths and not
// cfg.GateExcludePaths.
func New(cfg *config.Config, g *gate.Gate, opts *Opts) *chi.Mux {
	if opts == nil {
		opts = &Opts{}
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(SecurityHeaders)
	if opts.MetricsMiddleware != nil {
		r.Use(opts.MetricsMiddleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "x-api-key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every route is registered inside one group so the gate runs after
	// routing and sees the matched route pattern. Which routes it actually
	// intercepts is decided by cfg.GatePaths and cfg.GateExcludePaths.
	r.Group(func(r chi.Router) {
		r.Use(g.Middleware(gate.Routes{Include: cfg.GatePaths, Exclude: cfg.GateExcludePaths}))

		r.Get("/app/foo", appHandler("foo"))
		r.Get("/app/bar", appHandler("bar"))
		r.Get("/app/other", appHandler("other"))
		r.Get("/app/fail", failHandler)

		if opts.AdminRouter != nil {
			r.Mount("/api/v1", opts.AdminRouter)
		}

		// Probes (no auth)
		r.Get("/health", HealthHandler())
		r.Get("/ready", ReadinessHandler(opts.Ready))

		if opts.MetricsHandler != nil {
			r.Handle("/metrics", opts.MetricsHandler)
		}
	})

	return r
}

// requestID assigns every request an ID, echoing X-Request-ID when the
// client sent one. The ID is also stored under chi's RequestIDKey so
// middleware.GetReqID sees it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SecurityHeaders sets conservative browser security headers on every
// response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}
