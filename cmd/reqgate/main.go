package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sertdev/reqgate/internal/api"
	"github.com/sertdev/reqgate/internal/auth"
	"github.com/sertdev/reqgate/internal/config"
	"github.com/sertdev/reqgate/internal/gate"
	"github.com/sertdev/reqgate/internal/logging"
	"github.com/sertdev/reqgate/internal/metrics"
	"github.com/sertdev/reqgate/internal/ratelimit"
	"github.com/sertdev/reqgate/internal/resilience"
	"github.com/sertdev/reqgate/internal/server"
	"github.com/sertdev/reqgate/internal/slogger"
	"github.com/sertdev/reqgate/internal/store"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Validate config
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	// 3. Setup structured logging
	slogger.Setup(cfg.LogFormat)

	// 4. Initialize metrics (if enabled)
	var m *metrics.Metrics
	var metricsMiddleware func(http.Handler) http.Handler
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		m = metrics.New()
		metricsMiddleware = metrics.Middleware(m)
		metricsHandler = m.Handler()
	}

	// 5. Initialize rate limiter (if configured)
	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS * 2) // default burst = 2x RPS
		}
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimitRPS, burst)
		defer rateLimiter.Close()
		if m != nil {
			rateLimiter.SetLimitedCounter(m.RateLimitedTotal)
		}
	}

	// 6. Initialize API key verifiers
	keyTTL := time.Duration(cfg.KeyCacheTTLSeconds) * time.Second
	var gateKeys, adminKeys *auth.Verifier
	if len(cfg.APIKeyHashes) > 0 {
		gateKeys = auth.NewVerifier(cfg.APIKeyHashes, keyTTL)
		defer gateKeys.Close()
	}
	if len(cfg.AdminKeyHashes) > 0 {
		adminKeys = auth.NewVerifier(cfg.AdminKeyHashes, keyTTL)
		defer adminKeys.Close()
	}

	// 7. Compose the admission policy
	policy := buildPolicy(cfg, rateLimiter, gateKeys)

	// 8. Initialize the timing store (optional)
	var (
		st       *store.Store
		sink     gate.Sink
		recorder *logging.Recorder
		ready    func(ctx context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pool, err := store.NewPool(context.Background(), cfg.DatabaseURL, cfg.MaxDBConns, cfg.MinDBConns)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		st = store.New(pool)
		if err := st.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		ready = st.Health

		// 9. Initialize async timing recorder
		recorder = logging.NewRecorder(st, cfg.LogBufferSize, resilience.RetryOpts{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		}, slog.Default())
		recorder.SetBreaker(resilience.NewBreaker(resilience.BreakerOpts{
			Threshold: cfg.BreakerThreshold,
			CoolDown:  time.Duration(cfg.BreakerCoolDownSec) * time.Second,
		}))
		if m != nil {
			recorder.SetDroppedCounter(m.DroppedRecordsTotal)
		}
		sink = recorder

		// 10. Initialize timing retention cleaner
		cleaner := logging.NewCleaner(st, cfg.LogRetentionDays, slog.Default())
		defer cleaner.Close()
	}

	// 11. Initialize the gate
	gateOpts := gate.Options{
		Policy:      policy,
		Delay:       gate.UniformDelay(time.Duration(cfg.DelayMaxMS) * time.Millisecond),
		DenyMessage: cfg.DenyMessage,
		Sink:        sink,
	}
	if m != nil {
		gateOpts.Observer = m
	}
	g := gate.New(gateOpts)

	// 12. Initialize admin API router (needs both a store and admin keys)
	var adminRouter chi.Router
	if st != nil && adminKeys != nil {
		adminRouter = api.NewRouter(st, auth.Middleware(adminKeys))
	}

	// 13. Build the main server router with middleware
	serverOpts := &server.Opts{
		MetricsMiddleware: metricsMiddleware,
		MetricsHandler:    metricsHandler,
		AdminRouter:       adminRouter,
		Ready:             ready,
	}
	router := server.New(cfg, g, serverOpts)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("reqgate listening", "addr", cfg.ListenAddr, "gate_paths", cfg.GatePaths, "policies", cfg.GatePolicies)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	// Flush buffered timings once no more requests can complete.
	if recorder != nil {
		recorder.Close()
	}
	slog.Info("server stopped")
}

// buildPolicy combines the configured gate_policies in order. Validate has
// already checked each name and its prerequisites.
func buildPolicy(cfg *config.Config, limiter *ratelimit.Limiter, keys *auth.Verifier) gate.Policy {
	var policies []gate.Policy
	for _, name := range cfg.GatePolicies {
		switch name {
		case config.PolicyDeny:
			policies = append(policies, gate.DenyAll)
		case config.PolicyAllow:
			policies = append(policies, gate.AllowAll)
		case config.PolicyRateLimit:
			policies = append(policies, limiter.Policy(auth.ClientKey))
		case config.PolicyAPIKey:
			policies = append(policies, keys.Policy())
		}
	}
	if len(policies) == 1 {
		return policies[0]
	}
	return gate.All(policies...)
}
