// Package app wires the AuraChat broker runtime: config, logging, HTTP routes,
// and the realtime chat and global gateways.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/auth"
	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/broker"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the broker runtime: it owns HTTP server wiring and the realtime
// gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry     *prometheus.Registry
	orchestrator *broker.AIOrchestrator

	roomGW *broker.RoomGateway
	userGW *broker.UserGateway
	api    *apiHandler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, dbEnabled, chatStore, memStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := broker.NewMetrics(registry)

	groups := broker.NewGroupBroker(log, metrics)
	presence := broker.NewLocalPresence()
	delivery := broker.NewLocalDeliveryTracker()
	limiter := broker.NewSlidingWindowLimiter(cfg.AIRateMaxCalls, cfg.AIRateWindow, metrics)

	ai, err := newAIService(cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	orchestrator := broker.NewAIOrchestrator(log, ai, chatStore, limiter, groups, cfg.AIWorkers, cfg.AIQueueSize)

	verifier, err := newVerifier(cfg, log, dbEnabled)
	if err != nil {
		return nil, err
	}

	gwCfg := broker.GatewayConfig{
		OriginRequired:    cfg.WSOriginRequired,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		DevInsecure:       cfg.WSDevInsecure,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadIdleTimeout:   cfg.WSReadIdleTimeout,
		SendQueueSize:     cfg.WSSendQueueSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatPongWindow,
	}
	deps := broker.GatewayDeps{
		Verifier:     verifier,
		Store:        chatStore,
		Groups:       groups,
		Delivery:     delivery,
		Presence:     presence,
		AI:           ai,
		Orchestrator: orchestrator,
		Metrics:      metrics,
	}

	var devStore *broker.MemoryStore
	if cfg.DevLogin && !dbEnabled {
		devStore = memStore
	}

	return &App{
		cfg:          cfg,
		log:          log,
		store:        st,
		dbPool:       dbPool,
		dbEnabled:    dbEnabled,
		registry:     registry,
		orchestrator: orchestrator,
		roomGW:       broker.NewRoomGateway(log, deps, gwCfg),
		userGW:       broker.NewUserGateway(log, deps, gwCfg),
		api:          newAPIHandler(log, verifier, cfg.TokenTTL, chatStore, ai, devStore),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.roomGW, a.userGW, a.api)

	handler := WithSecurityHeaders(mux)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	orchDone := make(chan struct{})
	go func() {
		a.orchestrator.Run(ctx)
		close(orchDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Let in-flight AI tasks drain, bounded by the shutdown window.
	select {
	case <-orchDone:
	case <-shutdownCtx.Done():
		a.log.Warn("orchestrator.drain.timeout")
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory dev
// store. The MemoryStore pointer is non-nil only in memory mode; it doubles as
// the dev credential backend.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, broker.ChatStore, *broker.MemoryStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := broker.NewMemoryStore()
		mem.SeedRoom(devLobbyRoom)
		return nopStore{}, nil, false, mem, mem, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore carries no resources of its own
	chatStore, err := broker.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool}, pool, true, chatStore, nil, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func newAIService(cfg Config, log Logger, metrics *broker.Metrics) (broker.AIService, error) {
	if len(cfg.AIAPIKeys) == 0 {
		log.Warn("ai.disabled.no_api_keys")
		return aiDisabled{}, nil
	}

	var opts []broker.GroqOption
	if cfg.AIBaseURL != "" {
		opts = append(opts, broker.WithAIBaseURL(cfg.AIBaseURL))
	}
	if cfg.AIModel != "" {
		opts = append(opts, broker.WithAIModel(cfg.AIModel))
	}
	return broker.NewGroqClient(log, metrics, cfg.AIAPIKeys, opts...)
}

func newVerifier(cfg Config, log Logger, dbEnabled bool) (*auth.JWTVerifier, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		if dbEnabled {
			return nil, errors.New("app: AURA_JWT_SECRET is required when a database is configured")
		}
		// Dev convenience: tokens stop working across restarts, which is
		// fine for the in-memory store that also loses its users.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("auth.jwt_secret.generated")
	}
	return auth.NewJWTVerifier(secret)
}

// aiDisabled stands in when no API keys are configured. Every call fails with
// ErrNoAPIKeys, which the callers already treat as a degraded-mode outcome.
type aiDisabled struct{}

func (aiDisabled) Analyze(context.Context, string, string) (broker.Analysis, error) {
	return broker.Analysis{}, broker.ErrNoAPIKeys
}

func (aiDisabled) Continue(context.Context, string, string, string) (string, error) {
	return "", broker.ErrNoAPIKeys
}

func (aiDisabled) Summarize(context.Context, []string, string) (string, error) {
	return "", broker.ErrNoAPIKeys
}

func (aiDisabled) TranslateBatch(context.Context, map[string]string, string) (map[string]string, error) {
	return nil, broker.ErrNoAPIKeys
}
