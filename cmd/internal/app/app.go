// Package app wires the muse server runtime: config, logging, stores,
// the capability gateway, the dialogue orchestrator, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"muse/cmd/internal/access"
	"muse/cmd/internal/dialog"
	"muse/cmd/internal/gateway"
	"muse/cmd/internal/session"
	"muse/cmd/internal/transport"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the muse server runtime: it owns HTTP server wiring and the
// websocket gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	ws *transport.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, accessStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	acc, err := access.NewService(log, accessStore,
		access.WithAccessWindow(time.Duration(cfg.AccessWindowDays)*24*time.Hour),
	)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	sessions := session.NewManager(
		session.WithMaxTurns(cfg.SessionMaxTurns),
		session.WithSizeBudget(cfg.SessionSizeBudget),
		session.WithSystemPrompt(cfg.SystemPrompt),
	)

	gw, err := gateway.NewOpenAIGateway(gateway.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		ChatModel:   cfg.ChatModel,
		ImageModel:  cfg.ImageModel,
		ImageSize:   cfg.ImageSize,
		SpeechModel: cfg.SpeechModel,
	})
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	orch, err := dialog.NewOrchestrator(log, acc, sessions, gw, dialog.Config{
		ImageTriggers: cfg.ImageTriggers,
		FlowTriggers: map[string]session.FlowKind{
			"/speak":  session.FlowSpeech,
			"/speak+": session.FlowSpeechToned,
		},
		DuetPersonas:  [2]string{cfg.DuetPersonaA, cfg.DuetPersonaB},
		DuetExchanges: cfg.DuetExchanges,
	})
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	ws := transport.NewWSGateway(log, acc, orch)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(mux), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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

// newStore decides between Postgres-backed persistence and the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, access.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, access.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model: app owns the pool lifecycle.
	accessStore, err := access.NewPostgresStore(pool, access.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	if err := accessStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool}, pool, true, accessStore, nil
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
