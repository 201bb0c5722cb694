// Package app wires the inbox server runtime: config, logging, stores, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"inbox/cmd/internal/api"
	"inbox/cmd/internal/auth"
	"inbox/cmd/internal/broadcast"
	"inbox/cmd/internal/realtime"
	"inbox/cmd/internal/thread"
	"inbox/cmd/internal/thread/paircache"

	"github.com/jackc/pgx/v5/pgxpool"
)

// closer is a resource the app owns and releases on shutdown.
type closer interface {
	Close() error
}

// stores bundles the persistence backends chosen from config.
type stores struct {
	conversations interface {
		thread.Store
		thread.LastMessageWriter
	}
	messages   realtime.MessageStore
	membership realtime.MembershipStore

	pool      *pgxpool.Pool
	dbEnabled bool
}

// App is the inbox server runtime: it owns HTTP server wiring and realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	st      stores
	cache   *paircache.RedisCache
	closers []closer

	ws  *realtime.WSGateway
	api *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	authn, err := newAuthenticator(authCfg)
	if err != nil {
		return nil, err
	}
	if authCfg.DevInsecure {
		log.Warn("auth.dev_insecure.enabled", "header", auth.DevUserHeader)
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, st: st}
	if st.pool != nil {
		a.closers = append(a.closers, poolCloser{st.pool})
	}

	resolverOpts := []thread.Option{
		thread.WithRetryDelay(cfg.ThreadRetryDelay),
		thread.WithLogger(log),
	}
	if cfg.RedisURL != "" {
		cache, err := paircache.Open(ctx, cfg.RedisURL, cfg.PairCacheTTL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.cache = cache
		a.closers = append(a.closers, cache)
		resolverOpts = append(resolverOpts, thread.WithPairCache(cache))
		log.Info("paircache.enabled", "ttl", cfg.PairCacheTTL.String())
	}

	resolver, err := thread.NewResolver(st.conversations, resolverOpts...)
	if err != nil {
		a.close()
		return nil, err
	}
	registry := broadcast.NewRegistry(log)

	a.ws, err = realtime.NewWSGateway(cfg.WS, realtime.GatewayDeps{
		Log:           log,
		Auth:          authn,
		Resolver:      resolver,
		Conversations: st.conversations,
		LastMessages:  st.conversations,
		Messages:      st.messages,
		Membership:    st.membership,
		Registry:      registry,
		Hub:           realtime.NewHub(log),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.api, err = api.NewHandler(api.Config{MaxBodyBytes: cfg.MaxBodyBytes}, api.Deps{
		Log:      log,
		Store:    st.conversations,
		Resolver: resolver,
		Auth:     authn,
		Registry: registry,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func newAuthenticator(cfg auth.Config) (*auth.Authenticator, error) {
	if strings.TrimSpace(cfg.PasetoV4SecretKeyHex) == "" {
		// Dev-insecure without a key: only the dev header authenticates.
		return auth.NewAuthenticator(nil, cfg.DevInsecure), nil
	}
	tm, err := auth.NewTokenManager(cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(tm, cfg.DevInsecure), nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler(mux),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"api_url", base+"/api",
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.st.dbEnabled,
		"paircache_enabled", a.cache != nil,
	)

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
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.close()
		return err
	}
	a.close()

	a.log.Info("server.stopped")
	return nil
}

// handler applies the middleware chain. Request logging is outermost so rejected
// CORS requests are logged too.
func (a *App) handler(mux http.Handler) http.Handler {
	h := WithSecurityHeaders(mux)
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, a.cfg, a.log)
	}
	return WithRequestLogging(h, a.log)
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}

type poolCloser struct{ pool *pgxpool.Pool }

func (p poolCloser) Close() error {
	p.pool.Close()
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

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		conversations := thread.NewInMemoryStore()
		return stores{
			conversations: conversations,
			messages:      realtime.NewInMemoryStore(),
			membership:    realtime.StoreMembership{Store: conversations},
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	st, err := newPostgresStores(ctx, cfg, pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return st, nil
}

func newPostgresStores(ctx context.Context, cfg Config, pool *pgxpool.Pool) (stores, error) {
	if cfg.DBApplySchema {
		if err := thread.ApplySchema(ctx, pool, cfg.DBSchema); err != nil {
			return stores{}, err
		}
	}

	conversations, err := thread.NewPostgresStore(pool, thread.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, fmt.Errorf("conversation store: %w", err)
	}
	messages, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, fmt.Errorf("message store: %w", err)
	}
	members, err := realtime.NewPostgresMembershipStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, fmt.Errorf("membership store: %w", err)
	}
	return stores{
		conversations: conversations,
		messages:      messages,
		membership:    members,
		pool:          pool,
		dbEnabled:     true,
	}, nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return "ws://" + httpBase
	}
}
