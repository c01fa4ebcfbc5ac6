// Package app wires the Plug server runtime: config, logging, stores, HTTP
// routes, the channel gateway and background sweeps.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	authapi "plug/cmd/internal/auth/api"
	"plug/cmd/internal/auth/session"
	"plug/cmd/internal/metrics"
	"plug/cmd/internal/realtime"
	"plug/cmd/security/password"
	"plug/cmd/security/token"
)

// Version is stamped at build time with -ldflags "-X plug/cmd/internal/app.Version=...".
var Version = "dev"

// App is the Plug server runtime: it owns HTTP server wiring and the
// channel gateway dependencies.
type App struct {
	cfg Config
	log Logger

	stores   *Stores
	sessions *session.Service
	auth     *authapi.Handler
	gateway  *realtime.Gateway
	sweeper  *session.Sweeper
	metrics  *metrics.Metrics
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := tokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	signer, err := session.NewSigner(sessCfg)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, stores: stores, metrics: metrics.New()}
	a.metrics.SetBuildInfo(Version)

	a.sessions, err = session.NewService(sessCfg, session.Deps{
		Identities: stores.Identities,
		Secrets:    pwCfg,
		Refresh:    stores.Refresh,
		Signer:     signer,
		Hasher:     hasher,
		Logger:     log,
	}, session.WithObserver(a.metrics))
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	logPolicy(log, sessCfg, a.sessions, signer.Algorithm(), hasher.Keyed())

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), a.sessions, pwCfg)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	gwCfg := realtime.DefaultGatewayConfig()
	gwCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	gwCfg.MaxMessageBytes = cfg.WSMaxMessageBytes
	gwCfg.PingInterval = cfg.WSPingInterval
	gwCfg.PingTimeout = cfg.WSPingTimeout
	gwCfg.EventsPerSec = cfg.WSEventsPerSec
	gwCfg.EventsBurst = cfg.WSEventsBurst

	hub := realtime.NewHub(log)
	guard := realtime.NewGuard(a.sessions, log, a.metrics)
	a.gateway = realtime.NewGateway(gwCfg, guard, hub, log, a.metrics)
	realtime.NewChatHandler(log).Register(a.gateway)
	a.metrics.TrackActiveConnections(hub.Count)

	a.sweeper = session.NewSweeper(stores.Refresh, cfg.SweepInterval, log, a.metrics)

	bootstrapAdmin(ctx, stores.Identities, pwCfg, cfg.DefaultAdminPassword, log)
	return a, nil
}

// Handler exposes the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.routes() }

// Run serves until ctx is cancelled or the listener fails, then shuts down in
// order: HTTP drain, channel sessions, sweep loop, stores.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		_ = a.stores.Close()
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"store", a.stores.Kind,
		"version", Version,
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	closed := a.gateway.Hub().CloseAll(shutdownCtx, "server shutdown")
	a.log.Info("ws.shutdown", "closed", closed)

	stopSweep()
	wg.Wait()

	if err := a.stores.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// tokenHasher builds the refresh-token digester and enforces the HMAC policy.
func tokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(token.MinHMACKeyBytes)
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return token.Hasher{}, errors.New("security policy: PLUG_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		}
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: PLUG_REQUIRE_TOKEN_HMAC=true but PLUG_TOKEN_HMAC_KEY is missing")
	}
	return h, nil
}

func logPolicy(log Logger, cfg session.Config, svc *session.Service, alg string, keyed bool) {
	p := svc.Policy()
	accessTTL := "none"
	if ttl, ok := p.AccessTTL(); ok {
		accessTTL = ttl.String()
	} else {
		log.Warn("auth.policy.access_no_expiry", "expression", cfg.AccessExpiresIn)
	}
	log.Info("auth.policy",
		"signer", alg,
		"access_expires_in", cfg.AccessExpiresIn,
		"access_ttl", accessTTL,
		"refresh_expires_in", cfg.RefreshExpiresIn,
		"refresh_ttl", p.RefreshTTL().String(),
		"refresh_digest_hmac", keyed,
	)
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
