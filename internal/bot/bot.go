// Package bot wires the engine, detector, ladder, federation registry and
// platform client into the running daemon.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/groupwarden/groupwarden/internal/action"
	"github.com/groupwarden/groupwarden/internal/admincache"
	"github.com/groupwarden/groupwarden/internal/command"
	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/dispatch"
	"github.com/groupwarden/groupwarden/internal/federation"
	"github.com/groupwarden/groupwarden/internal/flood"
	"github.com/groupwarden/groupwarden/internal/platform"
	"github.com/groupwarden/groupwarden/internal/storage"
	"github.com/groupwarden/groupwarden/internal/warnings"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// Streamer produces the inbound event stream.
type Streamer interface {
	Listen(ctx context.Context, emit func(platform.Event)) error
	Ping(ctx context.Context) error
}

// Bot is the daemon façade.
type Bot struct {
	cfg      *config.Config
	store    storage.Store
	stream   Streamer
	enforcer platform.Enforcer
	notifier platform.Notifier
	authz    admincache.Authorizer
	engine   *action.Engine
	detector *flood.Detector
	ladder   *warnings.Ladder
	feds     *federation.Registry
	pool     *dispatch.Pool
	janitor  *Janitor
	botID    int64
	log      zerolog.Logger
}

// New constructs a fully wired Bot. The client fills the Enforcer,
// AdminLister, Notifier and Streamer roles at once in production; tests
// pass the pieces separately.
func New(cfg *config.Config, store storage.Store, enforcer platform.Enforcer,
	lister platform.AdminLister, notifier platform.Notifier, stream Streamer,
	botID int64, log zerolog.Logger) (*Bot, error) {

	exemptIDs, err := cfg.ExemptUserIDs()
	if err != nil {
		return nil, fmt.Errorf("parse exempt users: %w", err)
	}
	exempt := make(map[int64]struct{}, len(exemptIDs))
	for _, id := range exemptIDs {
		exempt[id] = struct{}{}
	}

	authz := admincache.New(lister, admincache.Options{
		Size:    cfg.AdminCacheSize,
		TTL:     cfg.AdminCacheTTL,
		OwnerID: cfg.OwnerID,
		BotID:   botID,
	}, log)

	engine := action.New(action.Config{
		BotID:          botID,
		OwnerID:        cfg.OwnerID,
		ExemptUsers:    exempt,
		EnforceTimeout: cfg.EnforceTimeout,
		MaxDuration:    cfg.MaxActionDuration,
	}, store, enforcer, authz, log)

	detector := flood.New(store, storage.FloodConfig{
		Limit:  cfg.FloodLimit,
		Window: cfg.FloodWindow,
		Mode:   cfg.FloodMode,
	}, log)

	ladder := warnings.New(store, warnings.Defaults{
		Limit: cfg.WarnLimit,
		Mode:  cfg.WarnMode,
	}, log)

	feds := federation.New(federation.Config{
		FanoutTimeout: cfg.FedFanoutTimeout,
	}, store, engine, log)

	b := &Bot{
		cfg:      cfg,
		store:    store,
		stream:   stream,
		enforcer: enforcer,
		notifier: notifier,
		authz:    authz,
		engine:   engine,
		detector: detector,
		ladder:   ladder,
		feds:     feds,
		botID:    botID,
		log:      log,
	}

	pool, err := dispatch.New(dispatch.Config{
		Workers:    cfg.DispatchWorkers,
		QueueDepth: cfg.DispatchQueueDepth,
	}, b.Handle, log)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}
	b.pool = pool
	b.janitor = NewJanitor(store, engine, detector, cfg.JanitorInterval, log)
	return b, nil
}

// Run rebuilds the expiry schedule, then starts all goroutines and blocks
// until ctx is cancelled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.engine.RebuildSchedule(); err != nil {
		return fmt.Errorf("rebuild schedule: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	b.pool.Start(gctx)

	g.Go(func() error {
		return b.processStream(gctx)
	})

	g.Go(func() error {
		return b.janitor.Run(gctx)
	})

	if b.cfg.MetricsEnabled {
		g.Go(func() error {
			return b.serveMetrics(gctx)
		})
	}

	g.Go(func() error {
		return b.serveHealth(gctx)
	})

	b.log.Info().Str("version", BinaryVersion).Int("commands", len(command.Names())).Msg("daemon started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	b.pool.Stop()
	b.engine.Scheduler().Stop()
	return nil
}

// processStream feeds inbound events into the keyed dispatch pool.
func (b *Bot) processStream(ctx context.Context) error {
	return b.stream.Listen(ctx, func(ev platform.Event) {
		b.pool.Enqueue(ev)
	})
}

// serveMetrics runs the Prometheus HTTP server.
func (b *Bot) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    b.cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	b.log.Info().Str("addr", b.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoint.
func (b *Bot) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := b.stream.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    b.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	b.log.Info().Str("addr", b.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
