package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voiceclone/internal/artifact"
	"github.com/loqalabs/loqa-voiceclone/internal/bus"
	"github.com/loqalabs/loqa-voiceclone/internal/config"
	"github.com/loqalabs/loqa-voiceclone/internal/engine"
	"github.com/loqalabs/loqa-voiceclone/internal/eventstore"
	"github.com/loqalabs/loqa-voiceclone/internal/httpapi"
	"github.com/loqalabs/loqa-voiceclone/internal/natsserver"
	"github.com/loqalabs/loqa-voiceclone/internal/pipeline"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	events      *eventstore.Store
	artifacts   *artifact.Store
	engine      *engine.Handle
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.closeResources()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	r.artifacts, err = artifact.Open(r.cfg.Artifacts.Dir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	if err := r.connectBus(ctx); err != nil {
		return err
	}

	// An engine that fails to load leaves the service up; clone requests
	// fail fast and /readyz reports the reason.
	r.engine = engine.Open(r.cfg.Engine, r.logger)

	opts := []pipeline.Option{pipeline.WithLedger(r.events)}
	if r.busClient != nil {
		opts = append(opts, pipeline.WithPublisher(r.busClient))
	}
	p := pipeline.New(r.cfg, r.engine, r.artifacts, r.logger, opts...)
	pool := pipeline.NewPool(p, r.cfg.Pipeline.MaxConcurrentRuns, r.cfg.Pipeline.RunTimeout, r.logger)

	handler := httpapi.NewRouter(r.cfg.HTTP, httpapi.Deps{
		Runs:          pool,
		Artifacts:     r.artifacts,
		Ledger:        r.events,
		Languages:     p.Languages(),
		MaxVoiceBytes: r.cfg.Pipeline.MaxVoiceBytes,
		Ready:         r.readiness,
		Metrics:       metricsHandler,
		Log:           r.logger,
	})

	addr := r.cfg.Addr()
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.housekeeping(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("artifacts_dir", r.artifacts.Dir()),
		slog.Bool("engine_ready", r.engine.Ready()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (r *Runtime) connectBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.natsServer = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nil
}

func (r *Runtime) readiness() error {
	if !r.ready.Load() {
		return errors.New("runtime not started")
	}
	if r.cfg.Bus.Enabled && !r.busClient.Healthy() {
		return errors.New("bus disconnected")
	}
	return r.engine.Err()
}

// housekeeping prunes expired artifacts and ledger rows on a fixed interval.
func (r *Runtime) housekeeping(ctx context.Context) {
	interval := r.cfg.Artifacts.PruneInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.cfg.Artifacts.Retention > 0 {
				if _, err := r.artifacts.Prune(r.cfg.Artifacts.Retention); err != nil {
					r.logger.Warn("artifact prune failed", slog.String("error", err.Error()))
				}
			}
			if err := r.events.Prune(ctx); err != nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) closeResources() {
	r.busClient.Close()
	r.natsServer.Shutdown()
	if err := r.events.Close(); err != nil {
		r.logger.Warn("event store close failed", slog.String("error", err.Error()))
	}
}
