package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strokesense/strokesense-core/internal/analysis"
	"github.com/strokesense/strokesense-core/internal/api"
	"github.com/strokesense/strokesense-core/internal/assessment"
	"github.com/strokesense/strokesense-core/internal/bus"
	"github.com/strokesense/strokesense-core/internal/config"
	"github.com/strokesense/strokesense-core/internal/detector"
	"github.com/strokesense/strokesense-core/internal/natsserver"
	"github.com/strokesense/strokesense-core/internal/recording"
	"github.com/strokesense/strokesense-core/internal/screening"
)

// Runtime assembles the screening services: embedded bus, assessment store,
// detector registry, recognition and screening pipelines, HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded  *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *assessment.Store
	registry  *detector.Registry
	recording *recording.Service
	screening *screening.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is canceled, then shuts
// services down in reverse of their start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.bus = busClient

	store, err := assessment.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to open assessment store: %w", err)
	}
	r.store = store

	registry, err := detector.NewRegistry(ctx, r.cfg.Detectors, r.bus, r.logger)
	if err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to start detector registry: %w", err)
	}
	r.registry = registry

	generator, err := analysis.NewGeneratorFromConfig(r.cfg.Analysis)
	if err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to configure speech analysis: %w", err)
	}
	analyzer := analysis.NewAnalyzer(r.cfg.Analysis, generator, r.logger)

	if r.cfg.Recognition.Enabled {
		recordingSvc, err := recording.NewService(ctx, r.cfg.Recognition, r.bus, r.logger)
		if err != nil {
			r.closeInfra()
			return fmt.Errorf("failed to start recording service: %w", err)
		}
		r.recording = recordingSvc
	}

	r.screening = screening.NewService(ctx, r.bus, analyzer, registry, r.logger)
	if err := r.screening.Start(); err != nil {
		r.closeInfra()
		return fmt.Errorf("failed to start screening service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	var recorder api.Recorder
	if r.recording != nil {
		recorder = r.recording
	}
	api.NewServer(store, analyzer, recorder, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.screening.Close()
	if r.recording != nil {
		r.recording.Close()
	}
	r.closeInfra()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// closeInfra releases registry, store, bus and embedded server. Safe to call
// with any subset of them initialized.
func (r *Runtime) closeInfra() {
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("assessment store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
