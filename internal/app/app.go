// Package app builds the long-lived services of a plotmon run and wires them
// into the pipeline, acting as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/api"
	"github.com/JakeFAU/plotmon/internal/clock/system"
	"github.com/JakeFAU/plotmon/internal/config"
	"github.com/JakeFAU/plotmon/internal/discovery"
	"github.com/JakeFAU/plotmon/internal/dispatcher"
	"github.com/JakeFAU/plotmon/internal/id/uuid"
	"github.com/JakeFAU/plotmon/internal/metrics"
	"github.com/JakeFAU/plotmon/internal/progress"
	"github.com/JakeFAU/plotmon/internal/progress/sinks"
	"github.com/JakeFAU/plotmon/internal/protocol"
	queueMemory "github.com/JakeFAU/plotmon/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/plotmon/internal/storage/memory"
	"github.com/JakeFAU/plotmon/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// Options replace the OS-facing collaborators. Zero values select the real
// implementations.
type Options struct {
	// Table lists processes; defaults to procfs.
	Table discovery.ProcessTable
	// Reader reads per-process CPU and memory; defaults to procfs.
	Reader discovery.ResourceReader
	// Opener opens job logs; defaults to worker.TailOpener.
	Opener worker.StreamOpener
	// Out receives the terminal rendering; defaults to os.Stdout.
	Out io.Writer
	// Registerer receives the progress collectors; defaults to the global registry.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	table     discovery.ProcessTable
	reader    discovery.ResourceReader
	opener    worker.StreamOpener
	out       io.Writer
	snapshots *memoryStorage.SnapshotStore
	promSink  *sinks.PrometheusSink
}

// Build creates the application's dependencies.
func Build(cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		table:     opts.Table,
		reader:    opts.Reader,
		opener:    opts.Opener,
		out:       opts.Out,
		snapshots: memoryStorage.NewSnapshotStore(),
	}
	if a.table == nil || a.reader == nil {
		fs, err := discovery.NewProcFS(cfg.Discovery.ProcMount)
		if err != nil {
			return nil, fmt.Errorf("procfs init failed: %w", err)
		}
		if a.table == nil {
			a.table = fs
		}
		if a.reader == nil {
			a.reader = fs
		}
		logger.Debug("using procfs", zap.String("mount", cfg.Discovery.ProcMount))
	}
	if a.opener == nil {
		a.opener = worker.TailOpener{}
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	metrics.Init()
	var err error
	a.promSink, err = sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	return a, nil
}

// Snapshots exposes the latest per-job state recorded during runs.
func (a *App) Snapshots() *memoryStorage.SnapshotStore {
	return a.snapshots
}

// Run executes one pipeline in mode, restricted to jobs logging under dir.
// Print mode returns after the report; watch mode returns ctx's error once
// cancelled.
func (a *App) Run(ctx context.Context, mode protocol.Mode, dir string) error {
	if dir == "" {
		dir = a.cfg.LogDir
	}
	logger := a.logger.With(zap.String("mode", string(mode)))
	logger.Info("starting run", zap.String("dir", dir))

	hub := a.setupProgress(ctx, mode, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	dispatch, err := a.setupDispatcher(mode, dir, hub, logger)
	if err != nil {
		return err
	}

	if mode == protocol.ModeWatch && a.cfg.API.Addr != "" {
		stopServer := a.serveAPI(logger)
		defer stopServer()
	}

	if err := dispatch.Run(ctx); err != nil {
		return fmt.Errorf("run %s: %w", mode, err)
	}
	logger.Info("run complete")
	return nil
}

func (a *App) setupProgress(ctx context.Context, mode protocol.Mode, logger *zap.Logger) *progress.Hub {
	sinkList := []progress.Sink{
		sinks.NewTerminalSink(a.out),
		sinks.NewLogSink(logger.Named("progress_log")),
		sinks.NewStoreSink(a.snapshots, logger.Named("progress_store")),
		a.promSink,
	}
	hubCfg := progress.Config{
		BufferSize:  a.cfg.Pipeline.HubBuffer,
		SinkTimeout: a.cfg.SinkTimeout(),
		BaseContext: context.WithoutCancel(ctx),
		Logger:      logger.Named("progress_hub"),
	}
	if mode == protocol.ModeWatch {
		hubCfg.MaxBatchEvents = 1
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
	)
	return hub
}

func (a *App) setupDispatcher(
	mode protocol.Mode,
	dir string,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*dispatcher.Dispatcher, error) {
	clock := system.New()
	stamper := protocol.NewStamper(uuid.New(), clock)
	depth := a.cfg.Pipeline.MailboxDepth

	inbox := queueMemory.NewQueue(depth)
	analyzerBox := queueMemory.NewQueue(depth)
	samplerBox := queueMemory.NewQueue(depth)
	reply := worker.NewOutbox(inbox, stamper)

	usage := discovery.NewSampler(a.reader, clock, a.cfg.SampleTimeout(), logger.Named("usage"))
	discoverer := discovery.NewDiscoverer(
		a.table,
		discovery.NewScreenMatcher(a.cfg.MatchConfig()),
		usage,
		logger.Named("discovery"),
	)

	analyzer := worker.NewAnalyzer(analyzerBox, reply, a.opener, logger.Named("analyzer"))
	sampler := worker.NewSampler(samplerBox, reply, discoverer, usage, logger.Named("sampler"))

	dispatch, err := dispatcher.New(dispatcher.Config{
		Mode:           mode,
		Dir:            dir,
		SampleInterval: a.cfg.SampleInterval(),
	}, dispatcher.Deps{
		Inbox:    inbox,
		Analyzer: dispatcher.Endpoint{Role: analyzer, Mailbox: analyzerBox},
		Sampler:  dispatcher.Endpoint{Role: sampler, Mailbox: samplerBox},
		Stamper:  stamper,
		Emitter:  emitter,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	return dispatch, nil
}

// serveAPI starts the status server and returns its shutdown func.
func (a *App) serveAPI(logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              a.cfg.API.Addr,
		Handler:           api.NewServer(a.snapshots, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.String("addr", a.cfg.API.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}

// Close flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
