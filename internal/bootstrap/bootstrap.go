// Package bootstrap assembles the generation runtime from configuration and
// brings the engine up before any host starts serving.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/charforge/internal/artifact"
	"github.com/dunamismax/charforge/internal/assets"
	"github.com/dunamismax/charforge/internal/config"
	"github.com/dunamismax/charforge/internal/engine"
	"github.com/dunamismax/charforge/internal/handler"
	"github.com/dunamismax/charforge/internal/storage"
	"github.com/dunamismax/charforge/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

type Runtime struct {
	Supervisor *engine.Supervisor
	Handler    *handler.Handler
	Registry   *prometheus.Registry

	metrics *metrics
	logger  zerolog.Logger
}

type Option func(*options)

type options struct {
	launcher engine.Launcher
	registry *prometheus.Registry
}

// WithLauncher replaces the command launcher built from config.
func WithLauncher(l engine.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Build wires every component without starting anything.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.launcher == nil {
		o.launcher = engine.CommandLauncher{
			Command: cfg.Engine.Command,
			Args:    cfg.Engine.Args,
			Dir:     cfg.Engine.Dir,
			Logger:  logger.With().Str("component", "engine").Logger(),
		}
	}

	client := engine.NewClient(cfg.Engine.BaseURL(), cfg.Engine.RequestTimeout)
	linker := assets.Linker{
		VolumeRoot: cfg.Assets.VolumeRoot,
		EngineDir:  cfg.Engine.Dir,
		Logger:     logger.With().Str("component", "assets").Logger(),
	}

	m := newMetrics(o.registry)
	supervisor := engine.NewSupervisor(linker, o.launcher, client, engine.SupervisorConfig{
		HealthInterval: cfg.Engine.HealthInterval,
		HealthAttempts: cfg.Engine.HealthAttempts,
		HealthTimeout:  cfg.Engine.HealthTimeout,
	}, logger)
	supervisor.OnStateChange = m.setState

	deps := handler.Deps{
		Compiler: workflow.NewCompiler(workflow.Options{
			Checkpoint:        cfg.Engine.Checkpoint,
			StyleLoRA:         cfg.Engine.StyleLoRA,
			StyleLoRAStrength: cfg.Engine.StyleLoRAStrength,
			FilenamePrefix:    cfg.Engine.FilenamePrefix,
		}),
		Driver:     engine.NewDriver(client, cfg.Engine.PollInterval, logger),
		Extractor:  artifact.NewExtractor(cfg.Engine.Dir, logger),
		Readiness:  supervisor,
		JobTimeout: cfg.Engine.JobTimeout,
	}

	if cfg.Storage.Enabled {
		mirror, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
			Prefix:   cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init artifact mirror: %w", err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure mirror bucket: %w", err)
		}
		deps.Mirror = mirror
		logger.Info().Str("bucket", mirror.Bucket()).Msg("artifact mirror enabled")
	}

	return &Runtime{
		Supervisor: supervisor,
		Handler:    handler.New(deps, logger, o.registry),
		Registry:   o.registry,
		metrics:    m,
		logger:     logger.With().Str("component", "bootstrap").Logger(),
	}, nil
}

// Start brings the engine to Ready and runs the warm-up job. Any error is a
// *engine.StartupError and the engine process has been stopped.
func (r *Runtime) Start(ctx context.Context) error {
	startedAt := time.Now()
	if err := r.Supervisor.EnsureStarted(ctx); err != nil {
		return err
	}
	if err := r.Handler.Warmup(ctx); err != nil {
		r.Supervisor.Stop()
		return &engine.StartupError{Reason: "warm-up", Err: err}
	}
	elapsed := time.Since(startedAt)
	r.metrics.startupSeconds.Set(elapsed.Seconds())
	r.logger.Info().Dur("elapsed", elapsed).Msg("runtime ready")
	return nil
}

func (r *Runtime) Stop() {
	r.Supervisor.Stop()
}
