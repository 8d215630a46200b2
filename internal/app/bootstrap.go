package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"runhub/internal/adapter"
	"runhub/internal/adapter/fs"
	"runhub/internal/api"
	"runhub/internal/breaker"
	"runhub/internal/cache"
	"runhub/internal/config"
	"runhub/internal/engine"
	"runhub/internal/health"
	"runhub/internal/index"
	"runhub/internal/server"
	"runhub/pkg/logging"
)

// Application bootstraps and runs runhub. Construction wires the full
// stack in dependency order; Run starts the background loops and the two
// wire surfaces and blocks until the context is cancelled.
type Application struct {
	opts    Options
	cfg     *config.Config
	metrics *health.Metrics
	manager *adapter.Manager
	cache   *cache.Manager
	indexer *index.Indexer
	monitor *health.Monitor
	engine  *engine.Engine
	mcp     *server.MCPServer
	http    *server.HTTPServer
	watcher *configWatcher
	sampler *pressureSampler
}

// NewApplication performs the bootstrap sequence: logging, configuration,
// adapter registry, breakers, cache tiers, adapter initialization, index,
// health monitor and the engine. Adapters that were initialized are
// cleaned up if a later step fails.
func NewApplication(ctx context.Context, opts Options) (*Application, error) {
	// Logging is configured twice: once before config loading so the
	// loader's own messages honor --silent and --debug, and again after,
	// when the configured level and transport are known.
	initLogging(opts, nil)
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	initLogging(opts, &cfg)

	metrics := health.NewMetrics()

	registry := adapter.NewRegistry()
	if err := registry.Register(fs.Type, fs.New); err != nil {
		return nil, fmt.Errorf("registering adapter factories: %w", err)
	}
	registry.Freeze()

	breakers := breaker.NewSet(breakerSettings(cfg.Performance.AdapterBreaker))
	breaker.OnTransition(func(upstream, from, to string) {
		logging.Info("Breaker", "Circuit %s: %s -> %s", upstream, from, to)
		metrics.BreakerTransition(upstream, to)
	})

	cacheMgr, err := buildCache(&cfg)
	if err != nil {
		return nil, err
	}

	manager := adapter.NewManager(registry, breakers)
	srcConfigs := make([]api.SourceConfig, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		srcConfigs = append(srcConfigs, entry.ToAPI())
	}
	if err := manager.Initialize(ctx, srcConfigs); err != nil {
		return nil, fmt.Errorf("initializing sources: %w", err)
	}

	fail := func(err error) (*Application, error) {
		if cerr := manager.Cleanup(context.Background()); cerr != nil {
			logging.Error("Bootstrap", cerr, "Adapter cleanup after failed bootstrap")
		}
		return nil, err
	}

	indexer, err := buildIndexer(&cfg, manager, metrics)
	if err != nil {
		return fail(err)
	}

	monitor := health.NewMonitor(health.Config{
		Interval:     cfg.Performance.HealthCheckInterval.Std(),
		ProbeTimeout: cfg.Performance.HealthCheckTimeout.Std(),
		Window:       cfg.Performance.HealthWindow.Std(),
	}, manager, metrics)

	feedback, err := engine.NewFeedbackLog(filepath.Join(cfg.Storage.DataDir, "feedback.jsonl"))
	if err != nil {
		return fail(fmt.Errorf("opening feedback log: %w", err))
	}

	eng := engine.New(engine.Options{
		Config:   &cfg,
		Manager:  manager,
		Indexer:  indexer,
		Cache:    cacheMgr,
		Monitor:  monitor,
		Metrics:  metrics,
		Feedback: feedback,
	})

	app := &Application{
		opts:    opts,
		cfg:     &cfg,
		metrics: metrics,
		manager: manager,
		cache:   cacheMgr,
		indexer: indexer,
		monitor: monitor,
		engine:  eng,
		mcp:     server.NewMCPServer(cfg.Server, eng, opts.Version),
		http:    server.NewHTTPServer(cfg.Server, eng, metrics),
		watcher: newConfigWatcher(opts.ConfigPath),
		sampler: newPressureSampler(cacheMgr.Memory()),
	}
	return app, nil
}

// Run performs the initial index pass, warms the cache, starts the
// background loops and both servers, then blocks until ctx is cancelled.
// Shutdown is the reverse of startup; adapter cleanup always runs.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.manager.Cleanup(context.Background()); err != nil {
			logging.Error("App", err, "Adapter cleanup")
		}
	}()

	if _, err := a.indexer.RefreshAll(ctx); err != nil {
		logging.Warn("App", "Initial index pass incomplete: %v", err)
	}
	snap := a.indexer.Snapshot()
	a.metrics.SetCorpus(snap.Epoch, snap.TotalDocuments())

	a.engine.Warmup(ctx)

	a.monitor.Start(ctx)
	defer a.monitor.Stop()

	a.indexer.Start(ctx)
	defer a.indexer.Stop()

	a.sampler.Start(ctx)
	defer a.sampler.Stop()

	if err := a.watcher.Start(ctx); err != nil {
		logging.Warn("App", "Config watch unavailable: %v", err)
	}
	defer a.watcher.Stop()

	if err := a.http.Start(ctx); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}
	if err := a.mcp.Start(ctx); err != nil {
		_ = a.http.Stop(context.Background())
		return fmt.Errorf("starting MCP server: %w", err)
	}

	logging.Info("App", "runhub %s ready: %d sources, %d documents",
		a.opts.Version, len(a.manager.All()), snap.TotalDocuments())

	<-ctx.Done()

	logging.Info("App", "Shutting down")
	shutdownCtx := context.Background()
	if err := a.mcp.Stop(shutdownCtx); err != nil {
		logging.Error("App", err, "MCP server shutdown")
	}
	if err := a.http.Stop(shutdownCtx); err != nil {
		logging.Error("App", err, "HTTP server shutdown")
	}
	return nil
}

// Engine exposes the engine for embedding and tests.
func (a *Application) Engine() *engine.Engine {
	return a.engine
}

// initLogging configures the process logger. Stdio MCP transport owns
// stdout, so logs go to stderr in that mode. cfg may be nil before the
// configuration is loaded.
func initLogging(opts Options, cfg *config.Config) {
	level := logging.LevelInfo
	if cfg != nil {
		level = logging.ParseLevel(cfg.Logging.Level)
	}
	if opts.Debug {
		level = logging.LevelDebug
	}
	var out io.Writer = os.Stdout
	if cfg != nil && cfg.Server.MCPTransport == config.MCPTransportStdio {
		out = os.Stderr
	}
	if opts.Silent {
		out = io.Discard
	}
	logging.Init(level, out)
}

func breakerSettings(bc config.BreakerConfig) breaker.Settings {
	s := breaker.DefaultSettings()
	if bc.FailureThreshold > 0 {
		s.FailureThreshold = bc.FailureThreshold
	}
	if bc.RollingWindow > 0 {
		s.RollingWindow = bc.RollingWindow.Std()
	}
	if bc.OpenDuration > 0 {
		s.OpenDuration = bc.OpenDuration.Std()
	}
	if bc.HalfOpenMaxProbes > 0 {
		s.HalfOpenMaxProbes = bc.HalfOpenMaxProbes
	}
	if bc.Timeout > 0 {
		s.Timeout = bc.Timeout.Std()
	}
	return s
}

// buildCache assembles the cache tiers. The redis password is resolved
// from the configured environment variable and never appears in logs or
// error messages.
func buildCache(cfg *config.Config) (*cache.Manager, error) {
	memory := cache.NewMemoryCache(cfg.Cache.Memory.MaxEntries)
	if cfg.Cache.Strategy != config.CacheStrategyHybrid {
		return cache.NewManager(memory, nil), nil
	}

	var password string
	if env := cfg.Cache.Remote.PasswordEnv; env != "" {
		var ok bool
		password, ok = os.LookupEnv(env)
		if !ok {
			return nil, fmt.Errorf("cache.remote.passwordEnv: environment variable %s is not set", env)
		}
	}
	remoteBreaker := breaker.New("remote-cache", breakerSettings(cfg.Cache.Remote.Breaker))
	remote := cache.NewRemoteCache(cache.RemoteOptions{
		Addr:     cfg.Cache.Remote.Addr,
		Password: password,
		DB:       cfg.Cache.Remote.DB,
	}, remoteBreaker)
	return cache.NewManager(memory, remote), nil
}

func buildIndexer(cfg *config.Config, manager *adapter.Manager, metrics *health.Metrics) (*index.Indexer, error) {
	var checkpoints *index.CheckpointStore
	if dir := cfg.Performance.CheckpointDir; dir != "" {
		var err error
		checkpoints, err = index.NewCheckpointStore(dir)
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint store: %w", err)
		}
	}

	detector := index.NewDetector(index.DetectorConfig{
		KeywordDetection: cfg.Matching.KeywordDetection,
		Keywords:         cfg.Matching.RunbookKeywords,
	})

	var ix *index.Indexer
	ix = index.NewIndexer(manager, index.Options{
		Detector:      detector,
		Checkpoints:   checkpoints,
		DeletionGrace: cfg.Performance.DeletionGrace.Std(),
		OnChange: func(cs *api.ChangeSet, epoch uint64) {
			metrics.SetCorpus(epoch, ix.Snapshot().TotalDocuments())
		},
	})
	return ix, nil
}
