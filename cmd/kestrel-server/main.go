// Command kestrel-server runs the TTS serving engine (§6.4): it loads
// configuration, wires the Text Segmenter, G2P Stage, Multi-Session
// Manager, Streaming Engine, Keep-Alive Service, and HTTP API together
// under one core.App, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelvox/kestrel/backend"
	"github.com/kestrelvox/kestrel/cache"
	_ "github.com/kestrelvox/kestrel/cache/providers/inmemory"
	"github.com/kestrelvox/kestrel/capability"
	"github.com/kestrelvox/kestrel/config"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/g2p"
	"github.com/kestrelvox/kestrel/httpapi"
	"github.com/kestrelvox/kestrel/keepalive"
	"github.com/kestrelvox/kestrel/o11y"
	"github.com/kestrelvox/kestrel/resilience"
	"github.com/kestrelvox/kestrel/segment"
	"github.com/kestrelvox/kestrel/streaming"
)

const envPrefix = "KESTREL"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a JSON config file (default: load from KESTREL_* environment variables)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel-server: config: %v\n", err)
		return 1
	}

	logger := o11y.NewLogger(logOptions(cfg)...)
	ctx := o11y.WithLogger(context.Background(), logger)

	if _, err := o11y.InitPrometheusExporter("kestrel-server"); err != nil {
		logger.Error(ctx, "failed to initialize metrics exporter", "error", err)
		return 1
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to build app", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		logger.Error(ctx, "failed to start", "error", err)
		return 1
	}
	logger.Info(ctx, "kestrel-server started", "listen_addr", cfg.ListenAddr)

	<-ctx.Done()
	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "error during shutdown", "error", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*Config, error) {
	if path != "" {
		return config.Load[Config](path)
	}
	return config.LoadFromEnv[Config](envPrefix)
}

func logOptions(cfg *Config) []o11y.LogOption {
	opts := []o11y.LogOption{o11y.WithLogLevel(cfg.LogLevel)}
	if cfg.LogJSON {
		opts = append(opts, o11y.WithJSON())
	}
	return opts
}

// buildApp wires every component described in §4 into a core.App in
// dependency order: Multi-Session Manager first (so the HTTP layer and
// Keep-Alive Service both have a live Manager to call), then the
// Keep-Alive Service, then the HTTP listener last so it never accepts
// traffic before its collaborators exist.
func buildApp(cfg *Config, logger *o11y.Logger) (*core.App, error) {
	caps := capability.Detect()

	runtime, err := backend.NewNativeRuntime()
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	modelCache := backend.NewModelCache(runtime)
	coordinator := backend.NewCoordinator()

	managerCfg := backend.ManagerConfig{
		ShortThreshold:                 cfg.ShortThreshold,
		MaxConcurrentANE:               cfg.MaxConcurrentANE,
		MaxConcurrentGPU:               cfg.MaxConcurrentGPU,
		MaxConcurrentCPU:               cfg.MaxConcurrentCPU,
		TransientRetriesBeforeDegraded: cfg.TransientRetriesBeforeDegraded,
	}
	manager := backend.NewManager(managerCfg, modelCache, coordinator, caps)

	manager.RegisterModelPath(backend.CPU, cfg.ModelDirCPU)
	if caps.HasGPU && cfg.ModelDirGPU != "" {
		manager.RegisterModelPath(backend.GPU, cfg.ModelDirGPU)
	}
	if caps.HasANE && cfg.ModelDirANE != "" {
		manager.RegisterModelPath(backend.ANE, cfg.ModelDirANE)
	}

	// Pay CPU cold-start cost once at boot rather than on the first real
	// request; GPU/ANE initialize lazily on first route since they're
	// optional accelerators a misconfigured model path shouldn't block
	// startup over.
	if _, err := manager.Initialize(backend.CPU); err != nil {
		logger.Warn(context.Background(), "CPU backend failed to initialize at startup and is unavailable until recovered", "error", err)
	}

	segmenter := &segment.Segmenter{
		ShortThreshold:  cfg.ShortThreshold,
		PrimerMaxChars:  cfg.PrimerMaxChars,
		SegmentMaxChars: cfg.SegmentMaxChars,
	}

	g2pStage := &g2p.Stage{
		PrimaryBudget:    time.Duration(cfg.PrimaryG2PBudgetMs) * time.Millisecond,
		MaxPhonemeLength: cfg.MaxPhonemeLength,
		CacheTTL:         cfg.g2pCacheTTL(),
		PrimaryBreaker:   resilience.NewCircuitBreaker(5, 30*time.Second),
	}
	if cfg.G2PCacheCapacity > 0 {
		g2pCache, err := cache.New("inmemory", cache.Config{MaxSize: cfg.G2PCacheCapacity, TTL: cfg.g2pCacheTTL()})
		if err != nil {
			return nil, fmt.Errorf("g2p cache: %w", err)
		}
		g2pStage.Cache = g2pCache
	}

	primerCache, err := streaming.NewPrimerCache(cfg.PrimerCacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("primer cache: %w", err)
	}
	inferenceCache, err := streaming.NewInferenceCache(cfg.InferenceCacheCapacity, cfg.inferenceCacheTTL())
	if err != nil {
		return nil, fmt.Errorf("inference cache: %w", err)
	}

	engine := streaming.NewEngine(streaming.Config{ChunkTargetMs: cfg.ChunkTargetMs}, segmenter, g2pStage, manager, primerCache, inferenceCache)

	keepAliveSvc := keepalive.New(keepalive.Config{
		Enabled:       cfg.KeepAliveEnabled,
		Interval:      cfg.keepAliveInterval(),
		IdleThreshold: cfg.keepAliveIdleThreshold(),
	}, manager)

	healthRegistry := o11y.NewHealthRegistry()
	healthRegistry.Register("keepalive", o11y.HealthCheckerFunc(func(_ context.Context) o11y.HealthResult {
		return mapHealth(keepAliveSvc.Health())
	}))

	handler := httpapi.New(engine, manager, primerCache, inferenceCache, caps, healthRegistry, httpapi.Options{
		MaxTextLen:            cfg.MaxTextLen,
		RequestTimeout:        cfg.requestTimeout(),
		Voices:                cfg.Voices,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
	})

	httpComp := newHTTPComponent(cfg.ListenAddr, handler.Mux())

	app := core.NewApp()
	app.Register(keepAliveSvc, httpComp)
	return app, nil
}

// mapHealth converts a core.Lifecycle health status (keepalive.Service's
// native shape) to the o11y.HealthResult shape GET /health aggregates.
func mapHealth(s core.HealthStatus) o11y.HealthResult {
	var status o11y.HealthStatus
	switch s.Status {
	case core.HealthHealthy:
		status = o11y.Healthy
	case core.HealthDegraded:
		status = o11y.Degraded
	default:
		status = o11y.Unhealthy
	}
	return o11y.HealthResult{Status: status, Message: s.Message, Timestamp: s.Timestamp}
}
