package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skillsmith/skillsmith/internal/api"
	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/coinstall"
	"github.com/skillsmith/skillsmith/internal/config"
	"github.com/skillsmith/skillsmith/internal/embed"
	"github.com/skillsmith/skillsmith/internal/ingest"
	"github.com/skillsmith/skillsmith/internal/learning"
	"github.com/skillsmith/skillsmith/internal/pathsafe"
	"github.com/skillsmith/skillsmith/internal/ratelimit"
	"github.com/skillsmith/skillsmith/internal/recommend"
	"github.com/skillsmith/skillsmith/internal/safety"
	"github.com/skillsmith/skillsmith/internal/search"
	"github.com/skillsmith/skillsmith/internal/syncctl"
	"github.com/skillsmith/skillsmith/internal/toolapi"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all runtime components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *catalog.Store
	Ingest    *ingest.Pipeline
	Sync      *syncctl.Controller
	Search    *search.Service
	Recommend *recommend.Engine
	Safety    *safety.Checker
	Learning  *learning.Layer
	CoInstall *coinstall.Graph
	Limits    *ratelimit.Registry
	ToolAPI   *toolapi.Service
	APIServer *api.Server
	Watcher   *config.Watcher

	configPath string
	apiCtx     context.Context
	apiCancel  context.CancelFunc
}

// apiDone returns the channel that closes once the API server's context
// is cancelled, or a never-closing channel if startServices hasn't run.
func (a *App) apiDone() <-chan struct{} {
	if a.apiCtx == nil {
		return make(chan struct{})
	}
	return a.apiCtx.Done()
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "skillsmith.json", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if flag.NArg() > 0 && flag.Arg(0) == "gateway" {
		if err := runGatewayCommand(flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
			return 1
		}
		return 0
	}

	if *showVersion {
		fmt.Printf("Skillsmith v%s (built %s)\n", version, buildTime)
		fmt.Println("Skill discovery, recommendation, and safe installation for agent toolchains")
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.Store.Close()

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	printBanner(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}

	return 0
}

// setup initializes all application components.
func setup(configPath string) (*App, error) {
	app := &App{configPath: configPath}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	app.Logger.Info("starting Skillsmith", "version", version, "config", configPath)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))

	pathOpts := pathsafe.Options{AllowedRoots: []string{cfg.Server.DataDir}}

	dbPath, err := pathsafe.Validate(cfg.CatalogPath(), pathsafe.Options{
		AllowedRoots:        []string{cfg.Server.DataDir},
		AllowMemorySentinel: true,
	})
	if err != nil {
		return nil, fmt.Errorf("validate catalog path: %w", err)
	}

	store, err := catalog.Open(catalog.Config{Path: dbPath, EmbeddingDims: cfg.Catalog.EmbeddingDims, Logger: app.Logger})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	app.Store = store

	embedder := newEmbedder(cfg)

	var privateKeyPEM []byte
	if cfg.Ingest.PrivateKeyPath != "" {
		keyPath, err := pathsafe.Validate(cfg.Ingest.PrivateKeyPath, pathOpts)
		if err != nil {
			return nil, fmt.Errorf("validate ingest private key path: %w", err)
		}
		privateKeyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read ingest private key: %w", err)
		}
	}
	pipeline, err := ingest.New(cfg.Ingest, privateKeyPEM, store, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("build ingestion pipeline: %w", err)
	}
	app.Ingest = pipeline

	app.Sync = syncctl.New(store, func(ctx context.Context, runID string) error {
		return app.Ingest.Run(ctx, runID)
	}, app.Logger)
	if err := app.Sync.SetFrequency(context.Background(), catalog.SyncFrequency(cfg.Sync.Frequency)); err != nil {
		app.Logger.Warn("invalid configured sync frequency, keeping prior value", "error", err)
	}
	if err := app.Sync.SetEnabled(context.Background(), cfg.Sync.Enabled); err != nil {
		app.Logger.Warn("failed to set sync enabled state", "error", err)
	}

	app.Search = search.New(store, embedder, search.DefaultWeights())
	app.Learning = learning.New(store, embedder, cfg.Learning)
	app.Recommend = recommend.New(app.Search, store, app.Learning.Verdicts, cfg.Recommend)
	app.Safety = safety.New(store, cfg.Safety)
	app.CoInstall = coinstall.New(store)
	app.Limits = ratelimit.NewRegistry(cfg.RateLimits)

	app.ToolAPI = toolapi.New(
		store, app.Search, app.Recommend, app.Safety, app.Learning, app.CoInstall,
		app.Sync, app.Limits, pathOpts, cfg, app.Logger,
	)
	app.APIServer = api.NewServer(cfg.Server.Port, app.ToolAPI, app.Logger)

	app.Watcher = config.NewWatcher(configPath, 5*time.Second, app.Logger, func() {
		app.reloadConfig()
	})

	return app, nil
}

// reloadConfig re-reads the config file and applies the subset of
// settings safe to change without a restart: rate-limit presets and the
// sync schedule. Everything else (data dir, catalog path, embed backend,
// server port) requires a process restart to take effect.
func (a *App) reloadConfig() {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		a.Logger.Error("config reload failed, keeping prior settings", "error", err)
		return
	}

	a.Limits.Reload(cfg.RateLimits)
	if err := a.Sync.SetFrequency(context.Background(), catalog.SyncFrequency(cfg.Sync.Frequency)); err != nil {
		a.Logger.Warn("config reload: invalid sync frequency, keeping prior value", "error", err)
	}
	if err := a.Sync.SetEnabled(context.Background(), cfg.Sync.Enabled); err != nil {
		a.Logger.Warn("config reload: failed to set sync enabled state", "error", err)
	}
	a.Config = cfg
	a.Logger.Info("config reloaded", "path", a.configPath)
}

// newEmbedder builds the configured embedding backend, falling back to
// the dependency-free hashing embedder when no endpoint is configured.
func newEmbedder(cfg *config.Config) embed.Embedder {
	return embed.New(embed.Config{
		BaseURL: cfg.Embed.BaseURL, APIKey: cfg.Embed.APIKey, Model: cfg.Embed.Model, Dims: cfg.Catalog.EmbeddingDims,
	})
}

// loadConfig loads configuration from file or creates a default one.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startServices starts the HTTP API server and installs the
// platform-specific signal handlers that cancel its context.
func startServices(app *App) error {
	app.apiCtx, app.apiCancel = context.WithCancel(context.Background())
	setupSignalHandlers(app.apiCtx, app.apiCancel, app.Logger, app.reloadConfig)
	if app.Watcher != nil {
		app.Watcher.Start()
	}
	go func() {
		if err := app.APIServer.Start(app.apiCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// printBanner displays the startup banner.
func printBanner(app *App) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════╗")
	fmt.Println("  ║        Skillsmith v" + version + "                ║")
	fmt.Println("  ║  Skill discovery & safe installation   ║")
	fmt.Println("  ╚═══════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  API: http://localhost:%d/api/v1\n", app.Config.Server.Port)
	fmt.Printf("  Data dir: %s\n", app.Config.Server.DataDir)
	fmt.Printf("  Sync: enabled=%v frequency=%s\n", app.Config.Sync.Enabled, app.Config.Sync.Frequency)
	fmt.Println()
}

// waitForShutdown blocks until the API server's context is cancelled by
// a signal handler installed in startServices, then reports completion.
func waitForShutdown(app *App) error {
	<-app.apiDone()
	if app.Watcher != nil {
		app.Watcher.Stop()
	}
	app.Logger.Info("Skillsmith stopped")
	return nil
}
