// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"manifest-extractor-go/pkg/appctx"
	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/extractor"
	"manifest-extractor-go/pkg/fetcher"
	"manifest-extractor-go/pkg/flaresolverr"
	"manifest-extractor-go/pkg/handlers/api"
	"manifest-extractor-go/pkg/httpclient"
	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/registry"
	"manifest-extractor-go/pkg/sandbox/browser"
	"manifest-extractor-go/pkg/sandbox/vm"
	"manifest-extractor-go/pkg/server"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Backends   *registry.BackendRegistry
	Engine     *extractor.Engine
}

// New loads configuration from configPath (or CONFIG_FILE) and the
// environment, then wires the application.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, os.Stderr)
	return NewWithConfig(cfg, log)
}

// NewWithConfig wires the application from an already loaded config.
func NewWithConfig(cfg *config.Config, log *logging.Logger) (*App, error) {
	log.Info("initializing manifest extractor",
		"port", cfg.Port,
		"backend", cfg.SandboxBackend,
		"log_level", cfg.LogLevel,
	)

	// Create application context
	ctx := appctx.New(cfg, log)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, nil, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL, "domains", cfg.FlareSolverrDomains)
	}

	pages := fetcher.New(httpClient, flareClient, fetcher.OptionsFromConfig(cfg), log)

	backends, err := registerBackends(cfg, pages, log)
	if err != nil {
		return nil, err
	}
	ctx.WithBackends(backends)

	engine := extractor.New(pages, backends, extractor.Options{
		PollSteps:       cfg.PollSteps,
		PollInterval:    cfg.PollInterval,
		ScriptAllowList: cfg.ScriptAllowList,
	}, log)
	ctx.WithExtractor(engine)

	// Create HTTP server
	srv := server.New(cfg, log)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Backends:   backends,
		Engine:     engine,
	}, nil
}

// registerBackends registers the sandbox backends.
// The vm backend is always available. Chrome serves CHROME_DOMAINS, or
// every URL when it is the configured backend.
func registerBackends(cfg *config.Config, pages interfaces.PageFetcher, log *logging.Logger) (*registry.BackendRegistry, error) {
	reg := registry.NewBackendRegistry()

	vmBuilder := vm.NewBuilder(pages, vm.Options{
		ScriptTimeout: cfg.ScriptTimeout,
		AllowList:     cfg.ScriptAllowList,
		UserAgent:     cfg.UserAgent,
	}, log)

	useChrome := cfg.SandboxBackend == config.BackendChrome || len(cfg.Chrome.Domains) > 0
	if !useChrome {
		reg.SetFallback(vmBuilder)
		log.Info("registered sandbox backends", "backends", reg.Names())
		return reg, nil
	}

	chrome := browser.NewBuilder(browser.OptionsFromConfig(cfg), log)
	switch cfg.SandboxBackend {
	case config.BackendChrome:
		reg.Register(vmBuilder)
		reg.SetFallback(chrome)
	case config.BackendVM:
		reg.Register(chrome)
		reg.SetFallback(vmBuilder)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.SandboxBackend)
	}

	log.Info("registered sandbox backends", "backends", reg.Names())
	return reg, nil
}

// Handler returns the full HTTP handler, middleware included.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Run serves HTTP until ctx is cancelled. In serverless mode the platform
// owns the listener and Run returns immediately.
func (a *App) Run(ctx context.Context) error {
	if a.Ctx.Config.Serverless {
		a.Ctx.Log.Info("serverless mode, listener disabled")
		return nil
	}
	a.Ctx.Log.Info("starting manifest extractor server", "port", a.Ctx.Config.Port)
	return a.Server.Start(ctx)
}

// Shutdown releases the sandbox backends.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if err := a.Backends.Close(); err != nil {
		a.Ctx.Log.Warn("closing sandbox backends", "error", err)
	}
}
