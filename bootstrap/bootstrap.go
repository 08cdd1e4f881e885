// Package bootstrap wires all dependencies and starts the application.
// The module tree is assembled once at startup; only logging settings follow
// configuration reloads.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/convey/adapters/cookie"
	"github.com/artpar/convey/adapters/hasher"
	apihttp "github.com/artpar/convey/adapters/http"
	"github.com/artpar/convey/adapters/http/admin"
	"github.com/artpar/convey/adapters/metrics"
	"github.com/artpar/convey/config"
	"github.com/artpar/convey/core/assembly"
	"github.com/artpar/convey/core/builtin"
	"github.com/artpar/convey/core/discovery"
	"github.com/artpar/convey/core/dispatch"
	"github.com/artpar/convey/core/openapi"
	"github.com/artpar/convey/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// EnvConfigPath names the config file when no flag is given.
const EnvConfigPath = "CONVEY_CONFIG"

// App represents the running application.
type App struct {
	Logger      zerolog.Logger
	Config      *config.Config
	Store       *storage.SQLiteStore
	Application *assembly.Application
	Pipeline    *dispatch.Pipeline
	HTTPServer  *http.Server
	Metrics     *metrics.Collector

	holder    *config.Holder
	logOutput *logOutput
}

// Options provides optional collaborators for New.
type Options struct {
	// Holder enables live reload of logging settings. When set, its current
	// config is used and the cfg argument of New may be nil.
	Holder *config.Holder

	// FS overrides the directory named by app.root.
	FS fs.FS

	// Symbols are merged over the builtin handlers.
	Symbols discovery.Symbols

	// LogOutput overrides stdout.
	LogOutput io.Writer

	Version string
}

// New creates and initializes the application.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Holder != nil {
		cfg = opts.Holder.Get()
	}
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: no configuration")
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger, output := newLogger(out, cfg.Logging)
	logger.Info().Str("app", cfg.App.Name).Str("root", cfg.App.Root).Msg("initializing convey")

	a := &App{
		Logger:    logger,
		Config:    cfg,
		holder:    opts.Holder,
		logOutput: output,
	}

	if err := a.initDatabase(); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.NewWithRegistry(registry)
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initApplication(opts); err != nil {
		a.Store.Close()
		return nil, fmt.Errorf("assemble: %w", err)
	}

	if err := a.initHTTPServer(registry, opts.Version); err != nil {
		a.Store.Close()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	if a.holder != nil {
		a.holder.OnChange(a.applyConfig)
		if a.Metrics != nil {
			a.holder.OnReload(a.Metrics.RecordConfigReload)
		}
	}

	return a, nil
}

func (a *App) initDatabase() error {
	store, err := storage.NewSQLiteStore(a.Config.Database.DSN)
	if err != nil {
		return err
	}
	a.Store = store
	a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) initApplication(opts Options) error {
	ctx := context.Background()

	fsys := opts.FS
	if fsys == nil {
		fsys = os.DirFS(a.Config.App.Root)
	}

	var observer assembly.Observer
	if a.Metrics != nil {
		observer = a.Metrics
	}

	application, err := Assemble(ctx, AssembleOptions{
		Config:   a.Config,
		FS:       fsys,
		Store:    a.Store,
		Symbols:  opts.Symbols,
		Logger:   a.Logger,
		Observer: observer,
	})
	if err != nil {
		return err
	}
	a.Application = application

	for _, model := range application.Models.All() {
		if err := a.Store.CreateTable(ctx, model); err != nil {
			return fmt.Errorf("create table %s: %w", model.TableName, err)
		}
	}

	for _, p := range apihttp.Shadowed(application.Routes) {
		a.Logger.Warn().Str("route", p).Msg("route shadowed by a host endpoint")
	}
	return nil
}

func (a *App) initHTTPServer(registry *prometheus.Registry, version string) error {
	cfg := a.Config

	var signer *cookie.Signer
	if cfg.Cookies.Secret != "" {
		s, err := cookie.NewSigner(cfg.Cookies.Secret)
		if err != nil {
			return err
		}
		signer = s
	} else {
		a.Logger.Warn().Msg("cookies.secret not set, cookies are written unsigned")
	}
	persister := cookie.NewPersister(signer, cookie.Defaults{
		Domain:   cfg.Cookies.Domain,
		Secure:   cfg.Cookies.Secure,
		HTTPOnly: cfg.Cookies.HTTPOnly,
	})

	pipelineOpts := []dispatch.Option{dispatch.WithPersister(persister)}
	if a.Metrics != nil {
		pipelineOpts = append(pipelineOpts, dispatch.WithObserver(a.Metrics))
	}
	a.Pipeline = dispatch.New(a.Application.Matcher, a.Logger, pipelineOpts...)

	routerCfg := apihttp.RouterConfig{
		Pipeline: a.Pipeline,
		Health:   apihttp.NewHealthHandler(a.Store),
		Version:  version,
		Timeout:  cfg.Server.WriteTimeout,
	}
	if a.Metrics != nil {
		routerCfg.Metrics = a.Metrics
		routerCfg.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	if cfg.OpenAPI.Enabled {
		gen := openapi.NewGenerator(a.Application.Routes, a.Application.Models)
		title := cfg.OpenAPI.Title
		if title == "" {
			title = cfg.App.Name
		}
		gen.SetInfo(openapi.Info{Title: title, Version: versionOr(version)})
		routerCfg.OpenAPI = gen
	}

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apihttp.NewRouter(a.Logger, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// applyConfig applies the reloadable settings of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	applyLevel(cfg.Logging.Level)
	a.logOutput.SetFormat(cfg.Logging.Format)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// Run starts the HTTP server and blocks until a shutdown signal.
func (a *App) Run() error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watching disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Int("routes", a.Application.Routes.Len()).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// AssembleOptions configures Assemble.
type AssembleOptions struct {
	Config   *config.Config
	FS       fs.FS
	Store    storage.Store
	Symbols  discovery.Symbols
	Logger   zerolog.Logger
	Observer assembly.Observer
}

// Assemble builds the application described by opts.Config without serving
// it. The admin generator is included when admin is enabled.
func Assemble(ctx context.Context, opts AssembleOptions) (*assembly.Application, error) {
	cfg := opts.Config

	fsys := opts.FS
	if fsys == nil {
		fsys = os.DirFS(cfg.App.Root)
	}

	symbols := builtin.Symbols(opts.Store)
	if opts.Symbols != nil {
		symbols = symbols.Merge(opts.Symbols)
	}

	asmOpts := assembly.Options{
		FS:       fsys,
		App:      cfg.App.Name,
		Suffix:   cfg.App.Suffix,
		Marker:   cfg.App.ExcludeMarker,
		Index:    cfg.App.StripSegments,
		Symbols:  symbols,
		Logger:   opts.Logger,
		Observer: opts.Observer,
	}

	if cfg.Admin.Enabled {
		adminOpts := admin.Options{
			BasePath: cfg.Admin.BasePath,
			Store:    opts.Store,
			Logger:   opts.Logger,
		}
		if cfg.Admin.PasswordHash != "" {
			if err := hasher.Check(cfg.Admin.PasswordHash); err != nil {
				return nil, err
			}
			adminOpts.Credentials = &admin.Credentials{
				Username:     cfg.Admin.Username,
				PasswordHash: []byte(cfg.Admin.PasswordHash),
			}
		} else {
			opts.Logger.Warn().Str("base_path", cfg.Admin.BasePath).Msg("admin routes are not password protected")
		}
		asmOpts.Generator = admin.New(adminOpts)
	}

	return assembly.Assemble(ctx, asmOpts)
}

func versionOr(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}
