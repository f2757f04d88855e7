package hookrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CrisisTextLine/modular"

	"github.com/GoCodeAlone/hookrelay/config"
	"github.com/GoCodeAlone/hookrelay/module"
	"github.com/GoCodeAlone/hookrelay/observability/tracing"
)

// Options controls how the gateway engine is assembled.
type Options struct {
	// Address is the listen address, e.g. "0.0.0.0:8080".
	Address string
	// ConfigPath is the JSON configuration file backing the gateway.
	ConfigPath string
	// WatchConfig enables reloading when the config file changes on disk.
	WatchConfig bool
	// OTLPEndpoint enables trace export when non-empty, e.g. "localhost:4318".
	OTLPEndpoint string
	// ServiceVersion is reported in traces when set.
	ServiceVersion string
}

// Engine assembles the gateway modules on a modular application and drives
// their lifecycle: configuration store, transform pipeline, dispatcher,
// management API, forwarding routes, HTTP stack and observability.
type Engine struct {
	app     modular.Application
	logger  *slog.Logger
	opts    Options
	store   *config.Store
	watcher *config.Watcher
	history *module.MessageHistory
	forward *module.ForwardRouter
	server  *module.GatewayHTTPServer
	router  *module.GatewayHTTPRouter
	metrics *module.MetricsCollector
	tracer  *tracing.Provider
}

// New builds a gateway engine. The configuration file is loaded (or created
// with defaults) immediately so the first request already sees the catalogue.
func New(logger *slog.Logger, opts Options) *Engine {
	app := modular.NewStdApplication(nil, logger)

	store := config.NewStore(opts.ConfigPath, logger)
	store.Load()
	doc := store.Snapshot()

	transformer := module.NewTransformer("message.transformer")
	formatter := module.NewTargetFormatter("message.formatter")
	history := module.NewMessageHistory("message.history", doc.HistoryCapacity())
	dispatcher := module.NewDispatcher("message.dispatcher", store, formatter)
	metrics := module.NewMetricsCollector("metrics.collector")
	dispatcher.SetMetrics(metrics)

	router := module.NewGatewayHTTPRouter("http.router")
	server := module.NewGatewayHTTPServer("http.server", opts.Address)
	server.AddRouter(router)

	forward := module.NewForwardRouter("forward.router", store, transformer, history, dispatcher, router)
	forward.SetMetrics(metrics)

	api := module.NewControlAPI("control.api", store, history, dispatcher)
	api.SetMetrics(metrics)
	api.SetRebind(forward.Rebind)
	api.RegisterRoutes(router)

	router.AddRoute(http.MethodGet, metrics.MetricsPath(), module.NewHTTPHandlerAdapter(metrics.Handler()))

	recovery := module.NewRecoveryMiddleware("middleware.recovery")
	requestID := module.NewRequestIDMiddleware("middleware.requestid")
	logging := module.NewLoggingMiddleware("middleware.logging")
	cors := module.NewCORSMiddleware("middleware.cors",
		[]string{"*"},
		[]string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	server.Use(
		recovery,
		module.MiddlewareFunc(tracing.SpanMiddleware),
		requestID,
		module.NewMetricsMiddleware("middleware.metrics", metrics),
		logging,
		cors,
	)

	for _, mod := range []modular.Module{
		transformer,
		formatter,
		history,
		dispatcher,
		metrics,
		recovery,
		requestID,
		logging,
		cors,
		router,
		api,
		forward,
		server,
	} {
		app.RegisterModule(mod)
	}

	engine := &Engine{
		app:     app,
		logger:  logger,
		opts:    opts,
		store:   store,
		history: history,
		forward: forward,
		server:  server,
		router:  router,
		metrics: metrics,
	}

	if opts.WatchConfig {
		engine.watcher = config.NewWatcher(store, engine.onConfigChange,
			config.WithWatchLogger(logger))
	}

	return engine
}

// Store returns the configuration store.
func (e *Engine) Store() *config.Store {
	return e.store
}

// Handler returns the fully assembled HTTP handler, middleware included.
func (e *Engine) Handler() (http.Handler, error) {
	return e.server.Handler()
}

// Start initializes and starts all modules, then begins watching the
// configuration file when enabled.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.OTLPEndpoint != "" {
		provider, err := tracing.NewProvider(ctx, tracing.Config{
			Endpoint:       e.opts.OTLPEndpoint,
			ServiceName:    "hookrelay",
			ServiceVersion: e.opts.ServiceVersion,
			Insecure:       true,
			SampleRate:     1.0,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		e.tracer = provider
		e.logger.Info("trace export enabled", "endpoint", e.opts.OTLPEndpoint)
	}

	if err := e.app.Init(); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}
	if err := e.app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	if e.watcher != nil {
		if err := e.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
	}

	return nil
}

// Stop shuts the engine down: watcher first, then all modules, then the
// trace exporter so pending spans flush.
func (e *Engine) Stop(ctx context.Context) error {
	var lastErr error

	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			lastErr = fmt.Errorf("failed to stop config watcher: %w", err)
			e.logger.Error(lastErr.Error())
		}
	}

	if err := e.app.Stop(); err != nil {
		lastErr = fmt.Errorf("failed to stop application: %w", err)
		e.logger.Error(lastErr.Error())
	}

	if e.tracer != nil {
		if err := e.tracer.Shutdown(ctx); err != nil {
			lastErr = fmt.Errorf("failed to shut down tracing: %w", err)
			e.logger.Error(lastErr.Error())
		}
	}

	return lastErr
}

// onConfigChange applies a reloaded configuration document. Only the parts
// that actually changed are acted on: history capacity is adjusted when
// resized and the forwarding routes are rebound only when a route was
// added, removed or edited.
func (e *Engine) onConfigChange(ev config.ChangeEvent) {
	diff := config.DiffDocuments(ev.Previous, ev.Document)
	if diff.Empty() {
		e.logger.Debug("config reloaded without catalogue changes", "path", ev.Path)
		return
	}

	e.logger.Info("config reloaded from disk", "path", ev.Path, "changes", diff.Summary())

	if diff.HistoryResized {
		e.history.SetCapacity(ev.Document.HistoryCapacity())
	}
	if diff.RoutesChanged() {
		e.forward.Rebind()
		e.logger.Info("forwarding routes rebound after config change", "path", ev.Path)
	}
}
