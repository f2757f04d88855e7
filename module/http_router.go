package module

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/CrisisTextLine/modular"
)

// Route binds one HTTP method and path to a handler.
type Route struct {
	Method  string
	Path    string
	Handler HTTPHandler
}

// GatewayHTTPRouter serves a permanent set of control-plane routes plus a
// dynamic set of forwarding routes that is replaced wholesale whenever the
// route catalogue changes. Requests dispatch against an immutable ServeMux
// snapshot rebuilt under the writer lock, so in-flight requests always see
// a consistent table and removed paths stop matching immediately.
type GatewayHTTPRouter struct {
	name      string
	logger    modular.Logger
	mu        sync.RWMutex
	permanent []Route
	dynamic   []Route
	serveMux  *http.ServeMux
}

// NewGatewayHTTPRouter creates a new HTTP router with no routes bound.
func NewGatewayHTTPRouter(name string) *GatewayHTTPRouter {
	return &GatewayHTTPRouter{name: name}
}

// Name returns the unique identifier for this module
func (r *GatewayHTTPRouter) Name() string {
	return r.name
}

// Init initializes the module with the application context
func (r *GatewayHTTPRouter) Init(app modular.Application) error {
	r.logger = app.Logger()
	return nil
}

// AddRoute adds a permanent route to the router. Permanent routes win over
// dynamic ones when both claim the same method and path.
func (r *GatewayHTTPRouter) AddRoute(method, path string, handler HTTPHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.permanent {
		if existing.Method == method && existing.Path == path {
			r.logWarn("route already exists, skipping", "method", method, "path", path)
			return
		}
	}

	r.permanent = append(r.permanent, Route{Method: method, Path: path, Handler: handler})

	// Rebuild the mux if we've already started (hot-add support)
	if r.serveMux != nil {
		r.rebuildMuxLocked()
	}
}

// ReplaceDynamic swaps the entire dynamic route set atomically.
func (r *GatewayHTTPRouter) ReplaceDynamic(routes []Route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dynamic = append([]Route(nil), routes...)

	if r.serveMux != nil {
		r.rebuildMuxLocked()
	}
}

// HasRoute checks if a permanent route with the given method and path exists
func (r *GatewayHTTPRouter) HasRoute(method, path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.permanent {
		if route.Method == method && route.Path == path {
			return true
		}
	}
	return false
}

// DynamicRoutes returns a copy of the currently bound dynamic routes.
func (r *GatewayHTTPRouter) DynamicRoutes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Route(nil), r.dynamic...)
}

// ServeHTTP implements the http.Handler interface
func (r *GatewayHTTPRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	mux := r.serveMux
	r.mu.RUnlock()

	if mux != nil {
		mux.ServeHTTP(w, req)
	} else {
		http.NotFound(w, req)
	}
}

// Start compiles all registered routes into the internal ServeMux.
func (r *GatewayHTTPRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rebuildMuxLocked()
	return nil
}

// rebuildMuxLocked creates a new ServeMux from the current routes.
// Caller must hold r.mu.
func (r *GatewayHTTPRouter) rebuildMuxLocked() {
	mux := http.NewServeMux()
	seen := make(map[string]bool)
	for _, route := range r.permanent {
		r.registerRoute(mux, seen, route)
	}
	for _, route := range r.dynamic {
		r.registerRoute(mux, seen, route)
	}
	r.serveMux = mux
}

func (r *GatewayHTTPRouter) registerRoute(mux *http.ServeMux, seen map[string]bool, route Route) {
	key := route.Method + " " + route.Path
	if seen[key] {
		r.logWarn("duplicate route skipped", "method", route.Method, "path", route.Path)
		return
	}

	handler := route.Handler
	ok := r.handle(mux, muxPattern(route.Method, route.Path), func(w http.ResponseWriter, req *http.Request) {
		handler.Handle(w, req)
	})
	if ok {
		seen[key] = true
	}
}

// handle registers a single pattern. ServeMux panics on malformed or
// conflicting patterns, and a bad configured path must not take the
// router down.
func (r *GatewayHTTPRouter) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logWarn("invalid route pattern skipped", "pattern", pattern, "error", fmt.Sprint(rec))
			ok = false
		}
	}()

	mux.HandleFunc(pattern, h)
	return true
}

// Stop is a no-op for router (implements Stoppable interface)
func (r *GatewayHTTPRouter) Stop(ctx context.Context) error {
	return nil // Nothing to stop
}

// ProvidesServices returns a list of services provided by this module
func (r *GatewayHTTPRouter) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        r.name,
			Description: "HTTP Router",
			Instance:    r,
		},
	}
}

// RequiresServices returns a list of services required by this module
func (r *GatewayHTTPRouter) RequiresServices() []modular.ServiceDependency {
	return nil
}

func (r *GatewayHTTPRouter) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

// muxPattern renders an exact-match ServeMux pattern. Without the {$}
// anchor a path ending in "/" would match the whole subtree below it.
func muxPattern(method, path string) string {
	if strings.HasSuffix(path, "/") {
		path += "{$}"
	}
	return method + " " + path
}
