package module

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/CrisisTextLine/modular"

	"github.com/GoCodeAlone/hookrelay/config"
)

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// ForwardRouter binds the configured webhook routes onto the HTTP router
// and handles inbound messages: admission checks, payload decoding,
// transformation, history recording and dispatch. Rebind replaces the
// bound set whenever the route catalogue changes, so removed paths stop
// matching without a restart.
type ForwardRouter struct {
	name        string
	store       *config.Store
	transformer *Transformer
	history     *MessageHistory
	dispatcher  *Dispatcher
	router      *GatewayHTTPRouter
	metrics     *MetricsCollector
	logger      modular.Logger
}

// NewForwardRouter creates the forwarding route module.
func NewForwardRouter(name string, store *config.Store, transformer *Transformer, history *MessageHistory, dispatcher *Dispatcher, router *GatewayHTTPRouter) *ForwardRouter {
	return &ForwardRouter{
		name:        name,
		store:       store,
		transformer: transformer,
		history:     history,
		dispatcher:  dispatcher,
		router:      router,
	}
}

// Name returns the module name.
func (f *ForwardRouter) Name() string {
	return f.name
}

// Init initializes the module with the application context.
func (f *ForwardRouter) Init(app modular.Application) error {
	f.logger = app.Logger()
	app.RegisterService("forward.router", f)
	return nil
}

// SetMetrics wires the optional metrics collector.
func (f *ForwardRouter) SetMetrics(m *MetricsCollector) {
	f.metrics = m
}

// Start binds the configured routes.
func (f *ForwardRouter) Start(ctx context.Context) error {
	f.Rebind()
	return nil
}

// Stop is a no-op.
func (f *ForwardRouter) Stop(ctx context.Context) error {
	return nil
}

// Rebind rebuilds the dynamic route set from the current configuration.
func (f *ForwardRouter) Rebind() {
	doc := f.store.Snapshot()

	var bound []Route
	for _, path := range slices.Sorted(maps.Keys(doc.Routes)) {
		route := doc.Routes[path]
		for _, raw := range route.MethodsOrDefault() {
			method := strings.ToUpper(raw)
			if !supportedMethods[method] {
				f.logger.Warn("unsupported HTTP method on route", "method", raw, "path", path)
				continue
			}
			if f.router.HasRoute(method, path) {
				f.logger.Warn("route path reserved by management API, skipping", "method", method, "path", path)
				continue
			}
			bound = append(bound, Route{Method: method, Path: path, Handler: f.handler(path, route)})
			f.logger.Info("webhook route bound", "method", method, "path", path)
		}
	}

	f.router.ReplaceDynamic(bound)
}

// handler builds the request handler for one bound route. The route
// settings are captured at bind time; Rebind refreshes them after every
// catalogue change.
func (f *ForwardRouter) handler(path string, route *config.Route) HTTPHandler {
	return HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.admit(w, r, route) {
			return
		}

		payload := DecodeRequestBody(r)
		if f.metrics != nil {
			f.metrics.RecordMessageReceived(path)
		}

		doc := f.store.Snapshot()
		message := f.transformer.Apply(payload, route.Preprocess, route.Template, doc.Templates)

		if _, ok := message["_route"]; !ok {
			message["_route"] = map[string]any{
				"path":      path,
				"method":    r.Method,
				"timestamp": float64(time.Now().UnixMilli()),
			}
		}

		f.logger.Info("message received", "path", path)
		f.history.Add(message)
		if f.metrics != nil {
			f.metrics.SetHistorySize(f.history.Len())
		}

		results := f.dispatcher.Dispatch(r.Context(), message, route.TargetIDs)

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": fmt.Sprintf("消息已接收并通过路由 %s 处理", path),
			"results": results,
		})
	})
}

// admit enforces the route's header and query parameter requirements.
// Headers are checked before query parameters, an empty expected value
// requires presence only.
func (f *ForwardRouter) admit(w http.ResponseWriter, r *http.Request, route *config.Route) bool {
	for _, name := range slices.Sorted(maps.Keys(route.Headers)) {
		want := route.Headers[name]
		values := r.Header.Values(name)
		if len(values) == 0 {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("缺少必要的请求头: %s", name))
			return false
		}
		if want != "" && values[0] != want {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("请求头 %s 的值不匹配", name))
			return false
		}
	}

	query := r.URL.Query()
	for _, name := range slices.Sorted(maps.Keys(route.QueryParams)) {
		want := route.QueryParams[name]
		values, ok := query[name]
		if !ok {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("缺少必要的查询参数: %s", name))
			return false
		}
		if want != "" && len(values) > 0 && values[0] != want {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("查询参数 %s 的值不匹配", name))
			return false
		}
	}

	return true
}

// ProvidesServices returns the services provided by this module.
func (f *ForwardRouter) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: "forward.router", Description: "Webhook forwarding routes", Instance: f},
	}
}

// RequiresServices returns services required by this module.
func (f *ForwardRouter) RequiresServices() []modular.ServiceDependency {
	return nil
}
