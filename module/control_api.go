package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/CrisisTextLine/modular"

	"github.com/GoCodeAlone/hookrelay/config"
)

var errNotFound = errors.New("not found")

// ControlAPI exposes the management endpoints: target CRUD, route CRUD,
// message history, test dispatch and the health probe. Response bodies keep
// the wire shapes existing clients already parse.
type ControlAPI struct {
	name       string
	store      *config.Store
	history    *MessageHistory
	dispatcher *Dispatcher
	metrics    *MetricsCollector
	logger     modular.Logger
	rebind     func()
}

// NewControlAPI creates the management API module.
func NewControlAPI(name string, store *config.Store, history *MessageHistory, dispatcher *Dispatcher) *ControlAPI {
	return &ControlAPI{
		name:       name,
		store:      store,
		history:    history,
		dispatcher: dispatcher,
	}
}

// Name returns the module name.
func (c *ControlAPI) Name() string {
	return c.name
}

// Init initializes the module with the application context.
func (c *ControlAPI) Init(app modular.Application) error {
	c.logger = app.Logger()
	app.RegisterService("control.api", c)
	return nil
}

// SetMetrics wires the optional metrics collector.
func (c *ControlAPI) SetMetrics(m *MetricsCollector) {
	c.metrics = m
}

// SetRebind wires the callback invoked after the route catalogue changes.
func (c *ControlAPI) SetRebind(fn func()) {
	c.rebind = fn
}

// RegisterRoutes binds the management endpoints on the given router.
func (c *ControlAPI) RegisterRoutes(router *GatewayHTTPRouter) {
	router.AddRoute(http.MethodGet, "/targets", HTTPHandlerFunc(c.listTargets))
	router.AddRoute(http.MethodPost, "/targets", HTTPHandlerFunc(c.addTarget))
	router.AddRoute(http.MethodPut, "/targets/{id}", HTTPHandlerFunc(c.updateTarget))
	router.AddRoute(http.MethodDelete, "/targets/{id}", HTTPHandlerFunc(c.deleteTarget))
	router.AddRoute(http.MethodGet, "/routes", HTTPHandlerFunc(c.listRoutes))
	router.AddRoute(http.MethodPost, "/routes", HTTPHandlerFunc(c.addRoute))
	router.AddRoute(http.MethodPut, "/routes/{path...}", HTTPHandlerFunc(c.updateRoute))
	router.AddRoute(http.MethodDelete, "/routes/{path...}", HTTPHandlerFunc(c.deleteRoute))
	router.AddRoute(http.MethodGet, "/history", HTTPHandlerFunc(c.getHistory))
	router.AddRoute(http.MethodPost, "/test", HTTPHandlerFunc(c.sendTestMessage))
	router.AddRoute(http.MethodGet, "/healthz", HTTPHandlerFunc(c.health))
}

func (c *ControlAPI) listTargets(w http.ResponseWriter, r *http.Request) {
	doc := c.store.Snapshot()
	targets := doc.Targets
	if targets == nil {
		targets = []config.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (c *ControlAPI) addTarget(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if _, ok := body["name"]; !ok {
		writeDetail(w, http.StatusBadRequest, "目标必须包含name和url字段")
		return
	}
	if _, ok := body["url"]; !ok {
		writeDetail(w, http.StatusBadRequest, "目标必须包含name和url字段")
		return
	}

	if _, ok := body["id"]; !ok {
		body["id"] = c.nextTargetID()
	}
	if _, ok := body["enabled"]; !ok {
		body["enabled"] = true
	}

	var target config.Target
	if !decodeInto(w, body, &target) {
		return
	}

	err := c.store.Mutate(func(doc *config.Document) error {
		doc.Targets = append(doc.Targets, target)
		return nil
	})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	c.logger.Info("forwarding target added", "id", target.ID, "name", target.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已添加转发目标: %s", target.Name),
		"target":  target,
	})
}

func (c *ControlAPI) updateTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	update, ok := decodeBody(w, r)
	if !ok {
		return
	}

	var merged config.Target
	err := c.store.Mutate(func(doc *config.Document) error {
		for i := range doc.Targets {
			if doc.Targets[i].ID != id {
				continue
			}
			view, err := structToMap(doc.Targets[i])
			if err != nil {
				return err
			}
			for k, v := range update {
				view[k] = v
			}
			data, err := json.Marshal(view)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &merged); err != nil {
				return fmt.Errorf("目标字段类型无效: %w", err)
			}
			doc.Targets[i] = merged
			return nil
		}
		return errNotFound
	})
	if errors.Is(err, errNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到ID为 %s 的转发目标", id))
		return
	}
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	c.logger.Info("forwarding target updated", "id", id, "name", merged.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已更新转发目标: %s", merged.Name),
		"target":  merged,
	})
}

func (c *ControlAPI) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := c.store.Mutate(func(doc *config.Document) error {
		kept := doc.Targets[:0]
		for _, t := range doc.Targets {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		if len(kept) == len(doc.Targets) {
			return errNotFound
		}
		doc.Targets = kept
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到ID为 %s 的转发目标", id))
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	c.logger.Info("forwarding target deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已删除转发目标 ID: %s", id),
	})
}

func (c *ControlAPI) listRoutes(w http.ResponseWriter, r *http.Request) {
	doc := c.store.Snapshot()
	routes := doc.Routes
	if routes == nil {
		routes = map[string]*config.Route{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (c *ControlAPI) addRoute(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	rawPath, ok := body["path"].(string)
	if !ok || rawPath == "" {
		writeDetail(w, http.StatusBadRequest, "路由必须包含path字段")
		return
	}
	path := config.NormalizePath(rawPath)

	// Only the core routing keys are taken from the request; template and
	// preprocess settings are attached through updates.
	routeMap := map[string]any{
		"target_ids":   fieldOr(body, "target_ids", []any{}),
		"description":  fieldOr(body, "description", fmt.Sprintf("路由 %s", path)),
		"methods":      fieldOr(body, "methods", []any{"POST"}),
		"headers":      fieldOr(body, "headers", map[string]any{}),
		"query_params": fieldOr(body, "query_params", map[string]any{}),
	}
	var route config.Route
	if !decodeInto(w, routeMap, &route) {
		return
	}

	err := c.store.Mutate(func(doc *config.Document) error {
		if doc.Routes == nil {
			doc.Routes = make(map[string]*config.Route)
		}
		doc.Routes[path] = &route
		return nil
	})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.rebindRoutes()

	c.logger.Info("route added", "path", path, "targets", len(route.TargetIDs))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已添加路由: %s", path),
		"route":   routeView(path, &route),
	})
}

func (c *ControlAPI) updateRoute(w http.ResponseWriter, r *http.Request) {
	path := config.NormalizePath(r.PathValue("path"))
	update, ok := decodeBody(w, r)
	if !ok {
		return
	}

	var merged config.Route
	err := c.store.Mutate(func(doc *config.Document) error {
		existing, ok := doc.Routes[path]
		if !ok {
			return errNotFound
		}
		view, err := structToMap(existing)
		if err != nil {
			return err
		}
		for k, v := range update {
			view[k] = v
		}
		data, err := json.Marshal(view)
		if err != nil {
			return err
		}
		merged = config.Route{}
		if err := json.Unmarshal(data, &merged); err != nil {
			return fmt.Errorf("路由字段类型无效: %w", err)
		}
		doc.Routes[path] = &merged
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到路由: %s", path))
		return
	}
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	c.rebindRoutes()

	c.logger.Info("route updated", "path", path)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已更新路由: %s", path),
		"route":   routeView(path, &merged),
	})
}

func (c *ControlAPI) deleteRoute(w http.ResponseWriter, r *http.Request) {
	path := config.NormalizePath(r.PathValue("path"))

	err := c.store.Mutate(func(doc *config.Document) error {
		if _, ok := doc.Routes[path]; !ok {
			return errNotFound
		}
		delete(doc.Routes, path)
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到路由: %s", path))
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.rebindRoutes()

	c.logger.Info("route deleted", "path", path)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("已删除路由: %s", path),
	})
}

func (c *ControlAPI) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": c.history.Entries(limit)})
}

func (c *ControlAPI) sendTestMessage(w http.ResponseWriter, r *http.Request) {
	message := testMessage()
	targetID := r.URL.Query().Get("target_id")
	routePath := r.URL.Query().Get("route_path")

	switch {
	case targetID != "":
		doc := c.store.Snapshot()
		target := doc.FindTarget(targetID)
		if target == nil {
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到ID为 %s 的转发目标", targetID))
			return
		}
		ok := c.dispatcher.Deliver(r.Context(), message, target)
		status := "success"
		if !ok {
			status = "error"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  status,
			"message": fmt.Sprintf("测试消息已发送到: %s", target.Name),
			"result":  ok,
		})

	case routePath != "":
		path := config.NormalizePath(routePath)
		doc := c.store.Snapshot()
		route, ok := doc.Routes[path]
		if !ok {
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("未找到路由: %s", path))
			return
		}
		c.recordHistory(message)
		results := c.dispatcher.Dispatch(r.Context(), message, route.TargetIDs)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": fmt.Sprintf("测试消息已通过路由 %s 发送", path),
			"results": results,
		})

	default:
		c.recordHistory(message)
		results := c.dispatcher.Dispatch(r.Context(), message, nil)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "测试消息已发送到所有启用的目标",
			"results": results,
		})
	}
}

func (c *ControlAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *ControlAPI) recordHistory(message map[string]any) {
	c.history.Add(message)
	if c.metrics != nil {
		c.metrics.SetHistorySize(c.history.Len())
	}
}

func (c *ControlAPI) rebindRoutes() {
	if c.rebind != nil {
		c.rebind()
	}
}

// nextTargetID derives an identifier from the current time, suffixed when
// several targets are created within the same second.
func (c *ControlAPI) nextTargetID() string {
	doc := c.store.Snapshot()
	base := fmt.Sprintf("target_%d", time.Now().Unix())
	if !doc.HasTarget(base) {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if !doc.HasTarget(candidate) {
			return candidate
		}
	}
}

// ProvidesServices returns the services provided by this module.
func (c *ControlAPI) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: "control.api", Description: "Gateway management API", Instance: c},
	}
}

// RequiresServices returns services required by this module.
func (c *ControlAPI) RequiresServices() []modular.ServiceDependency {
	return nil
}

// testMessage builds the fixed payload sent by the test endpoint.
func testMessage() map[string]any {
	return map[string]any{
		"event_type":  "test",
		"description": "这是一条测试消息",
		"timestamp":   float64(time.Now().UnixMilli()),
		"data": map[string]any{
			"symbol":    "BTC/USDT",
			"operation": "测试",
			"price":     float64(50000),
			"amount":    0.1,
		},
	}
}

// routeView renders a route together with its path, filling the collection
// fields so clients always see them.
func routeView(path string, route *config.Route) map[string]any {
	targetIDs := route.TargetIDs
	if targetIDs == nil {
		targetIDs = []string{}
	}
	methods := route.Methods
	if methods == nil {
		methods = []string{}
	}
	headers := route.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	queryParams := route.QueryParams
	if queryParams == nil {
		queryParams = map[string]string{}
	}
	view := map[string]any{
		"path":         path,
		"target_ids":   targetIDs,
		"description":  route.Description,
		"methods":      methods,
		"headers":      headers,
		"query_params": queryParams,
	}
	if route.Template != "" {
		view["template"] = route.Template
	}
	if route.Preprocess != nil {
		view["preprocess"] = route.Preprocess
	}
	return view
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		writeDetail(w, http.StatusBadRequest, "请求体必须是JSON对象")
		return nil, false
	}
	return body, true
}

func decodeInto(w http.ResponseWriter, src any, dst any) bool {
	data, err := json.Marshal(src)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "字段类型无效")
		return false
	}
	return true
}

func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fieldOr(body map[string]any, key string, fallback any) any {
	if v, ok := body[key]; ok && v != nil {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
