package config

import (
	"sort"
	"strings"
	"time"
)

// Target describes an outbound delivery destination.
type Target struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Type       string            `json:"type,omitempty"`
	WXID       string            `json:"wxid,omitempty"`
	EventTypes []string          `json:"event_types,omitempty"`
	Symbols    []string          `json:"symbols,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timeout    float64           `json:"timeout,omitempty"`
	Format     any               `json:"format,omitempty"`
	FormatType string            `json:"format_type,omitempty"`
}

// IsEnabled reports whether the target accepts deliveries. A missing
// enabled flag counts as enabled.
func (t *Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TimeoutDuration returns the per-delivery timeout, defaulting to 10s
// when the target does not set one.
func (t *Target) TimeoutDuration() time.Duration {
	if t.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.Timeout * float64(time.Second))
}

// Clone returns a deep copy of the target.
func (t *Target) Clone() Target {
	out := *t
	if t.Enabled != nil {
		v := *t.Enabled
		out.Enabled = &v
	}
	out.EventTypes = cloneSlice(t.EventTypes)
	out.Symbols = cloneSlice(t.Symbols)
	out.Headers = cloneStringMap(t.Headers)
	out.Format = CloneValue(t.Format)
	return out
}

// PreprocessSpec declares the transformation stages applied to an inbound
// payload before dispatch. All paths are dotted object paths.
type PreprocessSpec struct {
	FieldMapping    map[string]string `json:"field_mapping,omitempty"`
	MergeMapped     *bool             `json:"merge_mapped,omitempty"`
	IncludeFields   []string          `json:"include_fields,omitempty"`
	Transformations map[string]string `json:"transformations,omitempty"`
	AddFields       map[string]any    `json:"add_fields,omitempty"`
}

// Clone returns a deep copy of the spec.
func (p *PreprocessSpec) Clone() *PreprocessSpec {
	if p == nil {
		return nil
	}
	out := &PreprocessSpec{
		FieldMapping:    cloneStringMap(p.FieldMapping),
		IncludeFields:   cloneSlice(p.IncludeFields),
		Transformations: cloneStringMap(p.Transformations),
	}
	if p.MergeMapped != nil {
		v := *p.MergeMapped
		out.MergeMapped = &v
	}
	if p.AddFields != nil {
		out.AddFields = make(map[string]any, len(p.AddFields))
		for k, v := range p.AddFields {
			out.AddFields[k] = CloneValue(v)
		}
	}
	return out
}

// Route describes one inbound endpoint: which methods it serves, the
// admission checks it enforces, how the payload is transformed, and which
// targets receive the result. The route's path is the key it is stored
// under in Document.Routes.
type Route struct {
	TargetIDs   []string          `json:"target_ids"`
	Description string            `json:"description,omitempty"`
	Methods     []string          `json:"methods"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Template    string            `json:"template,omitempty"`
	Preprocess  *PreprocessSpec   `json:"preprocess,omitempty"`
}

// MethodsOrDefault returns the route's HTTP methods, defaulting to POST.
func (r *Route) MethodsOrDefault() []string {
	if len(r.Methods) == 0 {
		return []string{"POST"}
	}
	return r.Methods
}

// Clone returns a deep copy of the route.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	return &Route{
		TargetIDs:   cloneSlice(r.TargetIDs),
		Description: r.Description,
		Methods:     cloneSlice(r.Methods),
		Headers:     cloneStringMap(r.Headers),
		QueryParams: cloneStringMap(r.QueryParams),
		Template:    r.Template,
		Preprocess:  r.Preprocess.Clone(),
	}
}

// Document is the persisted gateway configuration: the target catalogue,
// the inbound route table, the named payload templates, and the optional
// notification format strings used by outbound clients.
type Document struct {
	Targets        []Target          `json:"targets"`
	Routes         map[string]*Route `json:"routes"`
	Templates      map[string]any    `json:"templates"`
	MessageFormat  map[string]string `json:"message_format,omitempty"`
	MaxHistorySize int               `json:"max_history_size,omitempty"`
}

// DefaultDocument returns the configuration written on first start: a
// single catch-all webhook route, the stock trade/error templates, and
// the notification format strings.
func DefaultDocument() *Document {
	return &Document{
		Targets: []Target{},
		Routes: map[string]*Route{
			"/webhook": {
				TargetIDs:   []string{},
				Description: "默认webhook路由",
				Methods:     []string{"POST"},
				Headers:     map[string]string{},
				QueryParams: map[string]string{},
			},
		},
		Templates: map[string]any{
			"trade": map[string]any{
				"event_type":  "trade",
				"description": "交易信号: {symbol} {operation} 价格: {price} 数量: {amount}",
				"data": map[string]any{
					"symbol":    "{symbol}",
					"operation": "{operation}",
					"price":     "{price}",
					"amount":    "{amount}",
				},
			},
			"error": map[string]any{
				"event_type":  "error",
				"description": "错误通知: {message}",
				"data": map[string]any{
					"message": "{message}",
				},
			},
		},
		MessageFormat: map[string]string{
			"trade":           "交易信号: {symbol} {operation} 价格: {price} 数量: {amount}",
			"position_update": "持仓更新: {symbol} 数量: {amount} 价格: {current_price} 盈亏: {pnl}",
			"error":           "错误通知: {message}",
			"status":          "状态通知: {message}",
		},
	}
}

// HistoryCapacity returns the configured history ring size, defaulting
// to 100.
func (d *Document) HistoryCapacity() int {
	if d.MaxHistorySize > 0 {
		return d.MaxHistorySize
	}
	return 100
}

// FindTarget returns the target with the given id, or nil.
func (d *Document) FindTarget(id string) *Target {
	for i := range d.Targets {
		if d.Targets[i].ID == id {
			return &d.Targets[i]
		}
	}
	return nil
}

// HasTarget reports whether a target with the given id exists.
func (d *Document) HasTarget(id string) bool {
	return d.FindTarget(id) != nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{
		MaxHistorySize: d.MaxHistorySize,
		MessageFormat:  cloneStringMap(d.MessageFormat),
	}
	if d.Targets != nil {
		out.Targets = make([]Target, len(d.Targets))
		for i := range d.Targets {
			out.Targets[i] = d.Targets[i].Clone()
		}
	}
	if d.Routes != nil {
		out.Routes = make(map[string]*Route, len(d.Routes))
		for path, route := range d.Routes {
			out.Routes[path] = route.Clone()
		}
	}
	if d.Templates != nil {
		out.Templates = make(map[string]any, len(d.Templates))
		for name, tmpl := range d.Templates {
			out.Templates[name] = CloneValue(tmpl)
		}
	}
	return out
}

// Normalize puts the document into canonical form: route keys carry
// exactly one leading slash and the collection fields persisted by every
// save are non-nil, so a document and its reloaded copy compare equal.
func (d *Document) Normalize() {
	d.NormalizeRoutes()
	for i := range d.Targets {
		d.Targets[i].normalize()
	}
	for _, route := range d.Routes {
		route.normalize()
	}
}

func (t *Target) normalize() {
	if t.EventTypes == nil {
		t.EventTypes = []string{}
	}
	if t.Symbols == nil {
		t.Symbols = []string{}
	}
	if t.Headers == nil {
		t.Headers = map[string]string{}
	}
}

func (r *Route) normalize() {
	if r.TargetIDs == nil {
		r.TargetIDs = []string{}
	}
	if r.Methods == nil {
		r.Methods = []string{}
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	if r.QueryParams == nil {
		r.QueryParams = map[string]string{}
	}
}

// NormalizeRoutes rewrites route keys so each path carries exactly one
// leading slash. Renames are collected before the map is touched; when a
// raw key and its normalized form both exist, the route already stored
// under the normalized key wins.
func (d *Document) NormalizeRoutes() {
	if d.Routes == nil {
		return
	}
	var raw []string
	for path := range d.Routes {
		if NormalizePath(path) != path {
			raw = append(raw, path)
		}
	}
	sort.Strings(raw)
	for _, path := range raw {
		normal := NormalizePath(path)
		if _, taken := d.Routes[normal]; !taken {
			d.Routes[normal] = d.Routes[path]
		}
		delete(d.Routes, path)
	}
}

// NormalizePath returns the path with exactly one leading slash.
func NormalizePath(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}

// CloneValue deep-copies a decoded JSON tree. Scalars are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
