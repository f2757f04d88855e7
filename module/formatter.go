package module

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/CrisisTextLine/modular"

	"github.com/GoCodeAlone/hookrelay/config"
)

// TargetFormatter converts a transformed message into the wire shape each
// target expects: a custom template or text format when the target declares
// one, a known chat-platform schema when the target type or URL identifies
// one, and the message itself otherwise.
type TargetFormatter struct {
	name   string
	logger modular.Logger
}

// NewTargetFormatter creates a new TargetFormatter module.
func NewTargetFormatter(name string) *TargetFormatter {
	return &TargetFormatter{name: name}
}

// Name returns the module name.
func (f *TargetFormatter) Name() string {
	return f.name
}

// Init registers the formatter as a service.
func (f *TargetFormatter) Init(app modular.Application) error {
	f.logger = app.Logger()
	return app.RegisterService("message.formatter", f)
}

// Format produces the outbound body for one target. First match wins;
// targets with no format and no recognised platform receive the message
// unchanged.
func (f *TargetFormatter) Format(message map[string]any, target *config.Target) any {
	if target.Format != nil {
		switch target.FormatType {
		case "template":
			return renderDollarNode(target.Format, scalarUnion(message))
		case "text":
			return f.formatText(message, target)
		}
	}

	url := strings.ToLower(target.URL)

	if target.Type == "wechat" || strings.Contains(url, "wechat") {
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]any{"content": messageDescription(message)},
		}
	}

	if target.Type == "wechat_personal" {
		if target.WXID == "" {
			f.logger.Warn("target missing wxid, sending empty body", "target", target.Name)
			return map[string]any{}
		}
		return map[string]any{
			"type": "sendText",
			"data": map[string]any{"wxid": target.WXID, "msg": messageDescription(message)},
		}
	}

	if target.Type == "feishu" || strings.Contains(url, "feishu") {
		return map[string]any{
			"msg_type": "text",
			"content":  map[string]any{"text": messageDescription(message)},
		}
	}

	if target.Type == "dingtalk" || strings.Contains(url, "dingtalk") {
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]any{"content": messageDescription(message)},
		}
	}

	return message
}

// formatText renders the event-type-keyed text template declared on the
// target. The "default" entry backs unknown event types; a template that
// references fields the message lacks falls back to the description.
func (f *TargetFormatter) formatText(message map[string]any, target *config.Target) any {
	eventType := "unknown"
	if s, ok := message["event_type"].(string); ok {
		eventType = s
	}

	var tmpl string
	if formatMap, ok := target.Format.(map[string]any); ok {
		if s, ok := formatMap[eventType].(string); ok && s != "" {
			tmpl = s
		} else if s, ok := formatMap["default"].(string); ok && s != "" {
			tmpl = s
		}
	}
	if tmpl == "" {
		tmpl = "{description}"
	}

	if rendered, ok := renderPlaceholders(tmpl, scalarUnion(message)); ok {
		return map[string]any{"text": rendered}
	}
	f.logger.Warn("text format references missing fields", "target", target.Name, "event_type", eventType)
	return map[string]any{"text": messageDescription(message)}
}

// renderDollarNode walks a format tree, replacing $name tokens in string
// leaves with scalar values from the message. Longer names substitute
// first so a name that prefixes another cannot clobber it.
func renderDollarNode(node any, data map[string]any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = renderDollarNode(item, data)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderDollarNode(item, data)
		}
		return out
	case string:
		if strings.Contains(v, "$") {
			return replaceDollarTokens(v, data)
		}
		return v
	default:
		return v
	}
}

func replaceDollarTokens(s string, data map[string]any) string {
	keys := slices.SortedFunc(maps.Keys(data), func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	for _, key := range keys {
		s = strings.ReplaceAll(s, "$"+key, stringifyValue(data[key]))
	}
	return s
}

// scalarUnion collects the scalar fields of the message and of message.data
// into one flat map; data fields win on name collision.
func scalarUnion(message map[string]any) map[string]any {
	data := make(map[string]any)
	for key, value := range message {
		if isScalar(value) {
			data[key] = value
		}
	}
	if nested, ok := message["data"].(map[string]any); ok {
		for key, value := range nested {
			if isScalar(value) {
				data[key] = value
			}
		}
	}
	return data
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return true
	}
	return false
}

// messageDescription returns the message description, or the whole message
// as compact JSON when it has none.
func messageDescription(message map[string]any) string {
	if d, ok := message["description"]; ok {
		return stringifyValue(d)
	}
	return stringifyMessage(message)
}
