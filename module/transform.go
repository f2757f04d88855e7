package module

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/CrisisTextLine/modular"

	"github.com/GoCodeAlone/hookrelay/config"
)

// Transformer reshapes inbound payloads through the declarative preprocess
// stages (field mapping, inclusion filter, type transforms, field
// injection) followed by template application. Apply never mutates its
// input and is deterministic for a given payload and spec.
type Transformer struct {
	name string
}

// NewTransformer creates a new Transformer module.
func NewTransformer(name string) *Transformer {
	return &Transformer{name: name}
}

// Name returns the module name.
func (t *Transformer) Name() string {
	return t.name
}

// Init registers the transformer as a service.
func (t *Transformer) Init(app modular.Application) error {
	return app.RegisterService("message.transformer", t)
}

// Apply runs the full pipeline: preprocess stages in their fixed order,
// then template application. A nil spec and empty template name make this
// the identity.
func (t *Transformer) Apply(payload map[string]any, spec *config.PreprocessSpec, templateName string, templates map[string]any) map[string]any {
	result := payload
	if spec != nil {
		result = t.Preprocess(clonePayload(result), spec)
	}
	if templateName != "" {
		result = t.ApplyTemplate(result, templateName, templates)
	}
	return result
}

// Preprocess applies the four preprocess stages to the payload. The caller
// must pass a payload it owns; stages write into it.
func (t *Transformer) Preprocess(result map[string]any, spec *config.PreprocessSpec) map[string]any {
	if spec.FieldMapping != nil {
		mapped := make(map[string]any)
		for _, targetPath := range slices.Sorted(maps.Keys(spec.FieldMapping)) {
			value, ok := lookupPath(result, spec.FieldMapping[targetPath])
			if ok && value != nil {
				setPath(mapped, targetPath, value)
			}
		}
		if spec.MergeMapped == nil || *spec.MergeMapped {
			merged := make(map[string]any, len(result)+len(mapped))
			for k, v := range result {
				merged[k] = v
			}
			for k, v := range mapped {
				merged[k] = v
			}
			result = merged
		} else {
			result = mapped
		}
	}

	if spec.IncludeFields != nil {
		filtered := make(map[string]any)
		for _, path := range spec.IncludeFields {
			value, ok := lookupPath(result, path)
			if ok && value != nil {
				setPath(filtered, path, value)
			}
		}
		result = filtered
	}

	if spec.Transformations != nil {
		for _, path := range slices.Sorted(maps.Keys(spec.Transformations)) {
			value, ok := lookupPath(result, path)
			if !ok || value == nil {
				continue
			}
			setPath(result, path, transformValue(value, spec.Transformations[path]))
		}
	}

	for _, path := range slices.Sorted(maps.Keys(spec.AddFields)) {
		setPath(result, path, config.CloneValue(spec.AddFields[path]))
	}

	return result
}

// ApplyTemplate replaces the payload with the named template tree, its
// string leaves substituted from a flattened view of the payload. An
// unknown or malformed template leaves the payload untouched.
func (t *Transformer) ApplyTemplate(payload map[string]any, name string, templates map[string]any) map[string]any {
	tmpl, ok := templates[name].(map[string]any)
	if !ok {
		return payload
	}
	flat := flattenPayload(payload)
	result := make(map[string]any, len(tmpl))
	for key, node := range tmpl {
		result[key] = renderTemplateNode(node, flat)
	}
	return result
}

// renderTemplateNode walks a template tree. Strings containing a brace
// attempt placeholder substitution; unresolved placeholders leave the whole
// string unchanged.
func renderTemplateNode(node any, data map[string]any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = renderTemplateNode(item, data)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderTemplateNode(item, data)
		}
		return out
	case string:
		if strings.Contains(v, "{") {
			if rendered, ok := renderPlaceholders(v, data); ok {
				return rendered
			}
		}
		return v
	default:
		return v
	}
}

// transformValue applies one type-transform kind to a value. Unparseable
// numbers coerce to zero; unknown kinds pass the value through.
func transformValue(value any, kind string) any {
	switch {
	case kind == "to_string":
		return stringifyValue(value)
	case kind == "to_int":
		return toInt(value)
	case kind == "to_float":
		return toFloat(value)
	case kind == "to_bool":
		return toBool(value)
	case strings.HasPrefix(kind, "format:"):
		tmpl := strings.TrimPrefix(kind, "format:")
		if rendered, ok := renderPlaceholders(tmpl, map[string]any{"value": value}); ok {
			return rendered
		}
		return value
	default:
		return value
	}
}

func toInt(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return float64(1)
		}
		return float64(0)
	case float64:
		return math.Trunc(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return float64(n)
		}
		return float64(0)
	default:
		return float64(0)
	}
}

func toFloat(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return float64(1)
		}
		return float64(0)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return float64(0)
	default:
		return float64(0)
	}
}

func toBool(value any) any {
	switch v := value.(type) {
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "1", "y":
			return true
		}
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return value != nil
	}
}

func clonePayload(payload map[string]any) map[string]any {
	cloned, _ := config.CloneValue(payload).(map[string]any)
	return cloned
}
