package module

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DecodeRequestBody parses an inbound body into a generic JSON tree keyed
// by Content-Type (case-insensitive substring match). Decoding never fails:
// anything that cannot be parsed degrades to {"text": <lossy UTF-8 body>},
// and a JSON body that is not an object is wrapped the same way so the
// pipeline always works on an object.
func DecodeRequestBody(r *http.Request) map[string]any {
	ct := strings.ToLower(r.Header.Get("Content-Type"))

	switch {
	case strings.Contains(ct, "application/json"):
		body, _ := io.ReadAll(r.Body)
		return decodeJSONPayload(body)

	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return textPayload(body)
		}
		return formPayload(values)

	case strings.Contains(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return textPayload(nil)
		}
		return formPayload(r.MultipartForm.Value)

	case strings.Contains(ct, "text/plain"):
		body, _ := io.ReadAll(r.Body)
		return textPayload(body)

	default:
		body, _ := io.ReadAll(r.Body)
		return decodeJSONPayload(body)
	}
}

func decodeJSONPayload(body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return textPayload(body)
	}
	return payload
}

func textPayload(body []byte) map[string]any {
	return map[string]any{"text": strings.ToValidUTF8(string(body), "")}
}

// formPayload flattens form values into a string map, keeping the first
// value of each field.
func formPayload(values map[string][]string) map[string]any {
	payload := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			payload[key] = vals[0]
		} else {
			payload[key] = ""
		}
	}
	return payload
}

// lookupPath resolves a dotted path against a decoded JSON tree. Only
// object keys are traversed; there is no array indexing.
func lookupPath(data map[string]any, path string) (any, bool) {
	var current any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a value at a dotted path, creating intermediate objects.
// A non-object sitting where an intermediate is needed is overwritten.
func setPath(data map[string]any, path string, value any) {
	keys := strings.Split(path, ".")
	current := data
	for i, key := range keys {
		if i == len(keys)-1 {
			current[key] = value
			return
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
}

// flattenPayload maps every nested key to its leaf value under its full
// dotted name, and every object value additionally to the object itself.
func flattenPayload(data map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto("", data, out)
	return out
}

func flattenInto(prefix string, data map[string]any, out map[string]any) {
	for key, value := range data {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(name, nested, out)
			out[name] = nested
		} else {
			out[name] = value
		}
	}
}

// renderPlaceholders substitutes {name} tokens in s with values from data.
// Substitution is all-or-nothing: an unresolved or unterminated token
// returns the original string with ok=false.
func renderPlaceholders(s string, data map[string]any) (string, bool) {
	var b strings.Builder
	rest := s
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return s, false
		}
		name := rest[i+1 : i+j]
		value, ok := data[name]
		if !ok {
			return s, false
		}
		b.WriteString(rest[:i])
		b.WriteString(stringifyValue(value))
		rest = rest[i+j+1:]
	}
}

// stringifyValue renders a value for interpolation into strings. Numbers
// use their shortest decimal form; objects and arrays render as compact
// JSON.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// stringifyMessage renders a whole message as compact JSON, used when a
// message has no description to fall back on.
func stringifyMessage(message map[string]any) string {
	b, err := json.Marshal(message)
	if err != nil {
		return fmt.Sprintf("%v", message)
	}
	return string(b)
}
