package analyst

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls a JSON document out of model output. Models sometimes
// wrap JSON in prose or a code fence, so three strategies are tried in
// order: the whole trimmed text, the first fenced block, and the widest
// brace-delimited span.
func ExtractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", eris.New("analyst: empty response")
	}

	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(trimmed, pair[0])
		end := strings.LastIndex(trimmed, pair[1])
		if start >= 0 && end > start {
			candidate := trimmed[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	return "", eris.New("analyst: no valid JSON found in response")
}

// DecodeObject extracts and unmarshals a JSON object from model output.
func DecodeObject(raw string) (map[string]any, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, eris.Wrap(err, "analyst: decode object")
	}
	return out, nil
}

// decodeInsightArray extracts and unmarshals a JSON array of objects.
// A bare object is accepted as a single-element array.
func decodeInsightArray(raw string) ([]map[string]any, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var arr []map[string]any
	if err := json.Unmarshal([]byte(doc), &arr); err == nil {
		return arr, nil
	}
	var single map[string]any
	if err := json.Unmarshal([]byte(doc), &single); err == nil {
		return []map[string]any{single}, nil
	}
	return nil, eris.New("analyst: decode array")
}

// str reads a string field from a decoded object, "" when absent.
func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// num reads a numeric field from a decoded object, 0 when absent.
func num(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

// boolean reads a bool field from a decoded object, false when absent.
func boolean(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// strs reads a string-array field from a decoded object.
func strs(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// objs reads an object-array field from a decoded object.
func objs(m map[string]any, key string) []map[string]any {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, v := range arr {
		if o, ok := v.(map[string]any); ok {
			out = append(out, o)
		}
	}
	return out
}
