package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rloza/tramite/pkg/schema"
)

// Context is the namespace a run's {{...}} references resolve against.
// Step outputs are exposed twice: positionally as step_N -> {output: ...}
// (wrapped at this read boundary only; logs store the flat map) and, when the
// source step declares an output variable, under that name -> the flat map.
type Context struct {
	vars       map[string]any
	provenance map[string]string // context key -> step ID that supplied it
}

// BuildContext assembles the resolution context from a run's logs, the
// procedure's step list, and the trigger/initial input payloads.
// Duplicate log entries for the same step ID are tolerated: the entry with
// non-empty output wins over an empty placeholder, regardless of order.
func BuildContext(logs []schema.StepLog, steps []schema.Step, trigger, initialInput map[string]any) *Context {
	rc := &Context{
		vars:       make(map[string]any),
		provenance: make(map[string]string),
	}

	outputs := make(map[string]map[string]any, len(logs))
	for i := range logs {
		log := &logs[i]
		if prev, ok := outputs[log.StepID]; ok && len(prev) > 0 && len(log.Output) == 0 {
			continue
		}
		outputs[log.StepID] = log.Output
	}

	for i := range steps {
		step := &steps[i]
		out, ok := outputs[step.ID]
		if !ok {
			continue
		}
		posKey := fmt.Sprintf("step_%d", i+1)
		rc.vars[posKey] = map[string]any{"output": anyMap(out)}
		rc.provenance[posKey] = step.ID
		if step.OutputVariable != "" {
			rc.vars[step.OutputVariable] = anyMap(out)
			rc.provenance[step.OutputVariable] = step.ID
		}
	}

	if trigger != nil {
		rc.vars["trigger"] = trigger
	}
	if initialInput != nil {
		rc.vars["initialInput"] = initialInput
	}

	return rc
}

// Provenance reports which step supplied the value for a context key,
// or "" for trigger/initial-input namespaces.
func (rc *Context) Provenance(key string) string {
	return rc.provenance[key]
}

// StepOutputs returns the positional and named step entries, for handing to
// condition evaluation (CEL "steps" namespace).
func (rc *Context) StepOutputs() map[string]any {
	out := make(map[string]any, len(rc.vars))
	for k, v := range rc.vars {
		if k == "trigger" || k == "initialInput" {
			continue
		}
		out[k] = v
	}
	return out
}

// Lookup resolves a dot-delimited reference path like "step_1.output.email".
// Returns (value, true) on success; (nil, false) when the referenced step
// never ran or the field is absent.
func (rc *Context) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	current, ok := rc.vars[segments[0]]
	if !ok {
		return nil, false
	}

	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Resolve substitutes every {{...}} placeholder in the config against the
// context. Nested objects and arrays are resolved recursively; non-placeholder
// values pass through unchanged. Unresolved placeholders are left as literal
// text: callers must treat any remaining "{{" as a hard failure before using
// the value for a side-effecting action (see ContainsUnresolved).
// Pure: the input config is not mutated.
func Resolve(config map[string]any, rc *Context) map[string]any {
	if config == nil {
		return nil
	}
	resolved := make(map[string]any, len(config))
	for k, v := range config {
		resolved[k] = resolveValue(v, rc)
	}
	return resolved
}

func resolveValue(v any, rc *Context) any {
	switch val := v.(type) {
	case string:
		return ResolveString(val, rc)
	case map[string]any:
		return Resolve(val, rc)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, rc)
		}
		return out
	default:
		return v
	}
}

// ResolveString substitutes {{...}} references within a single string.
// When the whole string is exactly one placeholder the resolved value keeps
// its native type (map, slice, number); otherwise resolved values are
// stringified into the surrounding text.
func ResolveString(s string, rc *Context) any {
	if !strings.Contains(s, "{{") {
		return s
	}

	// Whole-string single reference: preserve the value's type.
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		inner := strings.TrimSpace(s[2 : len(s)-2])
		if inner != "" && !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			if val, ok := rc.Lookup(inner); ok {
				return val
			}
			return s // unresolved: keep the literal placeholder
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			// Unterminated marker: keep the rest verbatim.
			result.WriteString(s[start:])
			break
		}
		end += start

		ref := strings.TrimSpace(s[start+2 : end])
		if val, ok := rc.Lookup(ref); ok && ref != "" {
			result.WriteString(stringify(val))
		} else {
			// Keep the placeholder literal so callers can detect it.
			result.WriteString(s[start : end+2])
		}
		i = end + 2
	}

	return result.String()
}

// ContainsUnresolved reports whether a resolved value still carries a {{
// marker anywhere within it. Side-effecting executors call this before acting.
func ContainsUnresolved(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "{{")
	case map[string]any:
		for _, item := range val {
			if ContainsUnresolved(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if ContainsUnresolved(item) {
				return true
			}
		}
	}
	return false
}

// UnresolvedKeys returns the config keys whose values still contain {{
// markers, for descriptive failure messages.
func UnresolvedKeys(config map[string]any) []string {
	var keys []string
	for k, v := range config {
		if ContainsUnresolved(v) {
			keys = append(keys, k)
		}
	}
	return keys
}

// stringify renders a resolved value for embedding inside a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// anyMap widens a typed output map to map[string]any, never returning nil so
// that Lookup can traverse into empty outputs safely.
func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
