package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rloza/tramite/internal/resolver"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

// Executor is one automated action kind. Execute receives the step's fully
// resolved config; domain failures come back as a Result with Success=false
// and the error string preserved, infrastructure errors as a non-nil error.
// The state machine converts both into a FAILURE log entry, never a crash.
type Executor interface {
	Name() schema.ActionType
	Validate(config map[string]any) error
	Execute(ctx context.Context, input Input) (*Result, error)
}

// Input is the data handed to an executor at execution time.
type Input struct {
	Step     *schema.Step
	Config   map[string]any // resolved, placeholders substituted
	Run      *schema.Run
	Resolver *resolver.Context
	Org      *OrgContext
}

// Result is the outcome of one executor invocation.
// Output is the step's flat result map. NextStepID is set only by the gateway
// executor when a branch condition selected a target.
type Result struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	NextStepID string         `json:"next_step_id,omitempty"`
}

// OrgContext is the read-only organization data executors may consult.
// It is assembled once per completion request instead of queried ad hoc from
// inside business logic.
type OrgContext struct {
	OrganizationID    string
	StarterID         string
	Staff             []*store.StaffMember
	IntegrationTokens map[string]string
}

// Token returns a named integration token, or "".
func (o *OrgContext) Token(name string) string {
	if o == nil {
		return ""
	}
	return o.IntegrationTokens[name]
}

// EventEmitter publishes best-effort domain events. Implementations must not
// block and must swallow their own failures.
type EventEmitter interface {
	Emit(eventType string, run *schema.Run, stepID string, payload map[string]any)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(string, *schema.Run, string, map[string]any) {}

// success builds a successful result with the given flat output.
func success(output map[string]any) *Result {
	if output == nil {
		output = map[string]any{}
	}
	return &Result{Success: true, Output: output}
}

// failure builds a failed result carrying a descriptive error string.
func failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// guardResolved rejects configs that still carry unresolved placeholders
// before a side-effecting call is made.
func guardResolved(action schema.ActionType, config map[string]any) *Result {
	if keys := resolver.UnresolvedKeys(config); len(keys) > 0 {
		return failure("%s: unresolved variable references in config keys %v", action, keys)
	}
	return nil
}

// Param helpers used by all executor files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mm, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return mm
}

func sliceParam(m map[string]any, key string) []any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	return s
}

func stringSliceParam(m map[string]any, key string) []string {
	var out []string
	for _, v := range sliceParam(m, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}
