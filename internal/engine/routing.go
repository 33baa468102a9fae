package engine

import (
	"context"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/resolver"
	"github.com/rloza/tramite/pkg/schema"
)

// RouteDecision is the routing resolver's verdict for one completed step.
type RouteDecision struct {
	// Terminal ends the run as COMPLETED.
	Terminal bool
	// Halt keeps the run at the current index (FAILURE/FLAGGED with no
	// failure route) so an operator can intervene.
	Halt bool
	// NextIndex/NextStepID identify the step to enter next when neither
	// Terminal nor Halt is set.
	NextIndex  int
	NextStepID string
}

// Router computes the next step after a completion. Priority order:
// a gateway-selected target, then the success/failure overrides, then the
// condition table in declared order, then the default, then linear
// progression. The terminal sentinel always ends the run as COMPLETED.
type Router struct {
	cel *expressions.CELEngine
}

// NewRouter creates a routing resolver. cel may be nil when condition rows
// never use expressions.
func NewRouter(cel *expressions.CELEngine) *Router {
	return &Router{cel: cel}
}

// Resolve computes the route taken from the step at stepIndex given its
// execution outcome. selectedStepID, when non-empty, is a gateway executor's
// chosen branch and wins over the step's declared routes.
func (r *Router) Resolve(ctx context.Context, proc *schema.Procedure, stepIndex int,
	outcome schema.Outcome, rc *resolver.Context, selectedStepID string) (RouteDecision, error) {

	step := &proc.Steps[stepIndex]

	if selectedStepID != "" {
		return r.target(proc, selectedStepID)
	}

	routes := step.Routes
	if routes == nil {
		routes = &schema.Routes{}
	}

	switch outcome {
	case schema.OutcomeSuccess:
		if routes.OnSuccessStepID != "" {
			return r.target(proc, routes.OnSuccessStepID)
		}
	case schema.OutcomeFailure, schema.OutcomeFlagged:
		if routes.OnFailureStepID != "" {
			return r.target(proc, routes.OnFailureStepID)
		}
		// No failure route: the run stalls in place rather than
		// progressing past a failed step.
		return RouteDecision{Halt: true, NextIndex: stepIndex, NextStepID: step.ID}, nil
	}

	if len(routes.Conditions) > 0 {
		for _, cond := range routes.Conditions {
			matched, err := r.evalCondition(ctx, cond, rc)
			if err != nil {
				return RouteDecision{}, schema.NewErrorf(schema.ErrCodeRouting,
					"condition for target %q failed: %s", cond.NextStepID, err.Error()).
					WithStep(step.ID).WithCause(err)
			}
			if matched {
				return r.target(proc, cond.NextStepID)
			}
		}
		if routes.DefaultNextStepID != "" {
			return r.target(proc, routes.DefaultNextStepID)
		}
	}

	if routes.DefaultNextStepID != "" {
		return r.target(proc, routes.DefaultNextStepID)
	}

	// Linear progression; past the last step the run completes.
	next := stepIndex + 1
	if next >= len(proc.Steps) {
		return RouteDecision{Terminal: true}, nil
	}
	return RouteDecision{NextIndex: next, NextStepID: proc.Steps[next].ID}, nil
}

// target maps a declared route target to a decision, treating the terminal
// sentinel as immediate completion.
func (r *Router) target(proc *schema.Procedure, stepID string) (RouteDecision, error) {
	if stepID == schema.TerminalStepID {
		return RouteDecision{Terminal: true}, nil
	}
	step, idx := proc.StepByID(stepID)
	if step == nil {
		return RouteDecision{}, schema.NewErrorf(schema.ErrCodeRouting,
			"route target %q does not exist in procedure %s", stepID, proc.ID)
	}
	return RouteDecision{NextIndex: idx, NextStepID: step.ID}, nil
}

// evalCondition evaluates one row of a conditional-branch table. A row is
// either a variable/operator/value triple (the variable is a template
// resolved against the run context) or a CEL expression.
func (r *Router) evalCondition(ctx context.Context, cond schema.RouteCondition, rc *resolver.Context) (bool, error) {
	if cond.Expression != "" {
		if r.cel == nil {
			return false, schema.NewError(schema.ErrCodeNotImplemented, "expression conditions are not enabled")
		}
		return r.cel.EvaluateBool(ctx, cond.Expression, map[string]any{
			"steps": rc.StepOutputs(),
		})
	}
	if cond.Operator == "" {
		return false, schema.NewError(schema.ErrCodeValidation,
			"route condition has neither expression nor operator")
	}
	left := resolver.ResolveString(cond.Variable, rc)
	return actions.CompareValues(cond.Operator, left, cond.Value)
}
