package validation

import (
	"github.com/rloza/tramite/pkg/schema"
)

// validateSemantics enforces the rules JSON Schema cannot express: unique
// step IDs, route targets that exist, and an acyclic AUTO routing graph.
// Rejecting AUTO cycles here is what lets the state machine's burst loop
// trust its iteration cap.
func validateSemantics(p *schema.Procedure) error {
	seen := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		if _, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", step.ID)
		}
		seen[step.ID] = i
	}

	for _, step := range p.Steps {
		for _, target := range routeTargets(&step) {
			if target == schema.TerminalStepID {
				continue
			}
			if _, ok := seen[target]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"step %q routes to unknown step %q", step.ID, target)
			}
		}
	}

	return validateAutoCycles(p, seen)
}

// routeTargets collects every declared route target of a step, including
// gateway branch targets buried in the config.
func routeTargets(step *schema.Step) []string {
	var targets []string
	if r := step.Routes; r != nil {
		for _, t := range []string{r.OnSuccessStepID, r.OnFailureStepID, r.DefaultNextStepID} {
			if t != "" {
				targets = append(targets, t)
			}
		}
		for _, c := range r.Conditions {
			if c.NextStepID != "" {
				targets = append(targets, c.NextStepID)
			}
		}
	}
	if step.Action == schema.ActionGateway && step.Config != nil {
		if branches, ok := step.Config["branches"].([]any); ok {
			for _, raw := range branches {
				if branch, ok := raw.(map[string]any); ok {
					if t, ok := branch["nextStepId"].(string); ok && t != "" {
						targets = append(targets, t)
					}
				}
			}
		}
		if def, ok := step.Config["defaultNextStepId"].(string); ok && def != "" {
			targets = append(targets, def)
		}
	}
	return targets
}

// validateAutoCycles walks the AUTO→AUTO routing edges (declared targets plus
// linear fallthrough) and rejects any cycle reachable without passing through
// a HUMAN step.
func validateAutoCycles(p *schema.Procedure, index map[string]int) error {
	autoEdges := make(map[int][]int, len(p.Steps))
	for i, step := range p.Steps {
		if !isAuto(step.Action) {
			continue
		}
		targets := routeTargets(&step)
		if len(targets) == 0 && i+1 < len(p.Steps) {
			targets = append(targets, p.Steps[i+1].ID)
		}
		for _, t := range targets {
			if t == schema.TerminalStepID {
				continue
			}
			j := index[t]
			if isAuto(p.Steps[j].Action) {
				autoEdges[i] = append(autoEdges[i], j)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(p.Steps))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return schema.NewErrorf(schema.ErrCodeValidation,
				"automated routing cycle through step %q", p.Steps[i].ID)
		case done:
			return nil
		}
		state[i] = visiting
		for _, j := range autoEdges[i] {
			if err := visit(j); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}

	for i := range p.Steps {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// isAuto mirrors the engine's static classification without importing it.
func isAuto(action schema.ActionType) bool {
	switch action {
	case schema.ActionAIParse, schema.ActionDBInsert, schema.ActionGenerateDoc,
		schema.ActionSendEmail, schema.ActionGoogleSheet, schema.ActionHTTPCall,
		schema.ActionCompute, schema.ActionCompare, schema.ActionValidate,
		schema.ActionGateway:
		return true
	}
	return false
}
