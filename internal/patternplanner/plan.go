package patternplanner

// stepState tracks one step's execution within a Plan.
type stepState struct {
	executed bool
	output   string
}

// Plan is a Pattern bound to one matched question, tracking per-step
// execution state and the accumulated context.
type Plan struct {
	Pattern *Pattern
	Context map[string]any

	states map[string]*stepState
	order  []string // step IDs in Sequence order, for deterministic NextCommands
}

func newPlan(p *Pattern) *Plan {
	states := make(map[string]*stepState, len(p.Sequence))
	order := make([]string, 0, len(p.Sequence))
	for _, s := range p.Sequence {
		states[s.ID] = &stepState{}
		order = append(order, s.ID)
	}
	return &Plan{Pattern: p, Context: make(map[string]any), states: states, order: order}
}

// PlannedCommand pairs a command with the step that produced it, so a
// caller can feed the resulting output back through UpdateContext.
type PlannedCommand struct {
	StepID  string
	Command string
}

// NextCommands returns the commands for the next unexecuted step(s). A
// dynamic step is evaluated against the current context; an empty result
// marks it executed immediately and NextCommands moves on to the
// following step.
func NextCommands(plan *Plan) []PlannedCommand {
	for _, id := range plan.order {
		st := plan.states[id]
		if st.executed {
			continue
		}
		step, _ := plan.Pattern.step(id)
		if step.isDynamic() {
			cmds := step.Dynamic(plan.Context)
			if len(cmds) == 0 {
				st.executed = true
				continue
			}
			out := make([]PlannedCommand, len(cmds))
			for i, c := range cmds {
				out[i] = PlannedCommand{StepID: id, Command: c}
			}
			return out
		}
		return []PlannedCommand{{StepID: id, Command: step.Command}}
	}
	return nil
}

// UpdateContext records a step's raw output, marks it executed, and (if
// the step defines Parse/ExtractKey) stores the parsed value in the
// plan's context — appending to a slice when the step is Aggregate.
func UpdateContext(plan *Plan, stepID, output string) {
	st, ok := plan.states[stepID]
	if !ok {
		return
	}
	st.executed = true
	st.output = output

	step, ok := plan.Pattern.step(stepID)
	if !ok || step.ExtractKey == "" {
		return
	}
	var value any = output
	if step.Parse != nil {
		value = step.Parse(output)
	}
	if step.Aggregate {
		existing, _ := plan.Context[step.ExtractKey].([]any)
		plan.Context[step.ExtractKey] = append(existing, value)
		return
	}
	plan.Context[step.ExtractKey] = value
}

// IsComplete reports whether every non-optional step has executed.
func IsComplete(plan *Plan) bool {
	for _, id := range plan.order {
		step, _ := plan.Pattern.step(id)
		if step.Optional {
			continue
		}
		if !plan.states[id].executed {
			return false
		}
	}
	return true
}

// Aggregate runs the pattern's aggregator over the plan's context, or
// returns the raw context unchanged if no aggregator is defined.
func Aggregate(plan *Plan) any {
	if plan.Pattern.Aggregator != nil {
		return plan.Pattern.Aggregator(plan.Context)
	}
	return plan.Context
}
