package procedure

import (
	"fmt"

	rt "flowcore.dev/procedure/runtime"
)

// OnError controls how a step or procedure reacts to a step failure.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
)

// Parameter declares one named input a procedure accepts.
type Parameter struct {
	Name     string
	Required bool
	Default  rt.Value
}

// Step is one node of a procedure's declarative step graph.
type Step struct {
	Name      string
	Function  string
	Params    rt.Value
	Condition string
	OnError   OnError
	Branches  map[string][]Step
	// Foreach is the legacy single-step iteration form, coexisting with the
	// standalone foreach flow function — both are supported.
	Foreach *LegacyForeach
}

// LegacyForeach is the pre-flow-function iteration form attached directly
// to a step.
type LegacyForeach struct {
	Items       string // template expression yielding a list
	Concurrency int
}

// Definition is a declarative workflow.
type Definition struct {
	Slug       string
	Version    int
	Parameters []Parameter
	Steps      []Step
	Triggers   []string // trigger ids, resolved via the triggers package at runtime
	OnError    OnError
}

// flowFunctions names the four control primitives, validated specially at
// load time.
var flowFunctions = map[string]bool{
	"if_branch":     true,
	"switch_branch": true,
	"parallel":      true,
	"foreach":       true,
}

// ValidateDefinition checks structural invariants at load time: step name
// uniqueness within scope, and flow-function branch shape requirements.
func ValidateDefinition(d *Definition) error {
	if d.Slug == "" {
		return fmt.Errorf("procedure definition missing slug")
	}
	return validateSteps(d.Steps, d.Slug)
}

func validateSteps(steps []Step, path string) error {
	seen := make(map[string]bool, len(steps))
	for _, st := range steps {
		if seen[st.Name] {
			return fmt.Errorf("%s: duplicate step name %q", path, st.Name)
		}
		seen[st.Name] = true
		stepPath := fmt.Sprintf("%s.%s", path, st.Name)
		if flowFunctions[st.Function] {
			if err := validateFlowShape(st, stepPath); err != nil {
				return err
			}
		}
		for branchName, branchSteps := range st.Branches {
			if err := validateSteps(branchSteps, fmt.Sprintf("%s[%s]", stepPath, branchName)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateFlowShape(st Step, path string) error {
	switch st.Function {
	case "if_branch":
		if len(st.Branches["then"]) == 0 {
			return fmt.Errorf("%s: if_branch requires a non-empty 'then' branch", path)
		}
	case "switch_branch":
		nonDefault := 0
		for name, steps := range st.Branches {
			if len(steps) == 0 {
				return fmt.Errorf("%s: switch_branch case %q must be non-empty", path, name)
			}
			if name != "default" {
				nonDefault++
			}
		}
		if nonDefault == 0 {
			return fmt.Errorf("%s: switch_branch requires at least one non-default case", path)
		}
	case "parallel":
		if len(st.Branches) < 2 {
			return fmt.Errorf("%s: parallel requires at least 2 branches", path)
		}
		for name, steps := range st.Branches {
			if len(steps) == 0 {
				return fmt.Errorf("%s: parallel branch %q must be non-empty", path, name)
			}
		}
	case "foreach":
		if len(st.Branches["each"]) == 0 {
			return fmt.Errorf("%s: foreach requires a non-empty 'each' branch", path)
		}
	}
	return nil
}

// ApplyParameterDefaults validates required parameters and applies declared
// defaults. Extra unexpected parameters pass through unchanged for forward
// compatibility.
func ApplyParameterDefaults(d *Definition, input rt.Value) (rt.Value, error) {
	m, ok := input.AsMap()
	if !ok {
		m = map[string]rt.Value{}
	}
	out := make(map[string]rt.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, p := range d.Parameters {
		if _, present := out[p.Name]; !present {
			if p.Required {
				return rt.Null(), fmt.Errorf("Missing required parameter: %s", p.Name)
			}
			out[p.Name] = p.Default
		}
	}
	return rt.Map(out), nil
}
