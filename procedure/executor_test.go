package procedure

import (
	"context"
	"testing"

	rt "flowcore.dev/procedure/runtime"
	"flowcore.dev/runs"
)

type noopLogger struct{}

func (noopLogger) AppendLog(ctx context.Context, runID string, level runs.LogLevel, eventType runs.EventType, message string, logCtx runs.JSONMap) error {
	return nil
}

func echoFunction(status string) Function {
	return func(ctx context.Context, params rt.Value) (*FunctionResult, error) {
		return &FunctionResult{Status: status, Data: params}, nil
	}
}

func failFunction(msg string) Function {
	return func(ctx context.Context, params rt.Value) (*FunctionResult, error) {
		return &FunctionResult{Status: FunctionStatusFailed, Error: msg}, nil
	}
}

func newTestExecutor() (*Executor, *Registry) {
	reg := NewRegistry()
	reg.MustRegister(FunctionSpec{Name: "echo", ExposureProfile: ExposureProfile{Procedure: true}, Handler: echoFunction(FunctionStatusCompleted)})
	reg.MustRegister(FunctionSpec{Name: "boom", ExposureProfile: ExposureProfile{Procedure: true}, Handler: failFunction("kaboom")})
	reg.MustRegister(FunctionSpec{Name: "not_exposed", ExposureProfile: ExposureProfile{Procedure: false}, Handler: echoFunction(FunctionStatusCompleted)})
	return NewExecutor(reg, noopLogger{}, nil), reg
}

func TestExecuteSimpleStep(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "simple",
		Steps: []Step{
			{Name: "s1", Function: "echo", Params: rt.Map(map[string]rt.Value{"x": rt.Int(1)})},
		},
	}
	outcome, err := e.Execute(context.Background(), def, "run-1", rt.Map(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
}

func TestExecuteFailStopsOnErrorFail(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug:    "failing",
		OnError: OnErrorFail,
		Steps: []Step{
			{Name: "s1", Function: "boom"},
			{Name: "s2", Function: "echo"},
		},
	}
	outcome, _ := e.Execute(context.Background(), def, "run-2", rt.Map(nil))
	if outcome.Status != "failed" {
		t.Fatalf("expected failed, got %s", outcome.Status)
	}
	if len(outcome.StepSummaries) != 1 {
		t.Fatalf("expected execution to stop after first step, got %d summaries", len(outcome.StepSummaries))
	}
}

func TestExecuteContinueRunsAllSteps(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug:    "continuing",
		OnError: OnErrorContinue,
		Steps: []Step{
			{Name: "s1", Function: "boom"},
			{Name: "s2", Function: "echo"},
		},
	}
	outcome, _ := e.Execute(context.Background(), def, "run-3", rt.Map(nil))
	if outcome.Status != "partial" {
		t.Fatalf("expected partial, got %s", outcome.Status)
	}
	if len(outcome.StepSummaries) != 2 {
		t.Fatalf("expected both steps to run, got %d summaries", len(outcome.StepSummaries))
	}
}

func TestExecuteConditionSkipsStep(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "conditional",
		Steps: []Step{
			{Name: "s1", Function: "echo", Condition: "{{params.run_it}}", Params: rt.Map(nil)},
		},
	}
	outcome, _ := e.Execute(context.Background(), def, "run-4", rt.Map(map[string]rt.Value{"run_it": rt.Bool(false)}))
	if outcome.StepSummaries[0].Status != FunctionStatusSkipped {
		t.Fatalf("expected step to be skipped, got %s", outcome.StepSummaries[0].Status)
	}
}

func TestExecuteUnknownFunctionFails(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "unknown",
		Steps: []Step{
			{Name: "s1", Function: "does_not_exist"},
		},
	}
	outcome, _ := e.Execute(context.Background(), def, "run-5", rt.Map(nil))
	if outcome.Status != "failed" {
		t.Fatalf("expected failed, got %s", outcome.Status)
	}
	if outcome.Error == "" {
		t.Fatalf("expected an error message")
	}
}

func TestExecuteExposureProfileViolation(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "governance",
		Steps: []Step{
			{Name: "s1", Function: "not_exposed"},
		},
	}
	outcome, _ := e.Execute(context.Background(), def, "run-6", rt.Map(nil))
	if outcome.Status != "failed" {
		t.Fatalf("expected failed due to exposure profile violation, got %s", outcome.Status)
	}
}

func TestExecuteIfBranch(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "branching",
		Steps: []Step{
			{
				Name:     "decide",
				Function: "if_branch",
				Params:   rt.Map(map[string]rt.Value{"condition": rt.Bool(true)}),
				Branches: map[string][]Step{
					"then": {{Name: "then_step", Function: "echo", Params: rt.Map(map[string]rt.Value{"branch": rt.Text("then")})}},
					"else": {{Name: "else_step", Function: "echo", Params: rt.Map(map[string]rt.Value{"branch": rt.Text("else")})}},
				},
			},
		},
	}
	outcome, err := e.Execute(context.Background(), def, "run-7", rt.Map(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
}

func TestExecuteParallelAggregatesBranches(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "fanout",
		Steps: []Step{
			{
				Name:     "fanout",
				Function: "parallel",
				Params:   rt.Map(nil),
				Branches: map[string][]Step{
					"a": {{Name: "a1", Function: "echo", Params: rt.Map(map[string]rt.Value{"x": rt.Text("a")})}},
					"b": {{Name: "b1", Function: "echo", Params: rt.Map(map[string]rt.Value{"x": rt.Text("b")})}},
				},
			},
		},
	}
	outcome, err := e.Execute(context.Background(), def, "run-8", rt.Map(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "completed" {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
}

func TestExecuteForeachProcessesEveryItem(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug: "iterating",
		Steps: []Step{
			{
				Name:     "loop",
				Function: "foreach",
				Params: rt.Map(map[string]rt.Value{
					"items":       rt.List(rt.Int(1), rt.Int(2), rt.Int(3)),
					"concurrency": rt.Int(3),
				}),
				Branches: map[string][]Step{
					"each": {{Name: "process", Function: "echo", Params: rt.Map(map[string]rt.Value{"item": rt.Text("{{item}}")})}},
				},
			},
		},
	}
	outcome, err := e.Execute(context.Background(), def, "run-9", rt.Map(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.StepSummaries[0].ItemsProcessed != 3 {
		t.Fatalf("expected 3 items processed, got %d", outcome.StepSummaries[0].ItemsProcessed)
	}
}

func TestMissingRequiredParameterFailsFast(t *testing.T) {
	e, _ := newTestExecutor()
	def := &Definition{
		Slug:       "params",
		Parameters: []Parameter{{Name: "org_id", Required: true}},
		Steps:      []Step{{Name: "s1", Function: "echo"}},
	}
	outcome, err := e.Execute(context.Background(), def, "run-10", rt.Map(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "failed" {
		t.Fatalf("expected failed, got %s", outcome.Status)
	}
}
