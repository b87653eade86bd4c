// Package procedure implements the interpreter for declarative step graphs
// (C5): branches, switch/case, parallel fan-out, and bounded-concurrency
// iteration, with governance logging on every side-effecting step.
//
// Grounded on executor/executor.go's Registry.Execute timing/error-wrapping
// shape and semantic/actionregistry.go's dispatch-by-string-id pattern,
// generalised from a single flat handler table into an interpreter that
// also understands the four flow-control primitives (Design Notes §9).
package procedure

import (
	"context"
	"fmt"
	"sync"

	rt "flowcore.dev/procedure/runtime"
	"flowcore.dev/runs"
)

// RunLogger is the narrow logging collaborator the executor needs; the
// composition root wires a *runs.Store here.
type RunLogger interface {
	AppendLog(ctx context.Context, runID string, level runs.LogLevel, eventType runs.EventType, message string, logCtx runs.JSONMap) error
}

// TriggerReconciler recomputes next_trigger_at for every active cron trigger
// attached to a procedure after execution.
type TriggerReconciler interface {
	ReconcileAfterRun(ctx context.Context, procedureSlug string) error
}

// StepObserver is notified after each top-level step of a procedure
// finishes (not steps nested inside a branch/parallel/foreach), so a
// caller executing a pipeline Run can report each step's outcome to
// rungroups.Tracker as if it were a tracked child.
type StepObserver func(ctx context.Context, stepName string, success bool)

// Executor interprets Definitions against a Registry of functions.
type Executor struct {
	Registry   *Registry
	Logs       RunLogger
	Triggers   TriggerReconciler
	MaxLogLen  int
	MaxLogList int
}

func NewExecutor(registry *Registry, logs RunLogger, triggers TriggerReconciler) *Executor {
	return &Executor{Registry: registry, Logs: logs, Triggers: triggers, MaxLogLen: 2000, MaxLogList: 10}
}

// ProcedureOutcome is the overall result of one procedure execution.
type ProcedureOutcome struct {
	Status        string // completed | partial | failed
	Error         string
	StepSummaries []StepSummary
}

// StepSummary is one line of the procedure_complete log event's step table.
type StepSummary struct {
	Function       string
	Status         string
	ItemsProcessed int
	Error          string
}

// Execute runs one procedure end to end: parameter validation, step
// interpretation, logging, and trigger reconciliation.
func (e *Executor) Execute(ctx context.Context, def *Definition, runID string, input rt.Value) (*ProcedureOutcome, error) {
	return e.ExecuteObserved(ctx, def, runID, input, nil)
}

// ExecuteObserved is Execute with an optional per-top-level-step callback, so
// a caller driving a pipeline Run can report each step's outcome to
// rungroups.Tracker as a tracked child without Executor holding any
// per-call mutable state (observer is a plain parameter, not a field, so
// concurrent Execute calls on the same *Executor never race over it).
func (e *Executor) ExecuteObserved(ctx context.Context, def *Definition, runID string, input rt.Value, observer StepObserver) (*ProcedureOutcome, error) {
	params, err := ApplyParameterDefaults(def, input)
	if err != nil {
		e.logEvent(ctx, runID, runs.LogLevelError, runs.EventStepError, err.Error(), nil)
		return &ProcedureOutcome{Status: "failed", Error: err.Error()}, nil
	}

	e.logEvent(ctx, runID, runs.LogLevelInfo, runs.EventStart, "procedure_start", runs.JSONMap{"slug": def.Slug, "input": e.truncateForLog(params)})

	scope := Scope{Params: params, Steps: rt.Map(nil), Item: rt.Null()}
	onError := def.OnError
	if onError == "" {
		onError = OnErrorFail
	}

	status, summaries, stepErr := e.executeSteps(ctx, runID, def.Steps, scope, onError, observer)

	outcome := &ProcedureOutcome{Status: status, StepSummaries: summaries}
	if stepErr != nil {
		outcome.Error = stepErr.Error()
	}

	e.logEvent(ctx, runID, runs.LogLevelInfo, runs.EventSummary, "procedure_complete", runs.JSONMap{
		"status": status,
		"steps":  summariesToLog(summaries),
	})

	if e.Triggers != nil {
		// Trigger-reconciliation failures must never fail the procedure.
		_ = e.Triggers.ReconcileAfterRun(ctx, def.Slug)
	}

	return outcome, nil
}

func summariesToLog(s []StepSummary) []map[string]interface{} {
	out := make([]map[string]interface{}, len(s))
	for i, ss := range s {
		out[i] = map[string]interface{}{
			"function":        ss.Function,
			"status":          ss.Status,
			"items_processed": ss.ItemsProcessed,
			"error":           ss.Error,
		}
	}
	return out
}

// executeSteps runs a sequence of steps in one scope (root or a branch),
// returning the scope's overall status: completed (no failures), partial
// (failures under on_error=continue), or failed (stopped under on_error=fail).
// observer is notified once per step and must be nil for any recursive call
// (branch/parallel/foreach bodies), since those steps aren't top-level.
func (e *Executor) executeSteps(ctx context.Context, runID string, steps []Step, scope Scope, scopeOnError OnError, observer StepObserver) (string, []StepSummary, error) {
	summaries := make([]StepSummary, 0, len(steps))
	hadFailure := false

	for _, st := range steps {
		select {
		case <-ctx.Done():
			return "cancelled", summaries, ctx.Err()
		default:
		}

		stepOnError := st.OnError
		if stepOnError == "" {
			stepOnError = scopeOnError
		}

		condTrue := true
		if st.Condition != "" {
			rendered, err := Render(rt.Text(st.Condition), scope)
			if err == nil {
				condTrue = rendered.Truthy()
			}
		}
		if !condTrue {
			scope.Steps.Set(st.Name, rt.Map(map[string]rt.Value{"skipped": rt.Bool(true)}))
			summaries = append(summaries, StepSummary{Function: st.Function, Status: FunctionStatusSkipped})
			continue
		}

		e.logEvent(ctx, runID, runs.LogLevelInfo, runs.EventStepStart, st.Name, runs.JSONMap{"function": st.Function})

		data, fnStatus, itemsProcessed, stepErr := e.runStep(ctx, runID, st, scope)
		scope.Steps.Set(st.Name, data)

		summaries = append(summaries, StepSummary{Function: st.Function, Status: fnStatus, ItemsProcessed: itemsProcessed, Error: errString(stepErr)})

		if stepErr != nil {
			e.logEvent(ctx, runID, runs.LogLevelError, runs.EventStepError, stepErr.Error(), runs.JSONMap{"step": st.Name})
			hadFailure = true
			if observer != nil {
				observer(ctx, st.Name, false)
			}
			if stepOnError == OnErrorFail {
				return "failed", summaries, stepErr
			}
			continue
		}

		e.logEvent(ctx, runID, runs.LogLevelInfo, runs.EventStepComplete, st.Name, runs.JSONMap{
			"status":          fnStatus,
			"items_processed": itemsProcessed,
			"output":          e.truncateForLog(data),
		})
		if observer != nil {
			observer(ctx, st.Name, true)
		}
	}

	if hadFailure {
		return "partial", summaries, nil
	}
	return "completed", summaries, nil
}

// runStep resolves and executes a single step, dispatching flow-control
// functions specially and everything else through the Registry.
func (e *Executor) runStep(ctx context.Context, runID string, st Step, scope Scope) (data rt.Value, status string, itemsProcessed int, err error) {
	if flowFunctions[st.Function] {
		return e.runFlowStep(ctx, runID, st, scope)
	}

	if st.Foreach != nil {
		return e.runLegacyForeach(ctx, runID, st, scope)
	}

	spec, ok := e.Registry.Get(st.Function)
	if !ok {
		return rt.Null(), FunctionStatusFailed, 0, fmt.Errorf("Function not found")
	}
	if !spec.ExposureProfile.Procedure {
		e.logEvent(ctx, runID, runs.LogLevelWarn, runs.EventGovernanceViolation, "function not available in procedure context", runs.JSONMap{"function": st.Function})
		return rt.Null(), FunctionStatusFailed, 0, fmt.Errorf("function %q is not available in procedure context", st.Function)
	}
	if spec.SideEffects {
		e.logEvent(ctx, runID, runs.LogLevelInfo, runs.EventGovernance, "side-effecting step", runs.JSONMap{"step": st.Name, "function": st.Function})
	}

	rendered, rerr := Render(st.Params, scope)
	if rerr != nil {
		return rt.Null(), FunctionStatusFailed, 0, rerr
	}

	res, invokeErr := e.Registry.Invoke(ctx, st.Function, rendered)
	if invokeErr != nil {
		return rt.Null(), FunctionStatusFailed, 0, invokeErr
	}
	if res.Status == FunctionStatusFailed {
		errMsg := res.Error
		if errMsg == "" {
			errMsg = res.Message
		}
		return res.Data, res.Status, res.ItemsProcessed, fmt.Errorf("%s", errMsg)
	}
	return res.Data, res.Status, res.ItemsProcessed, nil
}

// runFlowStep dispatches one of the four control primitives.
func (e *Executor) runFlowStep(ctx context.Context, runID string, st Step, scope Scope) (rt.Value, string, int, error) {
	rendered, rerr := Render(st.Params, scope)
	if rerr != nil {
		return rt.Null(), FunctionStatusFailed, 0, rerr
	}

	switch st.Function {
	case "if_branch":
		fr := evalIfBranch(rendered)
		return e.runSingleBranch(ctx, runID, st, fr.BranchKey, scope)

	case "switch_branch":
		available := make(map[string][]interface{}, len(st.Branches))
		for k := range st.Branches {
			available[k] = nil
		}
		fr := evalSwitchBranch(rendered, available)
		if fr.Kind == FlowLeaf {
			return rt.Null(), FunctionStatusCompleted, 0, nil
		}
		return e.runSingleBranch(ctx, runID, st, fr.BranchKey, scope)

	case "parallel":
		fr := evalParallel(rendered)
		return e.runParallel(ctx, runID, st, scope, fr.MaxConcurrency)

	case "foreach":
		fr := evalForeach(rendered)
		return e.runForeachFlow(ctx, runID, st, scope, fr)

	default:
		return rt.Null(), FunctionStatusFailed, 0, fmt.Errorf("unknown flow function: %s", st.Function)
	}
}

func (e *Executor) runSingleBranch(ctx context.Context, runID string, st Step, key string, scope Scope) (rt.Value, string, int, error) {
	branchSteps, ok := st.Branches[key]
	if !ok {
		return rt.Null(), FunctionStatusCompleted, 0, nil // unknown case with no default already handled by caller
	}
	onError := st.OnError
	if onError == "" {
		onError = OnErrorFail
	}
	status, summaries, err := e.executeSteps(ctx, runID, branchSteps, scope, onError, nil)
	data := lastStepData(scope, branchSteps)
	if status == "failed" {
		return data, FunctionStatusFailed, len(summaries), err
	}
	if status == "partial" {
		return data, FunctionStatusPartial, len(summaries), nil
	}
	return data, FunctionStatusCompleted, len(summaries), nil
}

func lastStepData(scope Scope, steps []Step) rt.Value {
	if len(steps) == 0 {
		return rt.Null()
	}
	last := steps[len(steps)-1]
	v, _ := scope.Steps.Get(last.Name)
	return v
}

// runParallel runs every branch concurrently, each with its own copy of the
// steps namespace: copied steps.* results from the parent scope, so branches
// can't see each other's writes mid-flight.
func (e *Executor) runParallel(ctx context.Context, runID string, st Step, scope Scope, maxConcurrency int) (rt.Value, string, int, error) {
	branchNames := make([]string, 0, len(st.Branches))
	for name := range st.Branches {
		branchNames = append(branchNames, name)
	}

	sem := make(chan struct{}, concurrencyLimit(maxConcurrency, len(branchNames)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]rt.Value, len(branchNames))
	failures := 0

	onError := st.OnError
	if onError == "" {
		onError = OnErrorFail
	}

	for _, name := range branchNames {
		name := name
		branchSteps := st.Branches[name]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			branchScope := Scope{Params: scope.Params, Steps: copyValue(scope.Steps), Item: scope.Item}
			status, _, _ := e.executeSteps(ctx, runID, branchSteps, branchScope, onError, nil)
			data := lastStepData(branchScope, branchSteps)
			mu.Lock()
			results[name] = data
			if status == "failed" {
				failures++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	out := make(map[string]rt.Value, len(results))
	for k, v := range results {
		out[k] = v
	}

	if failures > 0 {
		if onError == OnErrorFail {
			return rt.Map(out), FunctionStatusFailed, len(branchNames), fmt.Errorf("%d of %d parallel branches failed", failures, len(branchNames))
		}
		return rt.Map(out), FunctionStatusPartial, len(branchNames), nil
	}
	return rt.Map(out), FunctionStatusCompleted, len(branchNames), nil
}

// runForeachFlow iterates items through the "each" branch, preserving input
// order in the result regardless of completion order when concurrency > 1.
func (e *Executor) runForeachFlow(ctx context.Context, runID string, st Step, scope Scope, fr FlowResult) (rt.Value, string, int, error) {
	branchSteps := st.Branches["each"]
	if len(fr.Items) == 0 {
		return rt.List(), FunctionStatusCompleted, 0, nil
	}

	onError := st.OnError
	if onError == "" {
		onError = OnErrorFail
	}

	results, failures := iterate(fr.Items, concurrencyLimit(fr.Concurrency, len(fr.Items)), func(_ int, item rt.Value) (rt.Value, bool) {
		itemScope := Scope{Params: scope.Params, Steps: copyValue(scope.Steps), Item: item}
		if fr.Condition != "" {
			rendered, err := Render(rt.Text(fr.Condition), itemScope)
			if err == nil && !rendered.Truthy() {
				return rt.Map(map[string]rt.Value{"skipped": rt.Bool(true)}), true
			}
		}
		status, _, _ := e.executeSteps(ctx, runID, branchSteps, itemScope, onError, nil)
		return lastStepData(itemScope, branchSteps), status != "failed"
	})

	if failures > 0 {
		if onError == OnErrorFail {
			return rt.List(results...), FunctionStatusFailed, len(fr.Items), fmt.Errorf("%d of %d foreach items failed", failures, len(fr.Items))
		}
		return rt.List(results...), FunctionStatusPartial, len(fr.Items), nil
	}
	return rt.List(results...), FunctionStatusCompleted, len(fr.Items), nil
}

// runLegacyForeach implements the legacy single-step foreach form attached
// directly to a non-flow-control step, coexisting with the standalone
// foreach flow function above.
func (e *Executor) runLegacyForeach(ctx context.Context, runID string, st Step, scope Scope) (rt.Value, string, int, error) {
	itemsVal, err := Render(rt.Text(st.Foreach.Items), scope)
	if err != nil {
		return rt.Null(), FunctionStatusFailed, 0, err
	}
	items, _ := itemsVal.AsList()
	if len(items) == 0 {
		return rt.List(), FunctionStatusCompleted, 0, nil
	}
	concurrency := st.Foreach.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	spec, ok := e.Registry.Get(st.Function)
	if !ok {
		return rt.Null(), FunctionStatusFailed, 0, fmt.Errorf("Function not found")
	}

	results, failures := iterate(items, concurrency, func(i int, item rt.Value) (rt.Value, bool) {
		itemScope := Scope{Params: scope.Params, Steps: copyValue(scope.Steps), Item: item}
		rendered, rerr := Render(st.Params, itemScope)
		if rerr != nil {
			return rt.Null(), false
		}
		res, ierr := spec.Handler(ctx, rendered)
		if ierr != nil || res == nil || res.Status == FunctionStatusFailed {
			if res != nil {
				return res.Data, false
			}
			return rt.Null(), false
		}
		return res.Data, true
	})

	if failures > 0 {
		return rt.List(results...), FunctionStatusPartial, len(items), nil
	}
	return rt.List(results...), FunctionStatusCompleted, len(items), nil
}

// iterate runs fn over items with bounded concurrency (a semaphore-guarded
// goroutine per item, mirroring worker.Pool's goroutine-per-slot shape),
// collecting each item's result and success flag. runForeachFlow and
// runLegacyForeach both drive their item loop through this one helper so the
// legacy single-step foreach and the standalone foreach flow function share
// identical fan-out semantics.
func iterate(items []rt.Value, concurrency int, fn func(i int, item rt.Value) (rt.Value, bool)) ([]rt.Value, int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}
	results := make([]rt.Value, len(items))
	failed := make([]bool, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res, ok := fn(i, item)
			results[i] = res
			failed[i] = !ok
		}()
	}
	wg.Wait()

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	return results, failures
}

func concurrencyLimit(requested, n int) int {
	if requested <= 0 {
		requested = n
	}
	if requested <= 0 {
		requested = 1
	}
	if requested > n && n > 0 {
		requested = n
	}
	return requested
}

// copyValue deep-copies a Value via its JSON round trip — adequate for the
// small steps-namespace snapshots handed to parallel branches and foreach
// items, mirroring semantic/runtime/action.go's marshal/unmarshal DeepCopy.
func copyValue(v rt.Value) rt.Value {
	return rt.FromInterface(v.ToInterface())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// truncateForLog shrinks large text/list values for log_event context:
// strings over ~2000 chars get a suffix noting total length, lists over 10
// elements get summarised.
func (e *Executor) truncateForLog(v rt.Value) interface{} {
	maxLen := e.MaxLogLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	maxList := e.MaxLogList
	if maxList <= 0 {
		maxList = 10
	}
	return truncateValue(v, maxLen, maxList)
}

func truncateValue(v rt.Value, maxLen, maxList int) interface{} {
	switch v.Kind() {
	case rt.KindText:
		s, _ := v.AsString()
		if len(s) > maxLen {
			return fmt.Sprintf("%s... (truncated, total length %d)", s[:maxLen], len(s))
		}
		return s
	case rt.KindList:
		items, _ := v.AsList()
		if len(items) > maxList {
			return fmt.Sprintf("[%d items, truncated]", len(items))
		}
		out := make([]interface{}, len(items))
		// nested truncation budgets shrink proportionally
		nextLen, nextList := maxLen/2, maxList/2
		if nextList < 2 {
			nextList = 2
		}
		for i, it := range items {
			out[i] = truncateValue(it, nextLen, nextList)
		}
		return out
	case rt.KindMap:
		m, _ := v.AsMap()
		out := make(map[string]interface{}, len(m))
		nextLen, nextList := maxLen/2, maxList/2
		if nextList < 2 {
			nextList = 2
		}
		for k, it := range m {
			out[k] = truncateValue(it, nextLen, nextList)
		}
		return out
	default:
		return v.ToInterface()
	}
}

func (e *Executor) logEvent(ctx context.Context, runID string, level runs.LogLevel, eventType runs.EventType, message string, logCtx runs.JSONMap) {
	if e.Logs == nil {
		return
	}
	_ = e.Logs.AppendLog(ctx, runID, level, eventType, message, logCtx)
}
