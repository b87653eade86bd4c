package procedure

import (
	"context"
	"fmt"
	"sync"
	"time"

	rt "flowcore.dev/procedure/runtime"
)

// FunctionResult is what a non-flow-control function returns: status, data,
// item counters, duration, a human message, an error, and free-form metadata.
type FunctionResult struct {
	Status         string
	Data           rt.Value
	ItemsProcessed int
	ItemsFailed    int
	DurationMs     int64
	Message        string
	Error          string
	Metadata       map[string]interface{}
}

const (
	FunctionStatusCompleted = "completed"
	FunctionStatusFailed    = "failed"
	FunctionStatusPartial   = "partial"
	FunctionStatusSkipped   = "skipped"
)

// Function is the signature every registry entry implements. params is
// already template-rendered for the current scope.
type Function func(ctx context.Context, params rt.Value) (*FunctionResult, error)

// ExposureProfile gates where a function may run.
type ExposureProfile struct {
	Procedure bool
}

// FunctionSpec is one registered function: its handler plus governance
// metadata, grounded on semantic/actionregistry.go's ActionHandler registry
// and executor/executor.go's Executor/Registry dispatch shape, merged into
// a single name-keyed table since procedures dispatch by string id rather
// than by a CanHandle type switch.
type FunctionSpec struct {
	Name            string
	SideEffects     bool
	ExposureProfile ExposureProfile
	Handler         Function
}

// Registry is the global table of side-effect-tagged operations the
// executor resolves `function` ids against.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]FunctionSpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]FunctionSpec)}
}

func (r *Registry) Register(spec FunctionSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("function %q already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

func (r *Registry) MustRegister(spec FunctionSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (FunctionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	return out
}

// Invoke runs a function and stamps duration, mirroring
// executor/executor.go's Registry.Execute timing wrapper.
func (r *Registry) Invoke(ctx context.Context, name string, params rt.Value) (*FunctionResult, error) {
	spec, ok := r.Get(name)
	if !ok {
		return &FunctionResult{Status: FunctionStatusFailed, Error: "Function not found"}, nil
	}
	start := time.Now()
	res, err := spec.Handler(ctx, params)
	if res == nil {
		res = &FunctionResult{}
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, err
}
