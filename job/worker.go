package job

import (
	"context"
	"sync"

	"github.com/latchq/latch/payload"
)

// Worker is the capability interface implemented by job logic. The engine
// resolves the concrete type by name from a Registry and runs it
// synchronously to completion.
type Worker interface {
	// DoWork executes the job against its effective input and returns one
	// of Success, Failure, or Retry. Blocking for arbitrary duration is
	// allowed; the engine imposes no timeout.
	DoWork(ctx context.Context, input payload.Payload) Result
}

// Func adapts a plain function to the Worker interface.
type Func func(ctx context.Context, input payload.Payload) Result

// DoWork implements Worker.
func (f Func) DoWork(ctx context.Context, input payload.Payload) Result {
	return f(ctx, input)
}

// Factory produces a fresh Worker instance per execution.
type Factory func() Worker

type resultKind int

const (
	resultSuccess resultKind = iota
	resultFailure
	resultRetry
)

// Result is a worker's report of one execution attempt. It drives both the
// persisted state transition and whether dependents are notified.
type Result struct {
	kind   resultKind
	Output payload.Payload
}

// Success reports a completed execution with the given output payload.
func Success(output payload.Payload) Result {
	if output == nil {
		output = payload.Payload{}
	}
	return Result{kind: resultSuccess, Output: output}
}

// Failure reports a business-logic failure that will not succeed on retry.
func Failure() Result { return Result{kind: resultFailure} }

// Retry reports a transient failure; the job returns to the scheduling
// pool at the same period.
func Retry() Result { return Result{kind: resultRetry} }

// IsSuccess reports whether the result is a success.
func (r Result) IsSuccess() bool { return r.kind == resultSuccess }

// IsFailure reports whether the result is a permanent failure.
func (r Result) IsFailure() bool { return r.kind == resultFailure }

// IsRetry reports whether the result requests a retry.
func (r Result) IsRetry() bool { return r.kind == resultRetry }

// Registry maps worker type names to factories. It is safe for concurrent
// use. Resolution failure for a name stored on a JobSpec is a permanent
// error: the job is failed, never retried.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a worker type name with a factory. Re-registering a
// name replaces the previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// RegisterFunc registers a plain function as a worker type.
func (r *Registry) RegisterFunc(name string, f Func) {
	r.Register(name, func() Worker { return f })
}

// Resolve constructs a fresh Worker for the given type name.
// Returns false if no factory is registered.
func (r *Registry) Resolve(name string) (Worker, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns all registered worker type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
