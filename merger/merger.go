// Package merger combines the outputs of multiple prerequisite jobs into
// one effective input for a dependent job.
//
// Conflict policy is a pluggable capability selected by the JobSpec's
// merger type name and resolved from a [Registry], the same way worker
// types are resolved. A job with zero prerequisites never invokes a
// merger: its own declared input is used unmodified.
package merger

import (
	"sync"

	"github.com/latchq/latch/payload"
)

// Merger combines an ordered sequence of prerequisite outputs into one
// input payload. The sequence order is the dependency-edge insertion
// order ("encounter order").
type Merger interface {
	Merge(outputs []payload.Payload) payload.Payload
}

// Factory produces a fresh Merger instance per execution.
type Factory func() Merger

// Well-known merger type names.
const (
	// NameOverlay is the default policy: later outputs overwrite earlier
	// ones key-by-key.
	NameOverlay = "overlay"
	// NameArrayCreating collects values for keys present in more than one
	// output into arrays preserving encounter order.
	NameArrayCreating = "array"
)

// Overlay merges outputs by overwriting: for each key, the value from the
// latest output in encounter order wins.
type Overlay struct{}

// Merge implements Merger.
func (Overlay) Merge(outputs []payload.Payload) payload.Payload {
	merged := payload.Payload{}
	for _, out := range outputs {
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}

// ArrayCreating merges outputs by collecting: a key present in more than
// one output maps to an array of all its values in encounter order, with
// array values contributing their elements. A key present in exactly one
// output passes through unchanged.
type ArrayCreating struct{}

// Merge implements Merger.
func (ArrayCreating) Merge(outputs []payload.Payload) payload.Payload {
	counts := make(map[string]int)
	for _, out := range outputs {
		for k := range out {
			counts[k]++
		}
	}

	merged := payload.Payload{}
	for _, out := range outputs {
		for k, v := range out {
			if counts[k] == 1 {
				merged[k] = v
				continue
			}

			existing, _ := merged[k].([]any)
			merged[k] = appendValues(existing, v)
		}
	}
	return merged
}

// appendValues appends v to arr, splicing in elements when v is itself an
// array so nested collections stay flat.
func appendValues(arr []any, v any) []any {
	switch vv := v.(type) {
	case []any:
		return append(arr, vv...)
	case []string:
		for _, s := range vv {
			arr = append(arr, s)
		}
		return arr
	default:
		return append(arr, v)
	}
}

// Registry maps merger type names to factories. It is safe for concurrent
// use. An unknown name stored on a JobSpec is a permanent resolution
// error: the job is failed, never retried.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in overlay
// and array-creating mergers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(NameOverlay, func() Merger { return Overlay{} })
	r.Register(NameArrayCreating, func() Merger { return ArrayCreating{} })
	return r
}

// Register associates a merger type name with a factory. Re-registering a
// name replaces the previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve constructs a fresh Merger for the given type name. The empty
// name selects the overlay merger. Returns false for unknown names.
func (r *Registry) Resolve(name string) (Merger, bool) {
	if name == "" {
		name = NameOverlay
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}
