package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over JSON
// unmarshal of Data + the typed handler.
type HandlerFunc func(ctx context.Context, p Payload) error

// Definition is a typed job definition. T is the shape of Payload.Data.
type Definition[T any] struct {
	// Type is the job type this definition handles.
	Type Type

	// Handler sends the email for one job.
	Handler func(ctx context.Context, email string, data T) error

	// Opts are the defaults applied when a job of this type is enqueued.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, email string, data T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    t,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Registry maps job types to handlers and their default options.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
	defaults map[Type]Options
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]HandlerFunc),
		defaults: make(map[Type]Options),
	}
}

// RegisterDefinition registers a typed job definition, replacing any
// earlier handler for the same type.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, p Payload) error {
		var data T
		if len(p.Data) > 0 {
			if err := json.Unmarshal(p.Data, &data); err != nil {
				return fmt.Errorf("unmarshal data for %s job: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, p.Email, data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
	r.defaults[def.Type] = def.Opts
}

// Get returns the handler for the given job type.
func (r *Registry) Get(t Type) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Defaults returns the registered default options for t, or DefaultOptions
// when t has no definition.
func (r *Registry) Defaults(t Type) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.defaults[t]; ok {
		return o
	}
	return DefaultOptions()
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
