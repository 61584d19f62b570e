package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrFrozen is returned by Register after the registry has been frozen.
var ErrFrozen = errors.New("jsonrpc: registry is frozen")

// Handler executes one registered command. params is the raw params
// member of the request (nil when absent) and id is the raw request id,
// provided for handlers that correlate side effects with calls.
type Handler interface {
	Execute(ctx context.Context, params, id json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, params, id json.RawMessage) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, params, id json.RawMessage) (any, error) {
	return f(ctx, params, id)
}

// Registry maps method names to handlers. Names are case-sensitive.
//
// A Registry is populated once at startup and frozen before serving;
// after Freeze, lookups read an immutable snapshot without locking and
// further registration fails with ErrFrozen. Duplicate names are
// rejected, never shadowed.
type Registry struct {
	mu       sync.Mutex
	methods  map[string]Handler
	snapshot atomic.Pointer[map[string]Handler]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Handler)}
}

// Register binds name to handler. It fails on empty names, nil handlers,
// duplicate names, and frozen registries.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return errors.New("jsonrpc: method name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("jsonrpc: nil handler for method %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot.Load() != nil {
		return ErrFrozen
	}
	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("jsonrpc: method %q already registered", name)
	}
	r.methods[name] = handler
	return nil
}

// RegisterFunc binds name to a HandlerFunc.
func (r *Registry) RegisterFunc(name string, fn HandlerFunc) error {
	return r.Register(name, fn)
}

// Freeze makes the registry immutable. Lookups after Freeze are
// lock-free. Freeze is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot.Load() != nil {
		return
	}
	snap := make(map[string]Handler, len(r.methods))
	for k, v := range r.methods {
		snap[k] = v
	}
	r.snapshot.Store(&snap)
}

// Lookup returns the handler bound to name. The match is a case-sensitive
// exact match.
func (r *Registry) Lookup(name string) (Handler, bool) {
	if snap := r.snapshot.Load(); snap != nil {
		h, ok := (*snap)[name]
		return h, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.methods[name]
	return h, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	var names []string
	if snap := r.snapshot.Load(); snap != nil {
		for k := range *snap {
			names = append(names, k)
		}
	} else {
		r.mu.Lock()
		for k := range r.methods {
			names = append(names, k)
		}
		r.mu.Unlock()
	}
	sort.Strings(names)
	return names
}
