package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Handler runs one message. The result is stored with the completed status
// and must be JSON-encodable.
type Handler interface {
	Handle(ctx context.Context, msg *task.Message) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *task.Message) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *task.Message) (any, error) {
	return f(ctx, msg)
}

// Registry maps message types to handlers. Every type must be either handled
// or explicitly marked unsupported before the Manager starts.
type Registry struct {
	mu          sync.RWMutex
	handlers    map[task.Type]Handler
	unsupported map[task.Type]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:    make(map[task.Type]Handler),
		unsupported: make(map[task.Type]bool),
	}
}

// Register binds h to t. Each type may be registered once.
func (r *Registry) Register(t task.Type, h Handler) error {
	if !t.Valid() {
		return errors.WrapInvalid(fmt.Errorf("unknown message type %q", t), "Registry", "Register", "register handler")
	}
	if h == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler for %s", t), "Registry", "Register", "register handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return errors.WrapInvalid(fmt.Errorf("handler for %s already registered", t), "Registry", "Register", "register handler")
	}
	if r.unsupported[t] {
		return errors.WrapInvalid(fmt.Errorf("%s is marked unsupported", t), "Registry", "Register", "register handler")
	}
	r.handlers[t] = h
	return nil
}

// MarkUnsupported records that this process does not consume t.
func (r *Registry) MarkUnsupported(t task.Type) error {
	if !t.Valid() {
		return errors.WrapInvalid(fmt.Errorf("unknown message type %q", t), "Registry", "MarkUnsupported", "mark type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return errors.WrapInvalid(fmt.Errorf("%s already has a handler", t), "Registry", "MarkUnsupported", "mark type")
	}
	r.unsupported[t] = true
	return nil
}

// Unsupported reports whether t was marked as consumed elsewhere.
func (r *Registry) Unsupported(t task.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unsupported[t]
}

// Validate fails if some message type is neither handled nor unsupported.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, t := range task.Types() {
		if _, ok := r.handlers[t]; !ok && !r.unsupported[t] {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return errors.WrapFatal(fmt.Errorf("no handler for %v", missing), "Registry", "Validate", "validate handlers")
	}
	return nil
}

// Handler returns the handler for t.
func (r *Registry) Handler(t task.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Handled returns the types with a handler, in declaration order.
func (r *Registry) Handled() []task.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []task.Type
	for _, t := range task.Types() {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Names returns the handled type names sorted.
func (r *Registry) Names() []string {
	types := r.Handled()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	sort.Strings(out)
	return out
}
