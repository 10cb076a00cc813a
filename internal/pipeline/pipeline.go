// Package pipeline provides the ordered pre-send hook list applied to every
// outgoing request of a client session.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Pipeline errors.
var (
	ErrPipelineSealed = errors.New("pipeline is sealed")
	ErrDuplicateHook  = errors.New("hook already registered")
	ErrNilHook        = errors.New("hook cannot be nil")
)

// Hook mutates an outgoing request immediately before it is dispatched.
// PreSend receives a request owned by the pipeline and must not block.
type Hook interface {
	Name() string
	PreSend(r *http.Request)
}

// funcHook adapts a plain function to the Hook interface.
type funcHook struct {
	name string
	fn   func(*http.Request)
}

// NewHook creates a named hook from a function.
func NewHook(name string, fn func(*http.Request)) Hook {
	return &funcHook{name: name, fn: fn}
}

// Name returns the hook name.
func (h *funcHook) Name() string {
	return h.name
}

// PreSend invokes the wrapped function.
func (h *funcHook) PreSend(r *http.Request) {
	h.fn(r)
}

// Pipeline is an ordered list of hooks. Hooks are registered during session
// setup; once sealed the list is fixed for the lifetime of the session.
type Pipeline struct {
	mu     sync.RWMutex
	hooks  []Hook
	names  map[string]bool
	sealed bool
}

// New creates a pipeline with the given hooks registered in order.
func New(hooks ...Hook) (*Pipeline, error) {
	p := &Pipeline{names: make(map[string]bool)}
	for _, h := range hooks {
		if err := p.Register(h); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Register appends a hook to the pipeline.
func (p *Pipeline) Register(h Hook) error {
	if h == nil {
		return ErrNilHook
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sealed {
		return fmt.Errorf("register %q: %w", h.Name(), ErrPipelineSealed)
	}
	if p.names[h.Name()] {
		return fmt.Errorf("register %q: %w", h.Name(), ErrDuplicateHook)
	}

	p.names[h.Name()] = true
	p.hooks = append(p.hooks, h)
	return nil
}

// Seal prevents further registrations.
func (p *Pipeline) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// Sealed reports whether the pipeline has been sealed.
func (p *Pipeline) Sealed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sealed
}

// Hooks returns a copy of the registered hooks in registration order.
func (p *Pipeline) Hooks() []Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hooks := make([]Hook, len(p.hooks))
	copy(hooks, p.hooks)
	return hooks
}

// Prepare clones the request and runs every hook on the clone in
// registration order. The caller's request is left untouched.
func (p *Pipeline) Prepare(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	for _, h := range p.Hooks() {
		h.PreSend(out)
	}
	return out
}

// Transport is an http.RoundTripper that runs the pipeline before handing
// the request to Base.
type Transport struct {
	Pipeline *Pipeline
	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(t.Pipeline.Prepare(r))
}
