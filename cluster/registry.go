package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/davidroman0O/durex/protocol"
	"github.com/sasha-s/go-deadlock"
)

// Handler runs one activity invocation inside a worker.
type Handler interface {
	Handle(ctx context.Context, data []byte) ([]byte, error)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, data []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

// SetupHandler receives the setup payload before the first input. An error stops the worker.
type SetupHandler interface {
	OnSetup(ctx context.Context, data []byte) error
}

// SignalHandler replaces the default signal behaviour of a worker.
// Returning true stops the worker once its in-flight invocations finish.
type SignalHandler interface {
	OnSignal(ctx context.Context, value string) bool
}

// Func wraps a typed function in a Handler that decodes inputs and encodes outputs with JSON.
func Func[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return Typed(protocol.JSONCodec{}, fn)
}

// Typed is Func with an explicit codec.
func Typed[In, Out any](codec protocol.Codec, fn func(ctx context.Context, in In) (Out, error)) Handler {
	return HandlerFunc(func(ctx context.Context, data []byte) ([]byte, error) {
		var in In
		if len(data) > 0 {
			if err := codec.Unmarshal(data, &in); err != nil {
				return nil, fmt.Errorf("decoding input: %w", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return codec.Marshal(out)
	})
}

var (
	ErrEmptyScript     = errors.New("durex: empty script name")
	ErrDuplicateScript = errors.New("durex: script already registered")
	ErrNilHandler      = errors.New("durex: nil handler")
)

// Registry maps script names to handlers.
type Registry struct {
	mu       deadlock.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(script string, h Handler) error {
	if script == "" {
		return ErrEmptyScript
	}
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNilHandler, script)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[script]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateScript, script)
	}
	r.handlers[script] = h
	return nil
}

func (r *Registry) Lookup(script string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[script]
	return h, ok
}

// Scripts returns the registered names, sorted.
func (r *Registry) Scripts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryBuilder is used to register activity handlers
type RegistryBuilder struct {
	scripts  []string
	handlers []Handler
}

// NewBuilder creates a new RegistryBuilder
func NewBuilder() *RegistryBuilder {
	return &RegistryBuilder{}
}

// Activity adds a handler to be registered under script
func (b *RegistryBuilder) Activity(script string, h Handler) *RegistryBuilder {
	b.scripts = append(b.scripts, script)
	b.handlers = append(b.handlers, h)
	return b
}

// Build finalizes the registry and returns it
func (b *RegistryBuilder) Build() (*Registry, error) {
	r := NewRegistry()
	for i, script := range b.scripts {
		if err := r.Register(script, b.handlers[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}
