package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/parley/pkg/bus"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// table is a name → factory map for one provider kind.
type table[F any] struct {
	kind      string
	factories map[string]F
}

func newTable[F any](kind string) table[F] {
	return table[F]{kind: kind, factories: make(map[string]F)}
}

func (t table[F]) lookup(name string) (F, error) {
	f, ok := t.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, t.kind, name)
	}
	return f, nil
}

func (t table[F]) names() []string {
	out := make([]string, 0, len(t.factories))
	for name := range t.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LLMFactory builds a summary completion backend.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// RealtimeFactory builds a realtime speech model provider.
type RealtimeFactory func(ProviderEntry) (realtime.Provider, error)

// BusFactory builds a bus producer. ctx bounds any connectivity check done
// during construction.
type BusFactory func(ctx context.Context, cfg BusConfig) (bus.Producer, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	llm      table[LLMFactory]
	realtime table[RealtimeFactory]
	bus      table[BusFactory]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      newTable[LLMFactory]("llm"),
		realtime: newTable[RealtimeFactory]("realtime"),
		bus:      newTable[BusFactory]("bus"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.factories[name] = f
}

// RegisterRealtime registers a realtime provider factory under name.
func (r *Registry) RegisterRealtime(name string, f RealtimeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime.factories[name] = f
}

// RegisterBus registers a bus producer factory under a backend name.
func (r *Registry) RegisterBus(backend BusBackend, f BusFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus.factories[string(backend)] = f
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateRealtime instantiates the realtime provider registered under entry.Name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (realtime.Provider, error) {
	r.mu.RLock()
	f, err := r.realtime.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateBus instantiates the producer registered under cfg.Backend.
func (r *Registry) CreateBus(ctx context.Context, cfg BusConfig) (bus.Producer, error) {
	r.mu.RLock()
	f, err := r.bus.lookup(string(cfg.Backend))
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.names()
}
