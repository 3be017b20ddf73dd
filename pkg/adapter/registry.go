package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// ErrNotSupported is returned when opening a provider that is enumerated but
// has no driver in this build.
var ErrNotSupported = errors.New("provider not supported")

// Registry maps provider IDs to factories. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[core.ProviderID]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[core.ProviderID]Factory)}
}

// Register adds f, replacing any factory with the same ID.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.ID()] = f
}

// Get retrieves a factory by ID.
func (r *Registry) Get(id core.ProviderID) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// List returns all registered factories sorted by ID.
func (r *Registry) List() []Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns all registered provider IDs (sorted).
func (r *Registry) IDs() []core.ProviderID {
	list := r.List()
	ids := make([]core.ProviderID, len(list))
	for i, f := range list {
		ids[i] = f.ID()
	}
	return ids
}

// IsRegistered checks if a provider is registered.
func (r *Registry) IsRegistered(id core.ProviderID) bool {
	_, ok := r.Get(id)
	return ok
}

// Open resolves id and opens a connection. Unknown and unsupported providers
// are configuration errors; failures inside the factory are connection errors.
func (r *Registry) Open(ctx context.Context, id core.ProviderID, p core.ConnectionParams, logger *slog.Logger) (Connection, error) {
	if id == "" {
		return nil, core.ConfigErrorf("provider not specified")
	}
	f, ok := r.Get(id)
	if !ok {
		return nil, &UnknownProviderError{ID: id, Available: r.IDs()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := f.Open(ctx, p, logger.With("provider", string(id)))
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, core.Classify(core.ExitConfig, err)
		}
		return nil, core.Classify(core.ExitConnection, err)
	}
	return conn, nil
}

// UnknownProviderError is returned when an unknown provider is requested.
type UnknownProviderError struct {
	ID        core.ProviderID
	Available []core.ProviderID
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q\nAvailable providers: %v\nHint: Check provider in leapbatch.yaml", e.ID, e.Available)
}

// ExitClass implements core.Classified.
func (e *UnknownProviderError) ExitClass() core.ExitClass { return core.ExitConfig }

type unsupportedFactory struct {
	id   core.ProviderID
	desc string
}

// UnsupportedFactory returns a factory for a provider that is known but has
// no driver. Every Open fails with ErrNotSupported.
func UnsupportedFactory(id core.ProviderID, description string) Factory {
	return &unsupportedFactory{id: id, desc: description}
}

func (f *unsupportedFactory) ID() core.ProviderID  { return f.id }
func (f *unsupportedFactory) Description() string { return f.desc }
func (f *unsupportedFactory) Supported() bool     { return false }

func (f *unsupportedFactory) ConnectionString(core.ConnectionParams) (string, error) {
	return "", fmt.Errorf("%s: %w", f.id, ErrNotSupported)
}

func (f *unsupportedFactory) Open(context.Context, core.ConnectionParams, *slog.Logger) (Connection, error) {
	return nil, fmt.Errorf("%s: %w", f.id, ErrNotSupported)
}
