package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches routines in memory over a Repository. Load fills the
// cache; every write goes to the repository first.
//
// All methods are safe for concurrent use. Routines handed out are copies.
type Registry struct {
	repo   Repository
	logger Logger
	lookup KindLookup

	mu    sync.RWMutex
	cache map[string]*Routine // by name
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		cache:  make(map[string]*Routine),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetKindLookup makes Create and Update check steps against the command
// tables of the toys they name.
func (r *Registry) SetKindLookup(lookup KindLookup) {
	r.lookup = lookup
}

// Load replaces the cache with the repository contents.
func (r *Registry) Load(ctx context.Context) error {
	routines, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading routines: %w", err)
	}

	cache := make(map[string]*Routine, len(routines))
	for i := range routines {
		cache[routines[i].Name] = routines[i].clone()
	}
	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()

	r.logger.Info("routines loaded", "count", len(routines))
	return nil
}

// Get returns the routine with the name.
func (r *Registry) Get(name string) (*Routine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.cache[name]; ok {
		return rt.clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns every routine ordered by name.
func (r *Registry) List() []Routine {
	r.mu.RLock()
	out := make([]Routine, 0, len(r.cache))
	for _, rt := range r.cache {
		out = append(out, *rt.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of routines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Create validates, stores and caches a new routine. A missing ID is
// generated.
func (r *Registry) Create(ctx context.Context, rt *Routine) error {
	if err := Validate(rt, r.lookup); err != nil {
		return err
	}
	if rt.ID == "" {
		rt.ID = GenerateID()
	}
	if err := r.repo.Create(ctx, rt); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[rt.Name] = rt.clone()
	r.mu.Unlock()

	r.logger.Info("routine created", "name", rt.Name, "steps", len(rt.Steps))
	return nil
}

// Update replaces the routine currently called name with rt, which may
// carry a new name.
func (r *Registry) Update(ctx context.Context, name string, rt *Routine) error {
	current, err := r.Get(name)
	if err != nil {
		return err
	}
	if err := Validate(rt, r.lookup); err != nil {
		return err
	}
	rt.ID = current.ID
	rt.CreatedAt = current.CreatedAt
	if err := r.repo.Update(ctx, rt); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, name)
	r.cache[rt.Name] = rt.clone()
	r.mu.Unlock()

	r.logger.Info("routine updated", "name", rt.Name, "previous_name", name)
	return nil
}

// Delete removes a routine and its run history.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.repo.Delete(ctx, name); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()

	r.logger.Info("routine deleted", "name", name)
	return nil
}
