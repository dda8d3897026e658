package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/spherolink/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Registry.
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

// Registry adds an in-memory cache keyed by toy name to a Repository.
//
// Thread Safety: all methods are safe for concurrent use. Returned records
// are copies.
type Registry struct {
	repo   Repository
	mu     sync.RWMutex
	cache  map[string]*Toy
	logger Logger
}

// New creates a registry over repo. Call Load before serving reads.
func New(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Toy),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Load replaces the cache with the repository contents.
func (r *Registry) Load(ctx context.Context) error {
	toys, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading toys: %w", err)
	}

	cache := make(map[string]*Toy, len(toys))
	for i := range toys {
		cache[toys[i].Name] = toys[i].clone()
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()

	r.logger.Info("toy registry loaded", "count", len(toys))
	return nil
}

// Get returns the toy with the given name.
func (r *Registry) Get(ctx context.Context, name string) (*Toy, error) {
	r.mu.RLock()
	cached, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return cached.clone(), nil
	}

	t, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[name] = t.clone()
	r.mu.Unlock()
	return t, nil
}

// List returns every cached toy ordered by name.
func (r *Registry) List() []Toy {
	r.mu.RLock()
	toys := make([]Toy, 0, len(r.cache))
	for _, t := range r.cache {
		toys = append(toys, *t.clone())
	}
	r.mu.RUnlock()

	sort.Slice(toys, func(i, j int) bool { return toys[i].Name < toys[j].Name })
	return toys
}

// Count returns the number of cached toys.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Create validates t, assigns it an ID and stores it.
func (r *Registry) Create(ctx context.Context, t *Toy) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := r.repo.Create(ctx, t); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[t.Name] = t.clone()
	r.mu.Unlock()

	r.logger.Info("toy registered", "toy", t.Name, "kind", t.Kind.String(), "address", t.Address)
	return nil
}

// Update stores the changed fields of t. The toy is found by t.ID; a changed
// name renames it.
func (r *Registry) Update(ctx context.Context, t *Toy) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}

	// Read back the previous name so a rename evicts the old cache key.
	var oldName string
	r.mu.RLock()
	for name, cached := range r.cache {
		if cached.ID == t.ID {
			oldName = name
			break
		}
	}
	r.mu.RUnlock()

	if err := r.repo.Update(ctx, t); err != nil {
		return err
	}
	updated, err := r.repo.GetByName(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("reloading toy: %w", err)
	}
	*t = *updated

	r.mu.Lock()
	if oldName != "" && oldName != t.Name {
		delete(r.cache, oldName)
	}
	r.cache[t.Name] = t.clone()
	r.mu.Unlock()
	return nil
}

// Delete removes the toy with the given name.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.repo.Delete(ctx, name); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()

	r.logger.Info("toy removed", "toy", name)
	return nil
}

// Seen records that the toy connected at the given time.
func (r *Registry) Seen(ctx context.Context, name string, at time.Time) error {
	if err := r.repo.Touch(ctx, name, at); err != nil {
		return err
	}
	at = at.UTC()
	r.mu.Lock()
	if cached, ok := r.cache[name]; ok {
		cached.LastSeenAt = &at
	}
	r.mu.Unlock()
	return nil
}

// Import registers each configured toy whose name is not yet known. Toys
// already in the registry keep their stored settings.
//
// Returns the number of toys added.
func (r *Registry) Import(ctx context.Context, toys []config.ToyConfig) (int, error) {
	added := 0
	for _, tc := range toys {
		_, err := r.Get(ctx, tc.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return added, fmt.Errorf("toy %s: %w", tc.Name, err)
		}
		t := &Toy{Name: tc.Name, Kind: tc.ToyKind(), Address: tc.Address, AutoConnect: tc.AutoConnect}
		if err := r.Create(ctx, t); err != nil {
			return added, fmt.Errorf("toy %s: %w", tc.Name, err)
		}
		added++
	}
	return added, nil
}
