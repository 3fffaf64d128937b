package glue

import (
	"fmt"
	"sort"
	"sync"

	"sqlite-glue/internal/domain"
)

// ArgAdapter converts a host value into the raw word passed to a native export.
// Allocations needed for the conversion must be made through c so they are released
// when the call returns.
type ArgAdapter func(c *Call, v any) (uint64, error)

// ResultAdapter converts a raw native result into a host value.
type ResultAdapter func(c *Call, raw uint64) (any, error)

// Registry maps type tags to conversion functions for one direction.
// It is mutable during setup only: once frozen, Register and Alias fail with
// domain.ErrRegistryFrozen rather than accepting a registration that proxies
// built earlier would never see. Register custom tags through the glue.New options.
type Registry[F any] struct {
	side   string
	mu     sync.RWMutex
	fns    map[string]F
	frozen bool
}

// NewRegistry creates an empty registry. side names the direction in error messages.
func NewRegistry[F any](side string) *Registry[F] {
	return &Registry[F]{side: side, fns: make(map[string]F)}
}

// Register adds or replaces the conversion function for tag.
func (r *Registry[F]) Register(tag string, fn F) error {
	if tag == "" {
		return fmt.Errorf("%w: empty %s tag", domain.ErrInvalidInput, r.side)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: %s tag %q", domain.ErrRegistryFrozen, r.side, tag)
	}
	r.fns[tag] = fn
	return nil
}

// Get returns the conversion function for tag.
func (r *Registry[F]) Get(tag string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[tag]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s tag %q", domain.ErrUnknownTag, r.side, tag)
	}
	return fn, nil
}

// Alias registers the function already bound to existing under alias as well.
func (r *Registry[F]) Alias(existing, alias string) error {
	fn, err := r.Get(existing)
	if err != nil {
		return err
	}
	return r.Register(alias, fn)
}

// Has reports whether tag is registered.
func (r *Registry[F]) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[tag]
	return ok
}

// Freeze ends the setup phase.
func (r *Registry[F]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry is past its setup phase.
func (r *Registry[F]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Tags returns the registered tags in sorted order.
func (r *Registry[F]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.fns))
	for tag := range r.fns {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
