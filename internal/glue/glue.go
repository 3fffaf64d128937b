// Package glue marshals host values across the numeric-only boundary of a native SQLite
// module. It binds the signature table into proxies, installs host callbacks behind
// native function pointers and provides shims for the entry points that take them.
package glue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"sqlite-glue/internal/domain"
)

// Option customizes the registries during the setup phase.
type Option func(*Glue) error

// WithArgAdapter registers an extra argument conversion.
func WithArgAdapter(tag string, fn ArgAdapter) Option {
	return func(g *Glue) error { return g.args.Register(tag, fn) }
}

// WithResultAdapter registers an extra result conversion.
func WithResultAdapter(tag string, fn ResultAdapter) Option {
	return func(g *Glue) error { return g.results.Register(tag, fn) }
}

// WithAlias makes alias an additional name for an existing tag in both registries.
func WithAlias(existing, alias string) Option {
	return func(g *Glue) error {
		argErr := g.args.Alias(existing, alias)
		resErr := g.results.Alias(existing, alias)
		if argErr != nil && resErr != nil {
			return argErr
		}
		return nil
	}
}

// Glue is the marshaling context for one native module.
type Glue struct {
	native domain.Native
	logger *slog.Logger

	args    *Registry[ArgAdapter]
	results *Registry[ResultAdapter]

	api      map[string]Proxy
	module   map[string]Proxy
	declared map[string]Proxy
	bindings map[string]Binding

	prepareText Proxy
	bridge      *Bridge

	errMu    sync.Mutex
	dbErrors map[uint64]dbError
}

// New runs the setup phase: it registers the default tags and the options, freezes
// both registries, binds the signature table and installs the shims.
func New(native domain.Native, logger *slog.Logger, opts ...Option) (*Glue, error) {
	if native == nil {
		return nil, fmt.Errorf("%w: nil native module", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Glue{
		native:   native,
		logger:   logger,
		args:     NewRegistry[ArgAdapter]("argument"),
		results:  NewRegistry[ResultAdapter]("result"),
		api:      make(map[string]Proxy),
		module:   make(map[string]Proxy),
		declared: make(map[string]Proxy),
		bindings: make(map[string]Binding),
		bridge:   newBridge(native.Table(), logger),
		dbErrors: make(map[uint64]dbError),
	}
	if err := registerDefaultArgs(g.args); err != nil {
		return nil, err
	}
	if err := registerDefaultResults(g.results); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	g.args.Freeze()
	g.results.Freeze()

	if err := g.buildGroups(); err != nil {
		return nil, err
	}
	if err := g.installShims(); err != nil {
		return nil, err
	}
	return g, nil
}

// Native returns the wrapped native module.
func (g *Glue) Native() domain.Native { return g.native }

// Bridge returns the callback bridge.
func (g *Glue) Bridge() *Bridge { return g.bridge }

// ArgRegistry returns the argument-side registry. It is frozen once New returns.
func (g *Glue) ArgRegistry() *Registry[ArgAdapter] { return g.args }

// ResultRegistry returns the result-side registry. It is frozen once New returns.
func (g *Glue) ResultRegistry() *Registry[ResultAdapter] { return g.results }

// API returns the host-facing proxy for name.
func (g *Glue) API(name string) (Proxy, bool) {
	p, ok := g.api[name]
	return p, ok
}

// Module returns the module-facing proxy for name.
func (g *Glue) Module(name string) (Proxy, bool) {
	p, ok := g.module[name]
	return p, ok
}

// Bindings reports, per signature table entry, how it was bound.
func (g *Glue) Bindings() map[string]Binding {
	out := make(map[string]Binding, len(g.bindings))
	for k, v := range g.bindings {
		out[k] = v
	}
	return out
}

// Names lists the host-facing proxies in sorted order.
func (g *Glue) Names() []string {
	names := make([]string, 0, len(g.api))
	for name := range g.api {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the proxy named name, looking in the API namespace first.
func (g *Glue) Call(ctx context.Context, name string, args ...any) (any, error) {
	p, ok := g.api[name]
	if !ok {
		p, ok = g.module[name]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExportNotFound, name)
	}
	return p(ctx, args...)
}

// CallInt is Call for proxies with an integer result.
func (g *Glue) CallInt(ctx context.Context, name string, args ...any) (int, error) {
	v, err := g.Call(ctx, name, args...)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: %s returned %T", domain.ErrProtocol, name, v)
}

// Close reclaims every slot still installed. Registrations still held by an open
// database become dangling, so close databases first.
func (g *Glue) Close(_ context.Context) error {
	return g.bridge.reclaimAll()
}
