// Package inproc runs SQLite in the host process as the native module, using the
// Go translation of the C library in modernc.org/sqlite/lib.
//
// Addresses are real process addresses and pointers are eight bytes wide on 64-bit
// hosts. Host callbacks become Go closures of the C function types SQLite calls.
// A Module is not safe for concurrent use: it owns a single libc.TLS.
package inproc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"modernc.org/libc"

	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/infra/config"
)

// Compile-time checks.
var (
	_ domain.Native        = (*Module)(nil)
	_ domain.Memory        = memory{}
	_ domain.Allocator     = allocator{}
	_ domain.FunctionTable = (*Table)(nil)
)

// Module is an in-process SQLite presented through the numeric-only native interface.
type Module struct {
	tls     *libc.TLS
	mem     memory
	table   *Table
	exports map[string]export
	bigInt  bool
	logger  *slog.Logger

	// contexts of the native calls in progress, innermost last
	ctxMu sync.Mutex
	ctxs  []context.Context
}

// New creates the module. cfg.MaxSlots bounds the closures per call signature.
func New(cfg config.NativeConfig, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSlots <= 0 {
		return nil, fmt.Errorf("%w: max_slots must be positive, got %d", domain.ErrInvalidInput, cfg.MaxSlots)
	}
	m := &Module{
		tls:     libc.NewTLS(),
		exports: exportTable(),
		bigInt:  cfg.BigInt,
		logger:  logger.With("backend", "inproc"),
	}
	m.table = newTable(m, cfg.MaxSlots)

	m.logger.Debug("native module ready",
		"exports", len(m.exports),
		"max_slots", cfg.MaxSlots,
		"big_int", cfg.BigInt,
	)
	return m, nil
}

func (m *Module) Memory() domain.Memory       { return m.mem }
func (m *Module) Allocator() domain.Allocator { return allocator{m: m} }
func (m *Module) Table() domain.FunctionTable { return m.table }
func (m *Module) BigIntEnabled() bool         { return m.bigInt }

// Slots returns the function table with its per-signature capacity.
func (m *Module) Slots() *Table { return m.table }

// HasExport reports whether name is one of the served exports.
func (m *Module) HasExport(name string) bool {
	_, ok := m.exports[name]
	return ok
}

// Exports lists the served exports in sorted order.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the export name. Host callbacks that SQLite runs before the call
// returns observe ctx.
func (m *Module) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	e, ok := m.exports[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrExportNotFound, name)
	}
	if len(args) < e.arity {
		return 0, fmt.Errorf("%w: %s takes %d arguments, got %d", domain.ErrInvalidInput, name, e.arity, len(args))
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	m.pushContext(ctx)
	defer m.popContext()
	return e.fn(m.tls, args), nil
}

func (m *Module) pushContext(ctx context.Context) {
	m.ctxMu.Lock()
	m.ctxs = append(m.ctxs, ctx)
	m.ctxMu.Unlock()
}

func (m *Module) popContext() {
	m.ctxMu.Lock()
	m.ctxs[len(m.ctxs)-1] = nil
	m.ctxs = m.ctxs[:len(m.ctxs)-1]
	m.ctxMu.Unlock()
}

// callContext returns the context of the innermost native call in progress.
func (m *Module) callContext() context.Context {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	if n := len(m.ctxs); n > 0 {
		return m.ctxs[n-1]
	}
	return context.Background()
}

// Close releases the thread-local state. Databases must be closed first.
func (m *Module) Close() error {
	if n := m.table.Len(); n > 0 {
		m.logger.Warn("closing module with installed slots", "slots", n)
	}
	m.tls.Close()
	return nil
}
