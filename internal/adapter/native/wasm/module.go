// Package wasm runs a WebAssembly build of SQLite under wazero as the native module.
//
// Pointers are 32 bits wide. Host callbacks are published through stub functions the
// build reserves in its indirect table; each stub forwards to the sqlite3_glue host
// module with its slot number.
package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

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

// Module is an instantiated sqlite wasm build presented through the native interface.
type Module struct {
	runtime *Runtime
	mod     api.Module
	sandbox *Sandbox
	table   *Table
	names   config.ExportNames
	dealloc uint64
	bigInt  bool
	logger  *slog.Logger

	defs  map[string]api.FunctionDefinition
	fns   map[string]api.Function
	depth int
}

// Open reads the module at cfg.Path and loads it.
func Open(ctx context.Context, native config.NativeConfig, cfg config.WASMConfig, logger *slog.Logger) (*Module, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: wasm.path is required", domain.ErrInvalidInput)
	}
	wasmBytes, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidInput, cfg.Path, err)
	}
	m, err := Load(ctx, wasmBytes, native, cfg, logger)
	if err != nil {
		return nil, err
	}
	m.logger.Info("wasm module loaded", "path", cfg.Path)
	return m, nil
}

// Load compiles and instantiates wasmBytes. The module's start function is not run.
func Load(ctx context.Context, wasmBytes []byte, native config.NativeConfig, cfg config.WASMConfig, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", "wasm")
	if native.MaxSlots <= 0 {
		return nil, fmt.Errorf("%w: max_slots must be positive, got %d", domain.ErrInvalidInput, native.MaxSlots)
	}
	sandbox, err := NewSandbox(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := NewRuntime(ctx, cfg.MemoryLimitPages, sandbox, logger)
	if err != nil {
		return nil, err
	}

	m, err := load(ctx, rt, wasmBytes, sandbox, native, cfg, logger)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return m, nil
}

func load(ctx context.Context, rt *Runtime, wasmBytes []byte, sandbox *Sandbox, native config.NativeConfig, cfg config.WASMConfig, logger *slog.Logger) (*Module, error) {
	compiled, err := rt.Inner().CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: compile: %v", domain.ErrInvalidInput, err)
	}

	env := &hostEnv{sandbox: sandbox, logger: logger}
	hostCompiled, err := registerHostFunctions(ctx, rt.Inner(), env)
	if err != nil {
		return nil, err
	}
	if _, err := rt.Inner().InstantiateModule(ctx, hostCompiled, wazero.NewModuleConfig().WithName(HostModule)); err != nil {
		return nil, fmt.Errorf("%w: instantiate host module: %v", domain.ErrInvalidInput, err)
	}

	mod, err := rt.Inner().InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("sqlite3").
		WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate: %v", domain.ErrInvalidInput, err)
	}
	if mod.Memory() == nil {
		return nil, fmt.Errorf("%w: module exports no memory", domain.ErrInvalidInput)
	}

	m := &Module{
		runtime: rt,
		mod:     mod,
		sandbox: sandbox,
		names:   cfg.Exports,
		bigInt:  native.BigInt,
		logger:  logger,
		defs:    compiled.ExportedFunctions(),
		fns:     make(map[string]api.Function),
	}
	for _, name := range []string{m.names.Malloc, m.names.Free} {
		if _, ok := m.defs[name]; !ok {
			return nil, fmt.Errorf("%w: allocator export %q", domain.ErrExportNotFound, name)
		}
	}
	if v, ok := globalValue(mod, m.names.DeallocGlobal); ok {
		m.dealloc = v
	}
	m.table = newTable(mod, m.names.StubPrefix, native.MaxSlots)
	env.table = m.table

	logger.Debug("native module ready",
		"exports", len(m.defs),
		"slots_vpip", m.table.Capacity(domain.SigVPIP),
		"slots_vp", m.table.Capacity(domain.SigVP),
		"slots_ipipp", m.table.Capacity(domain.SigIPIPP),
		"big_int", m.bigInt,
	)
	return m, nil
}

func (m *Module) Memory() domain.Memory       { return memory{mod: m.mod} }
func (m *Module) Allocator() domain.Allocator { return allocator{m: m} }
func (m *Module) Table() domain.FunctionTable { return m.table }
func (m *Module) BigIntEnabled() bool         { return m.bigInt }

// Slots returns the function table with its per-signature capacity.
func (m *Module) Slots() *Table { return m.table }

// HasExport reports whether the module exports a function called name.
func (m *Module) HasExport(name string) bool {
	_, ok := m.defs[name]
	return ok
}

// Exports lists the exported functions in sorted order.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.defs))
	for name := range m.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the export name. Surplus arguments are dropped; i32 parameters take the
// low 32 bits of their word. A void export yields 0.
func (m *Module) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	def, ok := m.defs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrExportNotFound, name)
	}
	params := def.ParamTypes()
	if len(args) < len(params) {
		return 0, fmt.Errorf("%w: %s takes %d arguments, got %d", domain.ErrInvalidInput, name, len(params), len(args))
	}
	words := make([]uint64, len(params))
	for i, t := range params {
		words[i] = args[i]
		if t == api.ValueTypeI32 || t == api.ValueTypeF32 {
			words[i] = uint64(uint32(args[i]))
		}
	}

	fn := m.function(name)
	if m.depth == 0 {
		if d := m.sandbox.CallTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}
	m.depth++
	results, err := fn.Call(ctx, words...)
	m.depth--
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// function returns a callable for name. Nested calls made from a host callback get a
// fresh api.Function since the outer one is still on the stack.
func (m *Module) function(name string) api.Function {
	if m.depth > 0 {
		return m.mod.ExportedFunction(name)
	}
	fn, ok := m.fns[name]
	if !ok {
		fn = m.mod.ExportedFunction(name)
		m.fns[name] = fn
	}
	return fn
}

// Close closes the guest and the runtime.
func (m *Module) Close() error {
	if n := m.table.Len(); n > 0 {
		m.logger.Warn("closing module with installed slots", "slots", n)
	}
	ctx := context.Background()
	if err := m.mod.Close(ctx); err != nil {
		m.logger.Warn("wasm module close failed", "error", err)
	}
	return m.runtime.Close(ctx)
}
