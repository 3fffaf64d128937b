package wasm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"sqlite-glue/internal/domain"
)

// defaultMemoryLimitPages caps linear memory at 32 MiB.
const defaultMemoryLimitPages = 512

// Runtime wraps a wazero.Runtime configured for one sqlite module.
type Runtime struct {
	inner  wazero.Runtime
	pages  uint32
	logger *slog.Logger
}

// NewRuntime creates a runtime limited to pages of linear memory. WASI is instantiated
// when the sandbox grants it. The caller must call Close when done.
func NewRuntime(ctx context.Context, pages uint32, sandbox *Sandbox, logger *slog.Logger) (*Runtime, error) {
	if pages == 0 {
		pages = defaultMemoryLimitPages
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(pages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if sandbox.AllowCapability(CapWASI) {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("%w: instantiate wasi: %v", domain.ErrInvalidInput, err)
		}
	}

	logger.Debug("wasm runtime created",
		"memory_limit_pages", pages,
		"memory_limit_mb", pages*64/1024,
		"wasi", sandbox.AllowCapability(CapWASI),
	)

	return &Runtime{inner: rt, pages: pages, logger: logger}, nil
}

// Inner returns the underlying wazero.Runtime.
func (r *Runtime) Inner() wazero.Runtime {
	return r.inner
}

// Close releases all resources held by the runtime.
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.inner.Close(ctx); err != nil {
		return fmt.Errorf("close wasm runtime: %w", err)
	}
	r.logger.Debug("wasm runtime closed")
	return nil
}
