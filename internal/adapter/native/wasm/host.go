package wasm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

// HostModule is the namespace the stub functions import from.
const HostModule = "sqlite3_glue"

// hostEnv holds the dependencies injected into host functions. table is set once the
// guest is instantiated; stubs cannot run before that.
type hostEnv struct {
	sandbox *Sandbox
	logger  *slog.Logger
	table   *Table
}

var i32 = api.ValueTypeI32

// registerHostFunctions compiles the sqlite3_glue host module. log is registered only
// when the sandbox allows it.
func registerHostFunctions(ctx context.Context, rt wazero.Runtime, env *hostEnv) (wazero.CompiledModule, error) {
	builder := rt.NewHostModuleBuilder(HostModule)

	// invoke_vpip(slot, pCtx, argc, argv)
	builder.NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
			env.invoke(ctx, domain.SigVPIP, stack)
		}), []api.ValueType{i32, i32, i32, i32}, nil).
		Export("invoke_vpip")

	// invoke_vp(slot, p)
	builder.NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
			env.invoke(ctx, domain.SigVP, stack)
		}), []api.ValueType{i32, i32}, nil).
		Export("invoke_vp")

	// invoke_ipipp(slot, pArg, n, values, names) -> rc
	builder.NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
			env.invoke(ctx, domain.SigIPIPP, stack)
		}), []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		Export("invoke_ipipp")

	if env.sandbox.AllowCapability(CapLog) {
		// log(level, ptr, len)
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				level := api.DecodeI32(stack[0])
				buf, ok := mod.Memory().Read(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
				if !ok {
					env.logger.Error("wasm log: read out of bounds", "ptr", api.DecodeU32(stack[1]))
					return
				}
				msg := string(buf)
				switch {
				case level <= 0:
					env.logger.Debug(msg)
				case level == 1:
					env.logger.Info(msg)
				case level == 2:
					env.logger.Warn(msg)
				default:
					env.logger.Error(msg)
				}
			}), []api.ValueType{i32, i32, i32}, nil).
			Export("log")
	}

	compiled, err := builder.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile host module: %v", domain.ErrInvalidInput, err)
	}
	return compiled, nil
}

// invoke forwards a stub call to its host function. stack[0] is the slot; the rest are
// the native arguments. Results other than void land in stack[0].
func (e *hostEnv) invoke(ctx context.Context, sig domain.CallSignature, stack []uint64) {
	k := api.DecodeU32(stack[0])
	args := make([]uint64, len(stack)-1)
	for i, w := range stack[1:] {
		// pointers are unsigned; the int slot is re-encoded by the callee
		args[i] = uint64(uint32(w))
	}

	var (
		rc  uint64
		err error
	)
	if e.table == nil {
		err = fmt.Errorf("%w: stub called before the module was ready", domain.ErrProtocol)
	} else {
		rc, err = e.table.dispatch(ctx, sig, k, args)
	}
	if err != nil {
		e.logger.Error("stub dispatch failed", "sig", string(sig), "slot", k, "error", err)
		rc = api.EncodeI32(domain.StatusError)
	}
	if sig.Returns() {
		stack[0] = uint64(uint32(rc))
	}
}
