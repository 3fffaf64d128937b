package glue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

// ScalarFunc is the host side of xFunc. Its result goes through the result-setting rule.
type ScalarFunc func(c *Context, args []any) (any, error)

// StepFunc is the host side of xStep and xInverse.
type StepFunc func(c *Context, args []any) error

// FinalFunc is the host side of xFinal and xValue.
type FinalFunc func(c *Context) (any, error)

// DestroyFunc receives the user-data pointer when the native side drops a registration.
type DestroyFunc func(userData uint64) error

// Context is the sqlite3_context of one UDF invocation.
type Context struct {
	ctx    context.Context
	g      *Glue
	Handle uint64
}

// Context returns the context of the native call that invoked the function.
func (c *Context) Context() context.Context { return c.ctx }

// Glue returns the glue instance the function was registered through.
func (c *Context) Glue() *Glue { return c.g }

// UserData returns the pApp pointer given at registration.
func (c *Context) UserData() (uint64, error) {
	raw, err := c.g.native.Call(c.ctx, "sqlite3_user_data", c.Handle)
	return c.g.ptr(raw), err
}

// DB returns the database handle the function runs on.
func (c *Context) DB() (uint64, error) {
	raw, err := c.g.native.Call(c.ctx, "sqlite3_context_db_handle", c.Handle)
	return c.g.ptr(raw), err
}

// AggregateContext returns the zero-initialized per-group buffer of n bytes. The same
// address is returned for every call within one aggregate group.
func (c *Context) AggregateContext(n int32) (uint64, error) {
	raw, err := c.g.native.Call(c.ctx, "sqlite3_aggregate_context", c.Handle, api.EncodeI32(n))
	if err != nil {
		return 0, err
	}
	addr := c.g.ptr(raw)
	if addr == 0 && n > 0 {
		return 0, fmt.Errorf("%w: aggregate context of %d bytes", domain.ErrAllocation, n)
	}
	return addr, nil
}

// ptr narrows a raw word to the native pointer width.
func (g *Glue) ptr(raw uint64) uint64 {
	if g.native.Memory().PointerSize() == 4 {
		return uint64(uint32(raw))
	}
	return raw
}

// DecodeArgs converts argc sqlite3_value handles read from argv. Entries are packed at
// pointer-width stride.
func (g *Glue) DecodeArgs(ctx context.Context, argc int, argv uint64) ([]any, error) {
	if argc <= 0 {
		return []any{}, nil
	}
	mem := g.native.Memory()
	stride := uint64(mem.PointerSize())
	out := make([]any, argc)
	for i := 0; i < argc; i++ {
		pVal, err := mem.Peek(argv+uint64(i)*stride, domain.WidthPtr)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		v, err := g.decodeValue(ctx, pVal)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (g *Glue) decodeValue(ctx context.Context, pVal uint64) (any, error) {
	raw, err := g.native.Call(ctx, "sqlite3_value_type", pVal)
	if err != nil {
		return nil, err
	}
	switch kind := int(api.DecodeI32(raw)); kind {
	case domain.KindInteger:
		if g.native.BigIntEnabled() {
			raw, err := g.native.Call(ctx, "sqlite3_value_int64", pVal)
			return int64(raw), err
		}
		raw, err := g.native.Call(ctx, "sqlite3_value_double", pVal)
		return api.DecodeF64(raw), err
	case domain.KindFloat:
		raw, err := g.native.Call(ctx, "sqlite3_value_double", pVal)
		return api.DecodeF64(raw), err
	case domain.KindText:
		b, err := g.valueBytes(ctx, "sqlite3_value_text", pVal)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case domain.KindBlob:
		return g.valueBytes(ctx, "sqlite3_value_blob", pVal)
	case domain.KindNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: sqlite3_value_type returned %d", domain.ErrProtocol, kind)
	}
}

// valueBytes copies the buffer of a text or blob value into host memory.
func (g *Glue) valueBytes(ctx context.Context, accessor string, pVal uint64) ([]byte, error) {
	rawPtr, err := g.native.Call(ctx, accessor, pVal)
	if err != nil {
		return nil, err
	}
	rawLen, err := g.native.Call(ctx, "sqlite3_value_bytes", pVal)
	if err != nil {
		return nil, err
	}
	p, n := g.ptr(rawPtr), api.DecodeI32(rawLen)
	if n <= 0 {
		return []byte{}, nil
	}
	if p == 0 {
		return nil, fmt.Errorf("%w: %s returned NULL for %d bytes", domain.ErrAllocation, accessor, n)
	}
	return g.native.Memory().Read(p, uint32(n))
}

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1<<53 - 1

// SetResult applies the result-setting rule for v to the function context.
func (g *Glue) SetResult(ctx context.Context, pCtx uint64, v any) error {
	switch x := v.(type) {
	case nil:
		return g.rawVoid(ctx, "sqlite3_result_null", pCtx)
	case bool:
		if x {
			return g.rawVoid(ctx, "sqlite3_result_int", pCtx, api.EncodeI32(1))
		}
		return g.rawVoid(ctx, "sqlite3_result_int", pCtx, api.EncodeI32(0))
	case *big.Int:
		return g.resultBigInt(ctx, pCtx, x)
	case int:
		return g.resultInt64(ctx, pCtx, int64(x))
	case int8:
		return g.resultInt64(ctx, pCtx, int64(x))
	case int16:
		return g.resultInt64(ctx, pCtx, int64(x))
	case int32:
		return g.resultInt64(ctx, pCtx, int64(x))
	case int64:
		return g.resultInt64(ctx, pCtx, x)
	case uint:
		return g.resultBigInt(ctx, pCtx, new(big.Int).SetUint64(uint64(x)))
	case uint8:
		return g.resultInt64(ctx, pCtx, int64(x))
	case uint16:
		return g.resultInt64(ctx, pCtx, int64(x))
	case uint32:
		return g.resultInt64(ctx, pCtx, int64(x))
	case uint64:
		return g.resultBigInt(ctx, pCtx, new(big.Int).SetUint64(x))
	case float32:
		return g.resultFloat(ctx, pCtx, float64(x))
	case float64:
		return g.resultFloat(ctx, pCtx, x)
	case string:
		return g.resultText(ctx, pCtx, x)
	case []byte:
		return g.resultBlob(ctx, pCtx, x)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedResultType, typeName(v))
	}
}

func (g *Glue) resultInt64(ctx context.Context, pCtx uint64, n int64) error {
	switch {
	case n >= math.MinInt32 && n <= math.MaxInt32:
		return g.rawVoid(ctx, "sqlite3_result_int", pCtx, api.EncodeI32(int32(n)))
	case g.native.BigIntEnabled():
		return g.rawVoid(ctx, "sqlite3_result_int64", pCtx, uint64(n))
	default:
		return g.rawVoid(ctx, "sqlite3_result_double", pCtx, api.EncodeF64(float64(n)))
	}
}

func (g *Glue) resultBigInt(ctx context.Context, pCtx uint64, b *big.Int) error {
	if b == nil {
		return g.rawVoid(ctx, "sqlite3_result_null", pCtx)
	}
	if b.IsInt64() {
		n := b.Int64()
		if g.native.BigIntEnabled() {
			return g.rawVoid(ctx, "sqlite3_result_int64", pCtx, uint64(n))
		}
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return g.rawVoid(ctx, "sqlite3_result_int", pCtx, api.EncodeI32(int32(n)))
		}
		if n >= -maxSafeInteger && n <= maxSafeInteger {
			return g.rawVoid(ctx, "sqlite3_result_double", pCtx, api.EncodeF64(float64(n)))
		}
	}
	return fmt.Errorf("%w: integer %s", domain.ErrValueTooLarge, b.String())
}

func (g *Glue) resultFloat(ctx context.Context, pCtx uint64, f float64) error {
	if i := int32(f); float64(i) == f && f >= math.MinInt32 && f <= math.MaxInt32 {
		return g.rawVoid(ctx, "sqlite3_result_int", pCtx, api.EncodeI32(i))
	}
	return g.rawVoid(ctx, "sqlite3_result_double", pCtx, api.EncodeF64(f))
}

func (g *Glue) resultText(ctx context.Context, pCtx uint64, s string) error {
	c := g.newCall(ctx)
	defer c.release()
	p, err := c.CString(s)
	if err != nil {
		return err
	}
	return g.rawVoid(ctx, "sqlite3_result_text", pCtx, p, api.EncodeI32(int32(len(s))), c.pointer(-1))
}

func (g *Glue) resultBlob(ctx context.Context, pCtx uint64, b []byte) error {
	if len(b) == 0 {
		return g.rawVoid(ctx, "sqlite3_result_zeroblob", pCtx, api.EncodeI32(0))
	}
	if len(b) > math.MaxInt32 {
		return fmt.Errorf("%w: blob of %d bytes", domain.ErrValueTooLarge, len(b))
	}
	alloc := g.native.Allocator()
	p, err := alloc.Alloc(ctx, uint32(len(b)))
	if err != nil || p == 0 {
		return fmt.Errorf("%w: blob of %d bytes", domain.ErrAllocation, len(b))
	}
	if err := g.native.Memory().Write(p, b); err != nil {
		alloc.Free(ctx, p)
		return err
	}
	n := api.EncodeI32(int32(len(b)))
	if dealloc := alloc.DeallocPointer(); dealloc != 0 {
		// native side owns p from here on
		return g.rawVoid(ctx, "sqlite3_result_blob", pCtx, p, n, dealloc)
	}
	defer alloc.Free(ctx, p)
	return g.rawVoid(ctx, "sqlite3_result_blob", pCtx, p, n, g.ptr(math.MaxUint64))
}

// ResultError reports err as the function's error result. Allocation failures map to
// sqlite3_result_error_nomem and oversized values to sqlite3_result_error_toobig.
func (g *Glue) ResultError(ctx context.Context, pCtx uint64, err error) {
	var callErr error
	switch {
	case errors.Is(err, domain.ErrAllocation):
		callErr = g.rawVoid(ctx, "sqlite3_result_error_nomem", pCtx)
	case errors.Is(err, domain.ErrValueTooLarge):
		callErr = g.rawVoid(ctx, "sqlite3_result_error_toobig", pCtx)
	default:
		c := g.newCall(ctx)
		msg := err.Error()
		p, allocErr := c.CString(msg)
		if allocErr != nil {
			callErr = g.rawVoid(ctx, "sqlite3_result_error_nomem", pCtx)
		} else {
			callErr = g.rawVoid(ctx, "sqlite3_result_error", pCtx, p, api.EncodeI32(int32(len(msg))))
		}
		c.release()
	}
	if callErr != nil {
		g.logger.Error("failed to report function error", "error", err, "report_error", callErr)
	}
}

func (g *Glue) rawVoid(ctx context.Context, name string, args ...uint64) error {
	_, err := g.native.Call(ctx, name, args...)
	return err
}

// scalarTrampoline adapts fn to the xFunc/xStep/xInverse protocol. Steps pass
// setsResult false and their return value is discarded.
func (g *Glue) scalarTrampoline(label string, fn ScalarFunc, setsResult bool) domain.HostFunc {
	return func(ctx context.Context, raw []uint64) uint64 {
		uc := &Context{ctx: ctx, g: g, Handle: g.ptr(raw[0])}
		defer g.recoverInto(uc, label)

		args, err := g.DecodeArgs(ctx, int(api.DecodeI32(raw[1])), g.ptr(raw[2]))
		if err != nil {
			g.ResultError(ctx, uc.Handle, err)
			return 0
		}
		out, err := fn(uc, args)
		if err != nil {
			g.ResultError(ctx, uc.Handle, err)
			return 0
		}
		if !setsResult {
			return 0
		}
		if err := g.SetResult(ctx, uc.Handle, out); err != nil {
			g.ResultError(ctx, uc.Handle, err)
		}
		return 0
	}
}

func (g *Glue) finalTrampoline(label string, fn FinalFunc) domain.HostFunc {
	return func(ctx context.Context, raw []uint64) uint64 {
		uc := &Context{ctx: ctx, g: g, Handle: g.ptr(raw[0])}
		defer g.recoverInto(uc, label)

		out, err := fn(uc)
		if err != nil {
			g.ResultError(ctx, uc.Handle, err)
			return 0
		}
		if err := g.SetResult(ctx, uc.Handle, out); err != nil {
			g.ResultError(ctx, uc.Handle, err)
		}
		return 0
	}
}

func (g *Glue) destroyTrampoline(label string, fn DestroyFunc, reg *registration) domain.HostFunc {
	return func(ctx context.Context, raw []uint64) uint64 {
		if reg != nil {
			defer reg.release()
		}
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("destroy callback panicked", "func", label, "panic", r)
			}
		}()
		if fn == nil {
			return 0
		}
		if err := fn(g.ptr(raw[0])); err != nil {
			g.logger.Warn("destroy callback failed", "func", label, "error", err)
		}
		return 0
	}
}

func (g *Glue) recoverInto(uc *Context, label string) {
	if r := recover(); r != nil {
		g.logger.Warn("function callback panicked", "func", label, "panic", r)
		g.ResultError(uc.ctx, uc.Handle, fmt.Errorf("%s: panic: %v", label, r))
	}
}
