package glue

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/infra/tracer"
)

// ExecCallback is the host side of the sqlite3_exec row callback. values holds one
// string or nil per column. A non-zero result stops the batch.
type ExecCallback func(userData uint64, nCols int, values []any, names []string) (int, error)

type shimImpl func(ctx context.Context, args []any) int

// shim wraps a hand-written entry point with the argument-count guard and a span.
// Shims never return a Go error: failures are reported through the db error channel
// and surface as a status code.
func (g *Glue) shim(name string, arity int, impl shimImpl) Proxy {
	return func(ctx context.Context, args ...any) (any, error) {
		ctx, span := tracer.StartSpan(ctx, "glue."+name)
		defer span.End()

		var db any
		if len(args) > 0 {
			db = args[0]
		}
		g.clearDBError(db)
		if h := g.handleOf(db); h != 0 {
			span.SetAttributes(tracer.AddrAttr("db", h))
		}

		if len(args) != arity {
			err := domain.NewDomainError(name, domain.ErrMisuse,
				fmt.Sprintf("requires %d arguments, got %d", arity, len(args)))
			tracer.RecordError(span, err)
			return g.DBError(ctx, db, domain.StatusMisuse, err.Error()), nil
		}

		rc := impl(ctx, args)
		span.SetAttributes(tracer.IntAttr("rc", rc))
		if rc == domain.StatusOK {
			tracer.SetOK(span)
		} else {
			tracer.RecordError(span, fmt.Errorf("%s: %s", name, domain.StatusName(rc)))
		}
		return rc, nil
	}
}

// installShims replaces declarative proxies whose call shape needs host logic.
func (g *Glue) installShims() error {
	if _, ok := g.declared["sqlite3_exec"]; ok {
		g.setShim("sqlite3_exec", 5, g.exec)
	}
	if _, ok := g.declared["sqlite3_prepare_v3"]; ok {
		text, err := g.Build("sqlite3_prepare_v3", TagInt,
			[]string{"sqlite3*", TagString, TagInt, TagInt, "**", "**"})
		if err != nil {
			return err
		}
		g.prepareText = text
		g.setShim("sqlite3_prepare_v3", 6, g.prepareV3)
		g.setShim("sqlite3_prepare_v2", 5, g.prepareV2)
	}
	if _, ok := g.declared["sqlite3_create_function_v2"]; ok {
		g.setShim("sqlite3_create_function_v2", 9, g.createFunctionV2)
		g.setShim("sqlite3_create_function", 8, g.createFunction)
	}
	if _, ok := g.declared["sqlite3_create_window_function"]; ok {
		g.setShim("sqlite3_create_window_function", 10, g.createWindowFunction)
	}
	return nil
}

func (g *Glue) setShim(name string, arity int, impl shimImpl) {
	g.api[name] = g.shim(name, arity, impl)
	g.bindings[name] = BindingShim
}

// callDeclared invokes the table proxy for name and converts its result to a status.
func (g *Glue) callDeclared(ctx context.Context, p Proxy, name string, args ...any) int {
	v, err := p(ctx, args...)
	if err != nil {
		return g.reportError(ctx, args[0], name, err)
	}
	rc, ok := v.(int)
	if !ok {
		return g.reportError(ctx, args[0], name,
			fmt.Errorf("%w: %s returned %T", domain.ErrProtocol, name, v))
	}
	return rc
}

func (g *Glue) exec(ctx context.Context, args []any) int {
	const name = "sqlite3_exec"
	declared := g.declared[name]

	cb, isHost, err := asExecCallback(args[2])
	if err != nil {
		return g.reportError(ctx, args[0], name, err)
	}
	if !isHost {
		return g.callDeclared(ctx, declared, name, args[0], args[1], dropNilFunc(args[2]), args[3], args[4])
	}

	slot, err := g.bridge.Install(domain.SigIPIPP, name, g.execTrampoline(cb))
	if err != nil {
		return g.reportError(ctx, args[0], name, err)
	}
	defer func() {
		if err := g.bridge.Uninstall(slot); err != nil {
			g.logger.Error("exec callback slot leak", "slot_addr", slot.Addr, "error", err)
		}
	}()
	return g.callDeclared(ctx, declared, name, args[0], args[1], slot.Addr, args[3], args[4])
}

// execTrampoline adapts cb to the sqlite3_exec callback. Failures of cb cannot be
// reported to the caller: they are logged and abort the batch with SQLITE_ERROR.
func (g *Glue) execTrampoline(cb ExecCallback) domain.HostFunc {
	return func(ctx context.Context, raw []uint64) (rc uint64) {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Warn("exec callback panicked", "panic", r)
				rc = api.EncodeI32(domain.StatusError)
			}
		}()

		userData := g.ptr(raw[0])
		n := int(api.DecodeI32(raw[1]))
		values, names, err := g.execRow(n, g.ptr(raw[2]), g.ptr(raw[3]))
		if err != nil {
			g.logger.Warn("exec callback row decode failed", "error", err)
			return api.EncodeI32(domain.StatusError)
		}
		res, err := cb(userData, n, values, names)
		if err != nil {
			g.logger.Warn("exec callback failed", "error", err)
			return api.EncodeI32(domain.StatusError)
		}
		return api.EncodeI32(int32(res))
	}
}

func (g *Glue) execRow(n int, pValues, pNames uint64) ([]any, []string, error) {
	mem := g.native.Memory()
	stride := uint64(mem.PointerSize())
	values := make([]any, n)
	names := make([]string, n)
	for i := 0; i < n; i++ {
		off := uint64(i) * stride
		if pValues != 0 {
			pv, err := mem.Peek(pValues+off, domain.WidthPtr)
			if err != nil {
				return nil, nil, err
			}
			if pv != 0 {
				s, err := mem.CString(pv)
				if err != nil {
					return nil, nil, err
				}
				values[i] = s
			}
		}
		if pNames != 0 {
			pn, err := mem.Peek(pNames+off, domain.WidthPtr)
			if err != nil {
				return nil, nil, err
			}
			if pn != 0 {
				s, err := mem.CString(pn)
				if err != nil {
					return nil, nil, err
				}
				names[i] = s
			}
		}
	}
	return values, names, nil
}

func (g *Glue) prepareV2(ctx context.Context, args []any) int {
	return g.prepareV3(ctx, []any{args[0], args[1], args[2], 0, args[3], args[4]})
}

func (g *Glue) prepareV3(ctx context.Context, args []any) int {
	const name = "sqlite3_prepare_v3"
	db := args[0]
	src, err := NormalizeFlexString(args[1])
	if err != nil {
		return g.reportError(ctx, db, name, err)
	}
	switch {
	case src.IsText():
		// the tail pointer only makes sense for a source address the caller owns
		return g.callDeclared(ctx, g.prepareText, name, db, src.Text, src.Len, args[3], args[4], nil)
	case src.IsAddress():
		return g.callDeclared(ctx, g.declared[name], name, db, src.Addr, args[2], args[3], args[4], args[5])
	default:
		return g.reportError(ctx, db, name,
			fmt.Errorf("%w: SQL source is %s", domain.ErrInvalidArgumentType, typeName(args[1])))
	}
}

type callbackRole struct {
	index int
	role  string
	kind  CallKind
}

func (g *Glue) createFunction(ctx context.Context, args []any) int {
	v2 := append(append([]any(nil), args...), nil)
	return g.createFunctionV2(ctx, v2)
}

func (g *Glue) createFunctionV2(ctx context.Context, args []any) int {
	return g.register(ctx, "sqlite3_create_function_v2", args, []callbackRole{
		{index: 5, role: "xFunc", kind: CallScalar},
		{index: 6, role: "xStep", kind: CallStep},
		{index: 7, role: "xFinal", kind: CallFinal},
	}, 8)
}

func (g *Glue) createWindowFunction(ctx context.Context, args []any) int {
	return g.register(ctx, "sqlite3_create_window_function", args, []callbackRole{
		{index: 5, role: "xStep", kind: CallStep},
		{index: 6, role: "xFinal", kind: CallFinal},
		{index: 7, role: "xValue", kind: CallFinal},
		{index: 8, role: "xInverse", kind: CallStep},
	}, 9)
}

// register installs every host callback of one registration as a unit. On any failure
// all of them are uninstalled before the status is returned; on success they belong to
// the native side until it calls the destroy trampoline.
func (g *Glue) register(ctx context.Context, name string, args []any, roles []callbackRole, destroyIdx int) int {
	db := args[0]
	label := name
	if fn, ok := args[1].(string); ok {
		label = fn
	}
	reg := g.bridge.newRegistration(label)
	out := append([]any(nil), args...)
	for _, r := range roles {
		out[r.index] = dropNilFunc(out[r.index])
	}
	out[destroyIdx] = dropNilFunc(out[destroyIdx])

	fail := func(err error) int {
		reg.rollback()
		return g.reportError(ctx, db, name, err)
	}

	for _, r := range roles {
		fn, isHost, err := g.hostFunc(label+"."+r.role, r.kind, out[r.index])
		if err != nil {
			return fail(fmt.Errorf("%s: %w", r.role, err))
		}
		if !isHost {
			continue
		}
		s, err := reg.install(r.kind.Signature(), r.role, fn)
		if err != nil {
			return fail(err)
		}
		out[r.index] = s.Addr
	}

	destroy, destroyHost, err := asDestroyFunc(out[destroyIdx])
	if err != nil {
		return fail(fmt.Errorf("xDestroy: %w", err))
	}
	switch {
	case destroyHost || (len(reg.slots) > 0 && isNullPointer(out[destroyIdx])):
		s, err := reg.install(domain.SigVP, "xDestroy", g.destroyTrampoline(label, destroy, reg))
		if err != nil {
			return fail(err)
		}
		out[destroyIdx] = s.Addr
	case len(reg.slots) > 0:
		g.logger.Warn("native destructor given with host callbacks; slots stay installed until close",
			"func", label)
	}

	rc := g.callDeclared(ctx, g.declared[name], name, out...)
	if rc != domain.StatusOK {
		reg.rollback()
		return rc
	}
	reg.transfer()
	return rc
}

// hostFunc turns a callback argument into a trampoline. Nil and numeric values are
// native pointers and pass through unchanged.
func (g *Glue) hostFunc(label string, kind CallKind, v any) (domain.HostFunc, bool, error) {
	if isPointerValue(v) {
		return nil, false, nil
	}
	switch kind {
	case CallScalar:
		fn := asScalar(v)
		if fn == nil {
			break
		}
		return g.scalarTrampoline(label, fn, true), true, nil
	case CallStep:
		if fn := asScalar(v); fn != nil {
			return g.scalarTrampoline(label, fn, false), true, nil
		}
		var step StepFunc
		switch f := v.(type) {
		case StepFunc:
			step = f
		case func(*Context, []any) error:
			step = f
		}
		if step == nil {
			break
		}
		return g.scalarTrampoline(label, func(c *Context, args []any) (any, error) {
			return nil, step(c, args)
		}, false), true, nil
	case CallFinal:
		var final FinalFunc
		switch f := v.(type) {
		case FinalFunc:
			final = f
		case func(*Context) (any, error):
			final = f
		}
		if final == nil {
			break
		}
		return g.finalTrampoline(label, final), true, nil
	}
	if isNilFunc(v) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s cannot be a %s callback", domain.ErrInvalidArgumentType, typeName(v), kind)
}

func asScalar(v any) ScalarFunc {
	switch f := v.(type) {
	case ScalarFunc:
		return f
	case func(*Context, []any) (any, error):
		return f
	}
	return nil
}

func asDestroyFunc(v any) (DestroyFunc, bool, error) {
	if isPointerValue(v) {
		return nil, false, nil
	}
	switch f := v.(type) {
	case DestroyFunc:
		if f != nil {
			return f, true, nil
		}
	case func(uint64) error:
		if f != nil {
			return f, true, nil
		}
	case func(uint64):
		if f != nil {
			return func(p uint64) error { f(p); return nil }, true, nil
		}
	}
	if isNilFunc(v) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s cannot be a destroy callback", domain.ErrInvalidArgumentType, typeName(v))
}

func asExecCallback(v any) (ExecCallback, bool, error) {
	if isPointerValue(v) {
		return nil, false, nil
	}
	switch f := v.(type) {
	case ExecCallback:
		if f != nil {
			return f, true, nil
		}
	case func(uint64, int, []any, []string) (int, error):
		if f != nil {
			return f, true, nil
		}
	}
	if isNilFunc(v) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s cannot be an exec callback", domain.ErrInvalidArgumentType, typeName(v))
}

// isPointerValue reports whether v is nil or a number, which callback positions
// forward as a native function pointer.
func isPointerValue(v any) bool {
	if v == nil {
		return true
	}
	if _, isBool := v.(bool); isBool {
		return false
	}
	_, err := toInt64(v)
	return err == nil
}

func isNullPointer(v any) bool {
	if v == nil {
		return true
	}
	n, err := toInt64(v)
	return err == nil && n == 0
}

func dropNilFunc(v any) any {
	if isNilFunc(v) {
		return nil
	}
	return v
}

// isNilFunc reports whether v is a typed nil of one of the accepted callback types.
func isNilFunc(v any) bool {
	switch f := v.(type) {
	case ScalarFunc:
		return f == nil
	case func(*Context, []any) (any, error):
		return f == nil
	case StepFunc:
		return f == nil
	case func(*Context, []any) error:
		return f == nil
	case FinalFunc:
		return f == nil
	case func(*Context) (any, error):
		return f == nil
	case DestroyFunc:
		return f == nil
	case func(uint64) error:
		return f == nil
	case func(uint64):
		return f == nil
	case ExecCallback:
		return f == nil
	case func(uint64, int, []any, []string) (int, error):
		return f == nil
	}
	return false
}
