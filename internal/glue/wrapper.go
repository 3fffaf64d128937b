package glue

import (
	"context"
	"fmt"
	"log/slog"

	"sqlite-glue/internal/domain"
)

// Proxy is a host-facing wrapper around one native export. Missing trailing arguments
// are passed to their adapters as nil and surplus arguments are ignored: arity is only
// enforced by the hand-written shims.
type Proxy func(ctx context.Context, args ...any) (any, error)

// ConversionError reports an argument its adapter rejected.
type ConversionError struct {
	Func  string
	Index int
	Tag   string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: argument %d (%s): %v", e.Func, e.Index, e.Tag, e.Err)
}

// Unwrap exposes both domain.ErrConversion and the adapter's own failure.
func (e *ConversionError) Unwrap() []error {
	return []error{domain.ErrConversion, e.Err}
}

// Binding describes how a signature entry ended up in its namespace.
type Binding string

const (
	BindingProxy   Binding = "proxy"
	BindingStandIn Binding = "stand-in"
	BindingShim    Binding = "shim"
	BindingMissing Binding = "missing"
)

// Build returns a proxy converting arguments through the argument registry and the
// native result through the result registry. Every tag must already be registered.
func (g *Glue) Build(name, resultTag string, argTags []string) (Proxy, error) {
	resultFn, err := g.results.Get(resultTag)
	if err != nil {
		return nil, domain.WrapOp(name, err)
	}
	tags := append([]string(nil), argTags...)
	argFns := make([]ArgAdapter, len(tags))
	for i, tag := range tags {
		fn, err := g.args.Get(tag)
		if err != nil {
			return nil, domain.WrapOp(name, err)
		}
		argFns[i] = fn
	}

	return func(ctx context.Context, args ...any) (any, error) {
		c := g.newCall(ctx)
		defer c.release()

		raw := make([]uint64, len(argFns))
		for i, fn := range argFns {
			var v any
			if i < len(args) {
				v = args[i]
			}
			w, err := fn(c, v)
			if err != nil {
				return nil, &ConversionError{Func: name, Index: i, Tag: tags[i], Err: err}
			}
			raw[i] = w
		}

		rv, err := g.native.Call(ctx, name, raw...)
		if err != nil {
			return nil, domain.WrapOp(name, err)
		}
		return resultFn(c, rv)
	}, nil
}

func capabilityStandIn(name string) Proxy {
	return func(context.Context, ...any) (any, error) {
		return nil, domain.NewDomainError(name, domain.ErrCapabilityMissing, "built without 64-bit integer support")
	}
}

// buildGroups binds every signature table entry into its namespace.
func (g *Glue) buildGroups() error {
	for _, grp := range Groups {
		ns := g.api
		if grp == GroupModule {
			ns = g.module
		}
		for _, s := range Signatures(grp) {
			if grp == GroupInt64 && !g.native.BigIntEnabled() {
				ns[s.Name] = capabilityStandIn(s.Name)
				g.bindings[s.Name] = BindingStandIn
				continue
			}
			if !g.native.HasExport(s.Name) {
				g.logger.Debug("native export not available, skipping", "func", s.Name, "group", grp.String())
				g.bindings[s.Name] = BindingMissing
				continue
			}
			p, err := g.Build(s.Name, s.Result, s.Args)
			if err != nil {
				return err
			}
			ns[s.Name] = p
			g.declared[s.Name] = p
			g.bindings[s.Name] = BindingProxy
		}
	}
	g.logger.Debug("signature table bound",
		slog.Int("api", len(g.api)),
		slog.Int("module", len(g.module)),
		slog.Bool("big_int", g.native.BigIntEnabled()),
	)
	return nil
}
