package glue

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlite-glue/internal/domain"
)

func TestNewRequiresNative(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewDefaultLogger(t *testing.T) {
	g, err := New(newFakeNative(t, 4, true), nil)
	require.NoError(t, err)
	assert.NotNil(t, g.logger)
}

func TestBindings(t *testing.T) {
	t.Run("bigint", func(t *testing.T) {
		g := newTestGlue(t, newFakeNative(t, 4, true))
		b := g.Bindings()
		assert.Equal(t, BindingShim, b["sqlite3_exec"])
		assert.Equal(t, BindingShim, b["sqlite3_prepare_v2"])
		assert.Equal(t, BindingProxy, b["sqlite3_errmsg"])
		assert.Equal(t, BindingProxy, b["sqlite3_malloc64"])
		assert.Equal(t, BindingMissing, b["sqlite3_step"])
		assert.Equal(t, BindingMissing, b["sqlite3__wasm_db_error"])

		b["sqlite3_exec"] = BindingMissing
		assert.Equal(t, BindingShim, g.Bindings()["sqlite3_exec"], "Bindings returns a copy")
	})
	t.Run("no bigint", func(t *testing.T) {
		g := newTestGlue(t, newFakeNative(t, 4, false))
		for _, s := range Signatures(GroupInt64) {
			assert.Equal(t, BindingStandIn, g.Bindings()[s.Name], s.Name)
		}
	})
}

func TestNames(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true).withDBErrorExport())
	names := g.Names()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "sqlite3_exec")
	assert.Contains(t, names, "sqlite3_create_function")
	assert.NotContains(t, names, "sqlite3_step", "missing exports are skipped")
	assert.NotContains(t, names, "sqlite3__wasm_db_error", "module entries are not host-facing")
}

func TestCallUnknownName(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))
	ctx := context.Background()

	_, err := g.Call(ctx, "sqlite3_no_such_function")
	require.ErrorIs(t, err, domain.ErrExportNotFound)
	_, err = g.Call(ctx, "sqlite3_step", 0)
	require.ErrorIs(t, err, domain.ErrExportNotFound)
}

func TestCallResolvesModuleNamespace(t *testing.T) {
	n := newFakeNative(t, 4, true).withDBErrorExport()
	g := newTestGlue(t, n)

	rc, err := g.CallInt(context.Background(), "sqlite3__wasm_db_error", fakeDB, domain.StatusFull, "disk full")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFull, rc)
	assert.Equal(t, "disk full", n.dbErrors[fakeDB])
}

func TestCallInt(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))
	ctx := context.Background()

	v, err := g.CallInt(ctx, "sqlite3_libversion_number")
	require.NoError(t, err)
	assert.Equal(t, 3046001, v)

	_, err = g.CallInt(ctx, "sqlite3_errmsg", fakeDB)
	require.ErrorIs(t, err, domain.ErrProtocol)
	assert.Contains(t, err.Error(), "returned string")
}

func TestCapabilityStandIn(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, false))

	_, err := g.Call(context.Background(), "sqlite3_bind_int64", fakeStmt, 1, int64(1)<<40)
	require.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.Contains(t, err.Error(), "sqlite3_bind_int64")
	assert.Equal(t, domain.StatusError, domain.StatusOf(err))
}

func TestCloseReclaimsRegistrations(t *testing.T) {
	n := newFakeNative(t, 4, true)
	g := newTestGlue(t, n)
	ctx := context.Background()

	require.NoError(t, g.CreateFunction(ctx, fakeDB, "f", 1, 0, identity))
	require.NoError(t, g.CreateAggregate(ctx, fakeDB, "agg", 1, 0,
		func(*Context, []any) error { return nil },
		func(*Context) (any, error) { return nil, nil }))
	assert.Equal(t, 5, n.Len())

	require.NoError(t, g.Close(ctx))
	assert.Zero(t, n.Len())
	assert.Zero(t, g.Bridge().Installed())
	require.NoError(t, g.Close(ctx))
}

func TestSignaturesReturnsCopy(t *testing.T) {
	a := Signatures(GroupDefault)
	require.NotEmpty(t, a)
	a[0].Args = append(a[0].Args, "mutated")
	a[0].Name = "mutated"

	b := Signatures(GroupDefault)
	assert.NotEqual(t, "mutated", b[0].Name)
	assert.NotContains(t, b[0].Args, "mutated")
	assert.Empty(t, Signatures(Group(99)))
}

func TestSignatureNamesAreUnique(t *testing.T) {
	seen := make(map[string]Group)
	for _, grp := range Groups {
		for _, s := range Signatures(grp) {
			prev, dup := seen[s.Name]
			assert.False(t, dup, "%s in %s and %s", s.Name, prev, grp)
			seen[s.Name] = grp
		}
	}
}
