package glue

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

func argWord(t *testing.T, g *Glue, tag string, v any) uint64 {
	t.Helper()
	fn, err := g.ArgRegistry().Get(tag)
	require.NoError(t, err)
	c := g.newCall(context.Background())
	defer c.release()
	w, err := fn(c, v)
	require.NoError(t, err)
	return w
}

func TestArgIntegerTags(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))

	assert.Equal(t, api.EncodeI32(5), argWord(t, g, TagI32, int64(1<<32+5)))
	assert.Equal(t, api.EncodeI32(-1), argWord(t, g, TagInt, -1))
	assert.Equal(t, api.EncodeI32(-1), argWord(t, g, TagI8, 255))
	assert.Equal(t, api.EncodeI32(0x34), argWord(t, g, TagI16, 0x12340034))
	assert.Equal(t, api.EncodeI32(7), argWord(t, g, TagI32, 7.9))
	assert.Equal(t, uint64(math.MaxUint64), argWord(t, g, TagI64, int64(-1)))
	assert.Equal(t, uint64(1<<40), argWord(t, g, TagI64, big.NewInt(1<<40)))
	assert.Equal(t, api.EncodeI32(1), argWord(t, g, TagBool, true))
	assert.Equal(t, api.EncodeI32(1), argWord(t, g, TagBool, 42))
	assert.Equal(t, api.EncodeI32(0), argWord(t, g, TagBool, 0))
}

func TestArgFloatTags(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))

	assert.Equal(t, api.EncodeF64(1.5), argWord(t, g, TagF64, 1.5))
	assert.Equal(t, api.EncodeF64(3), argWord(t, g, "double", 3))
	assert.Equal(t, api.EncodeF32(2.5), argWord(t, g, TagF32, float32(2.5)))
}

func TestArgPointerWidth(t *testing.T) {
	tests := []struct {
		ptrSize uint32
		want    uint64
	}{
		{4, math.MaxUint32},
		{8, math.MaxUint64},
	}
	for _, tt := range tests {
		g := newTestGlue(t, newFakeNative(t, tt.ptrSize, true))
		assert.Equal(t, tt.want, argWord(t, g, TagPointer, -1), "ptrSize %d", tt.ptrSize)
		assert.Equal(t, uint64(0), argWord(t, g, "sqlite3*", nil))
		assert.Equal(t, uint64(0x40), argWord(t, g, "sqlite3_stmt*", 0x40))
	}
}

func TestArgRejectsNonNumeric(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))
	fn, err := g.ArgRegistry().Get(TagI32)
	require.NoError(t, err)
	c := g.newCall(context.Background())
	defer c.release()

	_, err = fn(c, "12")
	assert.ErrorIs(t, err, errNotNumeric)
	_, err = fn(c, math.NaN())
	assert.ErrorIs(t, err, errNotNumeric)
	_, err = fn(c, new(big.Int).Lsh(big.NewInt(1), 70))
	assert.ErrorIs(t, err, domain.ErrValueTooLarge)
}

func TestArgStringIsCallScoped(t *testing.T) {
	n := newFakeNative(t, 4, true)
	var seen string
	n.export("echo_len", func(_ context.Context, a []uint64) uint64 {
		s, err := n.CString(n.ptrWord(a[0]))
		require.NoError(t, err)
		seen = s
		return api.EncodeI32(int32(len(s)))
	})
	g := newTestGlue(t, n)
	p, err := g.Build("echo_len", TagInt, []string{TagString})
	require.NoError(t, err)

	before := n.liveAllocs()
	v, err := p(context.Background(), "héllo")
	require.NoError(t, err)
	assert.Equal(t, 6, v)
	assert.Equal(t, "héllo", seen)
	assert.Equal(t, before, n.liveAllocs(), "string argument must be freed when the call returns")

	v, err = p(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestArgStringNilIsNullPointer(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 8, true))
	assert.Equal(t, uint64(0), argWord(t, g, TagString, nil))
}

func TestCallScopeFreesOnConversionFailure(t *testing.T) {
	n := newFakeNative(t, 4, true)
	n.export("two_args", func(context.Context, []uint64) uint64 { return 0 })
	g := newTestGlue(t, n)
	p, err := g.Build("two_args", TagVoid, []string{TagString, TagI32})
	require.NoError(t, err)

	before := n.liveAllocs()
	_, err = p(context.Background(), "allocated first", "not a number")
	require.Error(t, err)

	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "two_args", ce.Func)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, TagI32, ce.Tag)
	assert.ErrorIs(t, err, domain.ErrConversion)
	assert.ErrorIs(t, err, errNotNumeric)
	assert.Equal(t, before, n.liveAllocs())
	assert.Zero(t, n.called("two_args"), "native export must not run after a conversion failure")
}

func TestAllocationFailure(t *testing.T) {
	n := newFakeNative(t, 4, true)
	g := newTestGlue(t, n)
	n.failAlloc = true

	fn, err := g.ArgRegistry().Get(TagString)
	require.NoError(t, err)
	c := g.newCall(context.Background())
	_, err = fn(c, "x")
	assert.ErrorIs(t, err, domain.ErrAllocation)
	assert.Zero(t, c.Pending())
}

func TestResultTags(t *testing.T) {
	n := newFakeNative(t, 4, true)
	hello := n.cstring("hello")
	n.export("ret_hello", func(context.Context, []uint64) uint64 { return hello })
	n.export("ret_null", func(context.Context, []uint64) uint64 { return 0 })
	n.export("ret_neg", func(context.Context, []uint64) uint64 { return api.EncodeI32(-7) })
	n.export("ret_f64", func(context.Context, []uint64) uint64 { return api.EncodeF64(0.25) })
	n.export("ret_i64", func(context.Context, []uint64) uint64 { return uint64(1 << 40) })
	g := newTestGlue(t, n)

	tests := []struct {
		export string
		tag    string
		want   any
	}{
		{"ret_hello", TagString, "hello"},
		{"ret_null", TagString, nil},
		{"ret_neg", TagInt, -7},
		{"ret_neg", TagI8, -7},
		{"ret_neg", TagBool, true},
		{"ret_null", TagBool, false},
		{"ret_f64", "number", 0.25},
		{"ret_i64", TagI64, int64(1 << 40)},
		{"ret_hello", "sqlite3*", hello},
		{"ret_null", TagVoid, nil},
	}
	for _, tt := range tests {
		p, err := g.Build(tt.export, tt.tag, nil)
		require.NoError(t, err)
		got, err := p(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s as %s", tt.export, tt.tag)
	}
}

func TestResultStringDeallocFrees(t *testing.T) {
	n := newFakeNative(t, 4, true)
	n.export("expanded", func(context.Context, []uint64) uint64 { return n.cstring("SELECT 1") })
	g := newTestGlue(t, n)
	p, err := g.Build("expanded", TagStringDealloc, nil)
	require.NoError(t, err)

	before := n.liveAllocs()
	v, err := p(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", v)
	assert.Equal(t, before, n.liveAllocs())
}

func TestBuildUnknownTag(t *testing.T) {
	g := newTestGlue(t, newFakeNative(t, 4, true))
	_, err := g.Build("sqlite3_step", TagInt, []string{"struct sqlite3_vtab*"})
	require.ErrorIs(t, err, domain.ErrUnknownTag)
	assert.Contains(t, err.Error(), "sqlite3_step")

	_, err = g.Build("sqlite3_step", "u128", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTag)
}

func TestProxyConvertsEachArgumentOnce(t *testing.T) {
	n := newFakeNative(t, 4, true)
	var got []uint64
	n.export("record", func(_ context.Context, a []uint64) uint64 {
		got = append([]uint64(nil), a...)
		return 0
	})
	conversions := 0
	counted := func(c *Call, v any) (uint64, error) {
		conversions++
		return argPointer(c, v)
	}
	g := newTestGlue(t, n, WithArgAdapter("counted", counted))
	p, err := g.Build("record", TagVoid, []string{"counted", "counted"})
	require.NoError(t, err)

	_, err = p(context.Background(), 10, 20, "surplus")
	require.NoError(t, err)
	assert.Equal(t, 2, conversions)
	assert.Equal(t, []uint64{10, 20}, got)

	// missing trailing arguments are converted from nil
	_, err = p(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 0}, got)
}

func TestWithAliasAndResultAdapter(t *testing.T) {
	n := newFakeNative(t, 4, true)
	n.export("ret7", func(context.Context, []uint64) uint64 { return api.EncodeI32(7) })
	g := newTestGlue(t, n,
		WithAlias(TagPointer, "sqlite3_str*"),
		WithResultAdapter("doubled", func(_ *Call, raw uint64) (any, error) {
			return 2 * int(api.DecodeI32(raw)), nil
		}),
	)
	assert.True(t, g.ArgRegistry().Has("sqlite3_str*"))
	assert.True(t, g.ResultRegistry().Has("sqlite3_str*"))

	p, err := g.Build("ret7", "doubled", nil)
	require.NoError(t, err)
	v, err := p(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14, v)
}

func TestWithAliasUnknown(t *testing.T) {
	_, err := New(newFakeNative(t, 4, true), nil, WithAlias("nope", "also-nope"))
	assert.ErrorIs(t, err, domain.ErrUnknownTag)
}
