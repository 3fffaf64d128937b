package glue

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/infra/logger"
)

// fakeNative is a scripted native module: a byte-slice heap, a function table and a
// handful of SQLite exports with just enough behavior to drive the glue.
type fakeNative struct {
	t       *testing.T
	ptrSize uint32
	bigInt  bool

	mu        sync.Mutex
	mem       []byte
	next      uint64
	live      map[uint64]uint32
	failAlloc bool
	dealloc   uint64

	slots      map[uint64]fakeSlot
	nextSlot   uint64
	slotBudget int // installs still allowed, -1 for unlimited

	exports map[string]domain.HostFunc
	calls   []string

	values    map[uint64]any
	results   map[uint64]fakeResult
	nextValue uint64

	// sqlite3_create_function_v2 and sqlite3_create_window_function
	createRC  int32
	functions map[string]fakeFunc

	// sqlite3_exec
	rows     [][]string
	colNames []string
	execSQL  []string
	cbCalls  int

	// sqlite3_prepare_v3
	prepared []string
	errcode  int32
	errmsg   string
	dbErrors map[uint64]string
}

// nullBlob is a blob value whose buffer accessor returns NULL for a non-empty length.
type nullBlob int32

type fakeSlot struct {
	sig domain.CallSignature
	fn  domain.HostFunc
}

type fakeResult struct {
	kind     string
	value    any
	dtor     uint64
	resultNo int
}

type fakeFunc struct {
	nArg     int32
	pApp     uint64
	xFunc    uint64
	xStep    uint64
	xFinal   uint64
	xValue   uint64
	xInverse uint64
	xDestroy uint64
}

const (
	fakeDB      = 0x40
	fakeStmt    = 0x80
	fakeHeapLo  = 0x1000
	fakeMemSize = 1 << 20
)

func newFakeNative(t *testing.T, ptrSize uint32, bigInt bool) *fakeNative {
	t.Helper()
	n := &fakeNative{
		t:          t,
		ptrSize:    ptrSize,
		bigInt:     bigInt,
		mem:        make([]byte, fakeMemSize),
		next:       fakeHeapLo,
		live:       make(map[uint64]uint32),
		slots:      make(map[uint64]fakeSlot),
		nextSlot:   1,
		slotBudget: -1,
		exports:    make(map[string]domain.HostFunc),
		values:     make(map[uint64]any),
		results:    make(map[uint64]fakeResult),
		nextValue:  0x200,
		functions:  make(map[string]fakeFunc),
		dbErrors:   make(map[uint64]string),
		errmsg:     "not an error",
	}
	n.installSQLite()
	return n
}

func newTestGlue(t *testing.T, n *fakeNative, opts ...Option) *Glue {
	t.Helper()
	g, err := New(n, logger.Discard(), opts...)
	require.NoError(t, err)
	return g
}

// domain.Native

func (n *fakeNative) Memory() domain.Memory       { return n }
func (n *fakeNative) Allocator() domain.Allocator { return n }
func (n *fakeNative) Table() domain.FunctionTable { return n }
func (n *fakeNative) BigIntEnabled() bool         { return n.bigInt }

func (n *fakeNative) HasExport(name string) bool {
	_, ok := n.exports[name]
	return ok
}

func (n *fakeNative) export(name string, fn domain.HostFunc) { n.exports[name] = fn }

func (n *fakeNative) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	fn, ok := n.exports[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrExportNotFound, name)
	}
	n.mu.Lock()
	n.calls = append(n.calls, name)
	n.mu.Unlock()
	return fn(ctx, args), nil
}

func (n *fakeNative) called(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.calls {
		if s == name {
			c++
		}
	}
	return c
}

// domain.Memory

func (n *fakeNative) PointerSize() uint32 { return n.ptrSize }

func (n *fakeNative) widthBytes(w domain.Width) int {
	switch w {
	case domain.WidthI8:
		return 1
	case domain.WidthI16:
		return 2
	case domain.WidthI32, domain.WidthF32:
		return 4
	case domain.WidthPtr:
		return int(n.ptrSize)
	default:
		return 8
	}
}

func (n *fakeNative) bounds(addr uint64, size int) error {
	if addr == 0 || addr+uint64(size) > uint64(len(n.mem)) {
		return fmt.Errorf("%w: %#x+%d", domain.ErrMemoryAccess, addr, size)
	}
	return nil
}

func (n *fakeNative) Peek(addr uint64, w domain.Width) (uint64, error) {
	size := n.widthBytes(w)
	if err := n.bounds(addr, size); err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], n.mem[addr:addr+uint64(size)])
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (n *fakeNative) Poke(addr uint64, w domain.Width, v uint64) error {
	size := n.widthBytes(w)
	if err := n.bounds(addr, size); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(n.mem[addr:], buf[:size])
	return nil
}

func (n *fakeNative) Read(addr uint64, size uint32) ([]byte, error) {
	if err := n.bounds(addr, int(size)); err != nil {
		return nil, err
	}
	return append([]byte(nil), n.mem[addr:addr+uint64(size)]...), nil
}

func (n *fakeNative) Write(addr uint64, data []byte) error {
	if err := n.bounds(addr, len(data)); err != nil {
		return err
	}
	copy(n.mem[addr:], data)
	return nil
}

func (n *fakeNative) CString(addr uint64) (string, error) {
	if err := n.bounds(addr, 1); err != nil {
		return "", err
	}
	end := addr
	for end < uint64(len(n.mem)) && n.mem[end] != 0 {
		end++
	}
	return string(n.mem[addr:end]), nil
}

// domain.Allocator

func (n *fakeNative) Alloc(_ context.Context, size uint32) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failAlloc {
		return 0, nil
	}
	addr := n.next
	n.next += (uint64(size) + 7) &^ 7
	if n.next > uint64(len(n.mem)) {
		return 0, fmt.Errorf("fake heap exhausted")
	}
	clear(n.mem[addr : addr+uint64(size)])
	n.live[addr] = size
	return addr, nil
}

func (n *fakeNative) Free(_ context.Context, addr uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == 0 {
		return
	}
	if _, ok := n.live[addr]; !ok {
		n.t.Errorf("free of unknown address %#x", addr)
		return
	}
	delete(n.live, addr)
}

func (n *fakeNative) DeallocPointer() uint64 { return n.dealloc }

func (n *fakeNative) liveAllocs() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.live)
}

// domain.FunctionTable

func (n *fakeNative) Install(sig domain.CallSignature, fn domain.HostFunc) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.slotBudget == 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrSlotExhausted, sig)
	}
	if n.slotBudget > 0 {
		n.slotBudget--
	}
	addr := n.nextSlot
	n.nextSlot++
	n.slots[addr] = fakeSlot{sig: sig, fn: fn}
	return addr, nil
}

func (n *fakeNative) Uninstall(addr uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.slots[addr]; !ok {
		return fmt.Errorf("slot %d is not installed", addr)
	}
	delete(n.slots, addr)
	return nil
}

func (n *fakeNative) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.slots)
}

// invoke calls the host function installed at addr the way native code would.
func (n *fakeNative) invoke(ctx context.Context, addr uint64, sig domain.CallSignature, args ...uint64) uint64 {
	n.mu.Lock()
	s, ok := n.slots[addr]
	n.mu.Unlock()
	require.True(n.t, ok, "no slot at %d", addr)
	require.Equal(n.t, sig, s.sig, "slot %d signature", addr)
	return s.fn(ctx, args)
}

// Test values and results.

func (n *fakeNative) ptrWord(p uint64) uint64 {
	if n.ptrSize == 4 {
		return uint64(uint32(p))
	}
	return p
}

// newValue registers v as an sqlite3_value and returns its handle.
func (n *fakeNative) newValue(v any) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.nextValue
	n.nextValue += 8
	n.values[h] = v
	return h
}

// argv packs value handles at pointer stride.
func (n *fakeNative) argv(vals ...any) uint64 {
	if len(vals) == 0 {
		return 0
	}
	p, err := n.Alloc(context.Background(), uint32(len(vals))*n.ptrSize)
	require.NoError(n.t, err)
	for i, v := range vals {
		require.NoError(n.t, n.Poke(p+uint64(i)*uint64(n.ptrSize), domain.WidthPtr, n.newValue(v)))
	}
	return p
}

func (n *fakeNative) cstring(s string) uint64 {
	p, err := n.Alloc(context.Background(), uint32(len(s)+1))
	require.NoError(n.t, err)
	require.NoError(n.t, n.Write(p, append([]byte(s), 0)))
	return p
}

func (n *fakeNative) result(pCtx uint64) (fakeResult, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.results[pCtx]
	return r, ok
}

func (n *fakeNative) setResult(pCtx uint64, kind string, v any, dtor uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.results[pCtx]
	n.results[pCtx] = fakeResult{kind: kind, value: v, dtor: dtor, resultNo: prev.resultNo + 1}
}

func (n *fakeNative) value(args []uint64) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.values[n.ptrWord(args[0])]
	require.True(n.t, ok, "unknown sqlite3_value %#x", args[0])
	return v
}

// installSQLite wires the exports the glue tests drive.
func (n *fakeNative) installSQLite() {
	i32 := func(v int32) uint64 { return api.EncodeI32(v) }

	n.export("sqlite3_value_type", func(_ context.Context, args []uint64) uint64 {
		switch n.value(args).(type) {
		case int64:
			return i32(domain.KindInteger)
		case float64:
			return i32(domain.KindFloat)
		case string:
			return i32(domain.KindText)
		case []byte, nullBlob:
			return i32(domain.KindBlob)
		case nil:
			return i32(domain.KindNull)
		}
		return i32(99)
	})
	n.export("sqlite3_value_int64", func(_ context.Context, args []uint64) uint64 {
		return uint64(n.value(args).(int64))
	})
	n.export("sqlite3_value_double", func(_ context.Context, args []uint64) uint64 {
		switch v := n.value(args).(type) {
		case int64:
			return api.EncodeF64(float64(v))
		case float64:
			return api.EncodeF64(v)
		}
		return api.EncodeF64(0)
	})
	valueBuf := func(args []uint64) uint64 {
		var b []byte
		switch v := n.value(args).(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		}
		if len(b) == 0 {
			return 0
		}
		p, err := n.Alloc(context.Background(), uint32(len(b)+1))
		require.NoError(n.t, err)
		require.NoError(n.t, n.Write(p, b))
		return p
	}
	n.export("sqlite3_value_text", func(_ context.Context, args []uint64) uint64 { return valueBuf(args) })
	n.export("sqlite3_value_blob", func(_ context.Context, args []uint64) uint64 { return valueBuf(args) })
	n.export("sqlite3_value_bytes", func(_ context.Context, args []uint64) uint64 {
		switch v := n.value(args).(type) {
		case string:
			return i32(int32(len(v)))
		case []byte:
			return i32(int32(len(v)))
		case nullBlob:
			return i32(int32(v))
		}
		return 0
	})

	ctxOf := func(args []uint64) uint64 { return n.ptrWord(args[0]) }
	n.export("sqlite3_result_null", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "null", nil, 0)
		return 0
	})
	n.export("sqlite3_result_int", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "int", int64(api.DecodeI32(a[1])), 0)
		return 0
	})
	n.export("sqlite3_result_int64", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "int64", int64(a[1]), 0)
		return 0
	})
	n.export("sqlite3_result_double", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "double", api.DecodeF64(a[1]), 0)
		return 0
	})
	n.export("sqlite3_result_text", func(_ context.Context, a []uint64) uint64 {
		size := api.DecodeI32(a[2])
		b, err := n.Read(n.ptrWord(a[1]), uint32(size))
		require.NoError(n.t, err)
		n.setResult(ctxOf(a), "text", string(b), n.ptrWord(a[3]))
		return 0
	})
	n.export("sqlite3_result_blob", func(_ context.Context, a []uint64) uint64 {
		size := api.DecodeI32(a[2])
		b, err := n.Read(n.ptrWord(a[1]), uint32(size))
		require.NoError(n.t, err)
		dtor := n.ptrWord(a[3])
		if dtor != 0 && dtor == n.dealloc {
			n.Free(context.Background(), n.ptrWord(a[1]))
		}
		n.setResult(ctxOf(a), "blob", b, dtor)
		return 0
	})
	n.export("sqlite3_result_zeroblob", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "blob", make([]byte, api.DecodeI32(a[1])), 0)
		return 0
	})
	n.export("sqlite3_result_error", func(_ context.Context, a []uint64) uint64 {
		b, err := n.Read(n.ptrWord(a[1]), uint32(api.DecodeI32(a[2])))
		require.NoError(n.t, err)
		n.setResult(ctxOf(a), "error", string(b), 0)
		return 0
	})
	n.export("sqlite3_result_error_nomem", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "nomem", nil, 0)
		return 0
	})
	n.export("sqlite3_result_error_toobig", func(_ context.Context, a []uint64) uint64 {
		n.setResult(ctxOf(a), "toobig", nil, 0)
		return 0
	})
	n.export("sqlite3_user_data", func(_ context.Context, a []uint64) uint64 { return 0xabc })
	n.export("sqlite3_context_db_handle", func(_ context.Context, a []uint64) uint64 { return fakeDB })
	n.export("sqlite3_aggregate_context", func(_ context.Context, a []uint64) uint64 {
		if api.DecodeI32(a[1]) <= 0 {
			return 0
		}
		// one buffer per context handle
		return n.ptrWord(a[0]) + 0x8000
	})

	n.export("sqlite3_create_function_v2", func(ctx context.Context, a []uint64) uint64 {
		name, err := n.CString(n.ptrWord(a[1]))
		require.NoError(n.t, err)
		f := fakeFunc{
			nArg: api.DecodeI32(a[2]), pApp: n.ptrWord(a[4]),
			xFunc: n.ptrWord(a[5]), xStep: n.ptrWord(a[6]), xFinal: n.ptrWord(a[7]), xDestroy: n.ptrWord(a[8]),
		}
		return n.register(ctx, name, f)
	})
	n.export("sqlite3_create_window_function", func(ctx context.Context, a []uint64) uint64 {
		name, err := n.CString(n.ptrWord(a[1]))
		require.NoError(n.t, err)
		f := fakeFunc{
			nArg: api.DecodeI32(a[2]), pApp: n.ptrWord(a[4]),
			xStep: n.ptrWord(a[5]), xFinal: n.ptrWord(a[6]), xValue: n.ptrWord(a[7]), xInverse: n.ptrWord(a[8]),
			xDestroy: n.ptrWord(a[9]),
		}
		return n.register(ctx, name, f)
	})

	n.export("sqlite3_exec", func(ctx context.Context, a []uint64) uint64 {
		sql, err := n.CString(n.ptrWord(a[1]))
		require.NoError(n.t, err)
		n.execSQL = append(n.execSQL, sql)
		cb := n.ptrWord(a[2])
		if cb == 0 {
			return 0
		}
		names := n.argvStrings(n.colNames)
		for _, row := range n.rows {
			vals := n.argvStrings(row)
			n.cbCalls++
			rc := n.invoke(ctx, cb, domain.SigIPIPP, a[3], i32(int32(len(row))), vals, names)
			if api.DecodeI32(rc) != 0 {
				return i32(domain.StatusAbort)
			}
		}
		return 0
	})

	n.export("sqlite3_prepare_v3", func(_ context.Context, a []uint64) uint64 {
		src := n.ptrWord(a[1])
		nByte := api.DecodeI32(a[2])
		var sql string
		if nByte < 0 {
			s, err := n.CString(src)
			require.NoError(n.t, err)
			sql = s
		} else {
			b, err := n.Read(src, uint32(nByte))
			require.NoError(n.t, err)
			sql = string(b)
		}
		end := len(sql)
		if i := strings.IndexByte(sql, ';'); i >= 0 {
			end = i + 1
		}
		n.prepared = append(n.prepared, strings.TrimSpace(sql[:end]))
		var stmt uint64
		if strings.TrimSpace(sql[:end]) != "" {
			stmt = fakeStmt
		}
		require.NoError(n.t, n.Poke(n.ptrWord(a[4]), domain.WidthPtr, stmt))
		if tail := n.ptrWord(a[5]); tail != 0 {
			require.NoError(n.t, n.Poke(tail, domain.WidthPtr, src+uint64(end)))
		}
		return 0
	})

	n.export("sqlite3_errmsg", func(_ context.Context, a []uint64) uint64 { return n.cstring(n.errmsg) })
	n.export("sqlite3_extended_errcode", func(_ context.Context, a []uint64) uint64 { return i32(n.errcode) })
	n.export("sqlite3_close_v2", func(_ context.Context, a []uint64) uint64 { return 0 })
	n.export("sqlite3_libversion_number", func(_ context.Context, a []uint64) uint64 { return i32(3046001) })
	n.export("sqlite3_malloc", func(ctx context.Context, a []uint64) uint64 {
		p, _ := n.Alloc(ctx, uint32(api.DecodeI32(a[0])))
		return p
	})
	n.export("sqlite3_free", func(ctx context.Context, a []uint64) uint64 {
		n.Free(ctx, n.ptrWord(a[0]))
		return 0
	})
	n.export("sqlite3_malloc64", func(ctx context.Context, a []uint64) uint64 {
		p, _ := n.Alloc(ctx, uint32(a[0]))
		return p
	})
}

// withDBErrorExport adds the native side channel export.
func (n *fakeNative) withDBErrorExport() *fakeNative {
	n.export(dbErrorExport, func(_ context.Context, a []uint64) uint64 {
		msg, err := n.CString(n.ptrWord(a[2]))
		require.NoError(n.t, err)
		n.dbErrors[n.ptrWord(a[0])] = msg
		return a[1]
	})
	return n
}

func (n *fakeNative) register(ctx context.Context, name string, f fakeFunc) uint64 {
	if n.createRC != 0 {
		// a failed registration still runs the destructor
		if f.xDestroy != 0 {
			n.invoke(ctx, f.xDestroy, domain.SigVP, f.pApp)
		}
		return api.EncodeI32(n.createRC)
	}
	if old, ok := n.functions[name]; ok && old.xDestroy != 0 {
		n.invoke(ctx, old.xDestroy, domain.SigVP, old.pApp)
	}
	n.functions[name] = f
	return 0
}

// drop simulates the database discarding a registration.
func (n *fakeNative) drop(ctx context.Context, name string) {
	f, ok := n.functions[name]
	require.True(n.t, ok, "function %s not registered", name)
	delete(n.functions, name)
	if f.xDestroy != 0 {
		n.invoke(ctx, f.xDestroy, domain.SigVP, f.pApp)
	}
}

// callScalar runs xFunc of name and returns the result recorded for the fresh context.
func (n *fakeNative) callScalar(ctx context.Context, name string, vals ...any) fakeResult {
	f, ok := n.functions[name]
	require.True(n.t, ok, "function %s not registered", name)
	pCtx := n.newValue("context")
	n.invoke(ctx, f.xFunc, domain.SigVPIP, pCtx, api.EncodeI32(int32(len(vals))), n.argv(vals...))
	r, _ := n.result(pCtx)
	return r
}

func (n *fakeNative) argvStrings(ss []string) uint64 {
	if ss == nil {
		return 0
	}
	p, err := n.Alloc(context.Background(), uint32(len(ss))*n.ptrSize)
	require.NoError(n.t, err)
	for i, s := range ss {
		var sp uint64
		if s != "\x00" {
			sp = n.cstring(s)
		}
		require.NoError(n.t, n.Poke(p+uint64(i)*uint64(n.ptrSize), domain.WidthPtr, sp))
	}
	return p
}

// transient is SQLITE_TRANSIENT at the fake's pointer width.
func (n *fakeNative) transient() uint64 {
	if n.ptrSize == 4 {
		return math.MaxUint32
	}
	return math.MaxUint64
}
