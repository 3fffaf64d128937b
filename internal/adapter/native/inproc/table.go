package inproc

import (
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"modernc.org/libc"

	"sqlite-glue/internal/adapter/native/slots"
	"sqlite-glue/internal/domain"
)

// closure is one installed trampoline. fn holds the Go func value whose address was
// handed out, which keeps it alive while SQLite references it.
type closure struct {
	sig  domain.CallSignature
	addr uint64
	fn   any
}

type tableKey struct {
	sig domain.CallSignature
	idx int
}

// Table publishes host functions as function pointers of the C types SQLite calls.
// Each signature has its own fixed-capacity arena.
type Table struct {
	m *Module

	mu     sync.Mutex
	arenas map[domain.CallSignature]*slots.Arena[*closure]
	byAddr map[uint64]tableKey
}

func newTable(m *Module, capacity int) *Table {
	t := &Table{
		m:      m,
		arenas: make(map[domain.CallSignature]*slots.Arena[*closure]),
		byAddr: make(map[uint64]tableKey),
	}
	for _, sig := range domain.KnownSignatures {
		t.arenas[sig] = slots.New[*closure](capacity)
	}
	return t
}

// Install wraps fn in a Go function of the C type for sig.
func (t *Table) Install(sig domain.CallSignature, fn domain.HostFunc) (uint64, error) {
	arena, ok := t.arenas[sig]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported signature %q", domain.ErrInvalidInput, sig)
	}
	c := &closure{sig: sig, fn: t.wrap(sig, fn)}
	idx, err := arena.Acquire(c)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", sig, err)
	}

	switch f := c.fn.(type) {
	case func(*libc.TLS, uintptr, int32, uintptr):
		c.addr = uint64(funcPointer(f))
	case func(*libc.TLS, uintptr):
		c.addr = uint64(funcPointer(f))
	case func(*libc.TLS, uintptr, int32, uintptr, uintptr) int32:
		c.addr = uint64(funcPointer(f))
	}

	t.mu.Lock()
	t.byAddr[c.addr] = tableKey{sig: sig, idx: idx}
	t.mu.Unlock()
	return c.addr, nil
}

func (t *Table) wrap(sig domain.CallSignature, fn domain.HostFunc) any {
	switch sig {
	case domain.SigVPIP:
		return func(_ *libc.TLS, pCtx uintptr, argc int32, argv uintptr) {
			fn(t.m.callContext(), []uint64{uint64(pCtx), api.EncodeI32(argc), uint64(argv)})
		}
	case domain.SigVP:
		return func(_ *libc.TLS, p uintptr) {
			fn(t.m.callContext(), []uint64{uint64(p)})
		}
	case domain.SigIPIPP:
		return func(_ *libc.TLS, pArg uintptr, n int32, values, names uintptr) int32 {
			rc := fn(t.m.callContext(), []uint64{uint64(pArg), api.EncodeI32(n), uint64(values), uint64(names)})
			return api.DecodeI32(rc)
		}
	}
	return nil
}

// Uninstall releases the closure behind addr.
func (t *Table) Uninstall(addr uint64) error {
	t.mu.Lock()
	key, ok := t.byAddr[addr]
	if ok {
		delete(t.byAddr, addr)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no slot at %#x", domain.ErrInvalidInput, addr)
	}
	t.arenas[key.sig].Release(key.idx)
	return nil
}

// Len reports the number of installed closures across all signatures.
func (t *Table) Len() int {
	n := 0
	for _, a := range t.arenas {
		n += a.Len()
	}
	return n
}

// Capacity reports the slot capacity of sig.
func (t *Table) Capacity(sig domain.CallSignature) int {
	if a, ok := t.arenas[sig]; ok {
		return a.Cap()
	}
	return 0
}
