package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/adapter/native/slots"
	"sqlite-glue/internal/domain"
)

// pool is the run of stub functions the module reserves for one signature. Stub k sits
// at table index base+k and forwards to invoke_<sig>(k, ...).
type pool struct {
	base  uint32
	arena *slots.Arena[domain.HostFunc]
}

// Table hands out the module's stub functions as function pointers.
type Table struct {
	pools map[domain.CallSignature]*pool
}

// newTable reads the stub pool globals of mod. maxSlots caps every pool.
func newTable(mod api.Module, prefix string, maxSlots int) *Table {
	t := &Table{pools: make(map[domain.CallSignature]*pool)}
	for _, sig := range domain.KnownSignatures {
		base, okBase := globalValue(mod, prefix+string(sig))
		count, okCount := globalValue(mod, prefix+string(sig)+"_count")
		if !okBase || !okCount || base == 0 {
			count = 0
		}
		n := min(int(count), maxSlots)
		t.pools[sig] = &pool{base: uint32(base), arena: slots.New[domain.HostFunc](n)}
	}
	return t
}

func globalValue(mod api.Module, name string) (uint64, bool) {
	g := mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return uint64(uint32(g.Get())), true
}

func (t *Table) Install(sig domain.CallSignature, fn domain.HostFunc) (uint64, error) {
	p, ok := t.pools[sig]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported signature %q", domain.ErrInvalidInput, sig)
	}
	idx, err := p.arena.Acquire(fn)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", sig, err)
	}
	return uint64(p.base) + uint64(idx), nil
}

func (t *Table) Uninstall(addr uint64) error {
	for _, p := range t.pools {
		if addr < uint64(p.base) || addr >= uint64(p.base)+uint64(p.arena.Cap()) {
			continue
		}
		if _, ok := p.arena.Release(int(addr - uint64(p.base))); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: no slot at %#x", domain.ErrInvalidInput, addr)
}

func (t *Table) Len() int {
	n := 0
	for _, p := range t.pools {
		n += p.arena.Len()
	}
	return n
}

// Capacity reports the number of stubs usable for sig.
func (t *Table) Capacity(sig domain.CallSignature) int {
	if p, ok := t.pools[sig]; ok {
		return p.arena.Cap()
	}
	return 0
}

// dispatch runs the host function installed in slot k of sig.
func (t *Table) dispatch(ctx context.Context, sig domain.CallSignature, k uint32, args []uint64) (uint64, error) {
	p, ok := t.pools[sig]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported signature %q", domain.ErrProtocol, sig)
	}
	fn, ok := p.arena.Get(int(k))
	if !ok {
		return 0, fmt.Errorf("%w: %s stub %d has no host function", domain.ErrProtocol, sig, k)
	}
	return fn(ctx, args), nil
}
