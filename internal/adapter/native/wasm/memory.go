package wasm

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

// memory is the guest's linear memory. Pointers are 32 bits wide.
type memory struct {
	mod api.Module
}

func (memory) PointerSize() uint32 { return 4 }

func (m memory) offset(addr uint64, n uint64) (uint32, error) {
	if addr == 0 || addr > math.MaxUint32 || addr+n > uint64(m.mod.Memory().Size()) {
		return 0, fmt.Errorf("%w: addr=%#x len=%d", domain.ErrMemoryAccess, addr, n)
	}
	return uint32(addr), nil
}

func (m memory) Peek(addr uint64, w domain.Width) (uint64, error) {
	if addr == 0 || addr > math.MaxUint32 {
		return 0, fmt.Errorf("%w: peek %s at %#x", domain.ErrMemoryAccess, w, addr)
	}
	mem := m.mod.Memory()
	var (
		v  uint64
		ok bool
	)
	switch w {
	case domain.WidthI8:
		var b byte
		b, ok = mem.ReadByte(uint32(addr))
		v = uint64(b)
	case domain.WidthI16:
		var h uint16
		h, ok = mem.ReadUint16Le(uint32(addr))
		v = uint64(h)
	case domain.WidthI32, domain.WidthF32, domain.WidthPtr:
		var u uint32
		u, ok = mem.ReadUint32Le(uint32(addr))
		v = uint64(u)
	case domain.WidthI64, domain.WidthF64:
		v, ok = mem.ReadUint64Le(uint32(addr))
	default:
		return 0, fmt.Errorf("%w: width %s", domain.ErrInvalidInput, w)
	}
	if !ok {
		return 0, fmt.Errorf("%w: peek %s at %#x", domain.ErrMemoryAccess, w, addr)
	}
	return v, nil
}

func (m memory) Poke(addr uint64, w domain.Width, v uint64) error {
	if addr == 0 || addr > math.MaxUint32 {
		return fmt.Errorf("%w: poke %s at %#x", domain.ErrMemoryAccess, w, addr)
	}
	mem := m.mod.Memory()
	var ok bool
	switch w {
	case domain.WidthI8:
		ok = mem.WriteByte(uint32(addr), byte(v))
	case domain.WidthI16:
		ok = mem.WriteUint16Le(uint32(addr), uint16(v))
	case domain.WidthI32, domain.WidthF32, domain.WidthPtr:
		ok = mem.WriteUint32Le(uint32(addr), uint32(v))
	case domain.WidthI64, domain.WidthF64:
		ok = mem.WriteUint64Le(uint32(addr), v)
	default:
		return fmt.Errorf("%w: width %s", domain.ErrInvalidInput, w)
	}
	if !ok {
		return fmt.Errorf("%w: poke %s at %#x", domain.ErrMemoryAccess, w, addr)
	}
	return nil
}

func (m memory) Read(addr uint64, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	off, err := m.offset(addr, uint64(n))
	if err != nil {
		return nil, err
	}
	buf, _ := m.mod.Memory().Read(off, n)
	// Return a copy so the caller owns the slice.
	return append([]byte(nil), buf...), nil
}

func (m memory) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	off, err := m.offset(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	m.mod.Memory().Write(off, data)
	return nil
}

func (m memory) CString(addr uint64) (string, error) {
	off, err := m.offset(addr, 0)
	if err != nil {
		return "", err
	}
	rest, _ := m.mod.Memory().Read(off, m.mod.Memory().Size()-off)
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at %#x", domain.ErrMemoryAccess, addr)
	}
	return string(rest[:end]), nil
}

// allocator calls the module's malloc and free exports.
type allocator struct {
	m *Module
}

func (a allocator) Alloc(ctx context.Context, n uint32) (uint64, error) {
	raw, err := a.m.Call(ctx, a.m.names.Malloc, uint64(n))
	if err != nil {
		return 0, fmt.Errorf("%w: %s(%d): %v", domain.ErrAllocation, a.m.names.Malloc, n, err)
	}
	p := uint64(uint32(raw))
	if p == 0 {
		return 0, fmt.Errorf("%w: %s(%d) returned NULL", domain.ErrAllocation, a.m.names.Malloc, n)
	}
	return p, nil
}

func (a allocator) Free(ctx context.Context, addr uint64) {
	if addr == 0 {
		return
	}
	if _, err := a.m.Call(ctx, a.m.names.Free, addr); err != nil {
		a.m.logger.Warn("free failed", "addr", addr, "error", err)
	}
}

// DeallocPointer reads the table index of free from the dealloc global.
func (a allocator) DeallocPointer() uint64 {
	return a.m.dealloc
}
