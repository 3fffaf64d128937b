package inproc

import (
	"context"
	"encoding/binary"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"

	"sqlite-glue/internal/domain"
)

// pointerSize is the width of uintptr on the host.
const pointerSize = uint32(unsafe.Sizeof(uintptr(0)))

// memory addresses the process heap directly. Only address zero can be rejected:
// any other address is trusted to come from SQLite or from Alloc.
type memory struct{}

func (memory) PointerSize() uint32 { return pointerSize }

func widthBytes(w domain.Width) (int, error) {
	switch w {
	case domain.WidthI8:
		return 1, nil
	case domain.WidthI16:
		return 2, nil
	case domain.WidthI32, domain.WidthF32:
		return 4, nil
	case domain.WidthI64, domain.WidthF64:
		return 8, nil
	case domain.WidthPtr:
		return int(pointerSize), nil
	}
	return 0, fmt.Errorf("%w: width %s", domain.ErrInvalidInput, w)
}

func view(addr uint64, n int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: NULL+%d", domain.ErrMemoryAccess, n)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n), nil
}

func (memory) Peek(addr uint64, w domain.Width) (uint64, error) {
	n, err := widthBytes(w)
	if err != nil {
		return 0, err
	}
	b, err := view(addr, n)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (memory) Poke(addr uint64, w domain.Width, v uint64) error {
	n, err := widthBytes(w)
	if err != nil {
		return err
	}
	b, err := view(addr, n)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(b, buf[:n])
	return nil
}

func (memory) Read(addr uint64, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	b, err := view(addr, int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (memory) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, err := view(addr, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (memory) CString(addr uint64) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("%w: NULL string", domain.ErrMemoryAccess)
	}
	return libc.GoString(uintptr(addr)), nil
}

// allocator is the SQLite heap: sqlite3_malloc64 and sqlite3_free.
type allocator struct {
	m *Module
}

func (a allocator) Alloc(_ context.Context, n uint32) (uint64, error) {
	p := sqlite3.Xsqlite3_malloc64(a.m.tls, uint64(n))
	if p == 0 {
		return 0, fmt.Errorf("%w: sqlite3_malloc64(%d)", domain.ErrAllocation, n)
	}
	return uint64(p), nil
}

func (a allocator) Free(_ context.Context, addr uint64) {
	if addr == 0 {
		return
	}
	sqlite3.Xsqlite3_free(a.m.tls, uintptr(addr))
}

// DeallocPointer is sqlite3_free as a destructor argument.
func (a allocator) DeallocPointer() uint64 {
	return uint64(funcPointer(sqlite3.Xsqlite3_free))
}

// funcPointer returns the C function pointer modernc-compiled code uses for f: the
// address of its func value. f must stay reachable while native code holds the pointer.
func funcPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&f))
}
