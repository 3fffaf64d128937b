package domain

import "context"

// Width names how many bytes a memory access covers and how they are interpreted.
type Width uint8

const (
	WidthI8 Width = iota + 1
	WidthI16
	WidthI32
	WidthI64
	WidthF32
	WidthF64
	// WidthPtr is the target's pointer width (4 on wasm32, 8 in-process on 64-bit hosts).
	WidthPtr
)

func (w Width) String() string {
	switch w {
	case WidthI8:
		return "i8"
	case WidthI16:
		return "i16"
	case WidthI32:
		return "i32"
	case WidthI64:
		return "i64"
	case WidthF32:
		return "f32"
	case WidthF64:
		return "f64"
	case WidthPtr:
		return "ptr"
	default:
		return "invalid"
	}
}

// Memory is the native module's linear memory, addressed by absolute numeric address.
// Peek and Poke move raw words: integers are zero-extended (callers sign-extend),
// floats travel as their IEEE-754 bits.
type Memory interface {
	PointerSize() uint32
	Peek(addr uint64, w Width) (uint64, error)
	Poke(addr uint64, w Width, v uint64) error
	// Read returns a copy of n bytes at addr.
	Read(addr uint64, n uint32) ([]byte, error)
	Write(addr uint64, data []byte) error
	// CString reads a NUL-terminated UTF-8 string.
	CString(addr uint64) (string, error)
}

// Allocator is the native heap.
type Allocator interface {
	Alloc(ctx context.Context, n uint32) (uint64, error)
	Free(ctx context.Context, addr uint64)
	// DeallocPointer returns a native function pointer that releases memory obtained from
	// Alloc, suitable as a destructor argument. Zero means none is available.
	DeallocPointer() uint64
}

// CallSignature encodes a native-callable signature, one letter per slot with the
// return type first: v=void, i=i32, j=i64, d=f64, p=pointer.
type CallSignature string

const (
	// SigVPIP is xFunc/xStep/xInverse: (sqlite3_context*, int argc, sqlite3_value** argv).
	SigVPIP CallSignature = "vpip"
	// SigVP is xFinal/xValue (sqlite3_context*) and xDestroy (void*).
	SigVP CallSignature = "vp"
	// SigIPIPP is the sqlite3_exec row callback: (void*, int, char**, char**) -> int.
	SigIPIPP CallSignature = "ipipp"
)

// Params returns the parameter letters of the signature.
func (s CallSignature) Params() string {
	if len(s) == 0 {
		return ""
	}
	return string(s[1:])
}

// Returns reports whether the signature produces a result.
func (s CallSignature) Returns() bool {
	return len(s) > 0 && s[0] != 'v'
}

// KnownSignatures lists every signature the glue installs.
var KnownSignatures = []CallSignature{SigVPIP, SigVP, SigIPIPP}

// HostFunc is host logic installed behind a native function pointer. Arguments and the
// result are raw words using the wazero stack convention (api.EncodeI32 and friends).
type HostFunc func(ctx context.Context, args []uint64) uint64

// FunctionTable is the native module's indirect call table as seen by the host.
type FunctionTable interface {
	// Install publishes fn as a native function pointer with the given signature.
	Install(sig CallSignature, fn HostFunc) (uint64, error)
	// Uninstall frees the slot behind addr.
	Uninstall(addr uint64) error
	// Len reports how many slots are currently installed.
	Len() int
}

// Native is a loaded native module: flat memory, numeric-only exports and a
// function table.
type Native interface {
	Memory() Memory
	Allocator() Allocator
	Table() FunctionTable
	// Call invokes a raw export with raw words and returns its raw result
	// (zero for void exports).
	Call(ctx context.Context, name string, args ...uint64) (uint64, error)
	HasExport(name string) bool
	// BigIntEnabled reports whether 64-bit integers cross the boundary natively.
	BigIntEnabled() bool
}
