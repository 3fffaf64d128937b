package glue

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

// Tags of the default conversion set.
const (
	TagVoid          = "void"
	TagI8            = "i8"
	TagI16           = "i16"
	TagI32           = "i32"
	TagInt           = "int"
	TagI64           = "i64"
	TagF32           = "f32"
	TagF64           = "f64"
	TagPointer       = "*"
	TagString        = "string"
	TagStringDealloc = "string:dealloc"
	TagFlexString    = "flexible-string"
	TagBool          = "bool"
)

// pointerAliases are handle kinds that travel as plain native pointers.
var pointerAliases = []string{
	"**", "void*", "sqlite3*", "sqlite3_stmt*", "sqlite3_context*", "sqlite3_value*",
	"sqlite3_vfs*", "sqlite3_blob*", "sqlite3_backup*",
}

var errNotNumeric = errors.New("value is not numeric")

func registerDefaultArgs(r *Registry[ArgAdapter]) error {
	adapters := map[string]ArgAdapter{
		TagI8:         intArg(func(n int64) uint64 { return api.EncodeI32(int32(int8(n))) }),
		TagI16:        intArg(func(n int64) uint64 { return api.EncodeI32(int32(int16(n))) }),
		TagI32:        intArg(func(n int64) uint64 { return api.EncodeI32(int32(n)) }),
		TagI64:        argI64,
		TagF32:        floatArg(func(f float64) uint64 { return api.EncodeF32(float32(f)) }),
		TagF64:        floatArg(api.EncodeF64),
		TagPointer:    argPointer,
		TagString:     argString,
		TagFlexString: argFlexString,
		TagBool:       argBool,
	}
	for tag, fn := range adapters {
		if err := r.Register(tag, fn); err != nil {
			return err
		}
	}
	aliases := [][2]string{{TagI32, TagInt}, {TagF64, "float"}, {TagF64, "double"}}
	for _, p := range pointerAliases {
		aliases = append(aliases, [2]string{TagPointer, p})
	}
	for _, a := range aliases {
		if err := r.Alias(a[0], a[1]); err != nil {
			return err
		}
	}
	return nil
}

func registerDefaultResults(r *Registry[ResultAdapter]) error {
	adapters := map[string]ResultAdapter{
		TagVoid:          func(*Call, uint64) (any, error) { return nil, nil },
		TagI8:            func(_ *Call, raw uint64) (any, error) { return int(int8(raw)), nil },
		TagI16:           func(_ *Call, raw uint64) (any, error) { return int(int16(raw)), nil },
		TagI32:           func(_ *Call, raw uint64) (any, error) { return int(api.DecodeI32(raw)), nil },
		TagI64:           func(_ *Call, raw uint64) (any, error) { return int64(raw), nil },
		TagF32:           func(_ *Call, raw uint64) (any, error) { return float64(api.DecodeF32(raw)), nil },
		TagF64:           func(_ *Call, raw uint64) (any, error) { return api.DecodeF64(raw), nil },
		TagPointer:       resultPointer,
		TagString:        resultString,
		TagStringDealloc: resultStringDealloc,
		TagBool:          func(_ *Call, raw uint64) (any, error) { return api.DecodeI32(raw) != 0, nil },
	}
	for tag, fn := range adapters {
		if err := r.Register(tag, fn); err != nil {
			return err
		}
	}
	aliases := [][2]string{{TagI32, TagInt}, {TagF64, "number"}, {TagF64, "float"}, {TagF64, "double"}}
	for _, p := range pointerAliases {
		aliases = append(aliases, [2]string{TagPointer, p})
	}
	for _, a := range aliases {
		if err := r.Alias(a[0], a[1]); err != nil {
			return err
		}
	}
	return nil
}

func intArg(encode func(int64) uint64) ArgAdapter {
	return func(_ *Call, v any) (uint64, error) {
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		return encode(n), nil
	}
}

func floatArg(encode func(float64) uint64) ArgAdapter {
	return func(_ *Call, v any) (uint64, error) {
		f, err := toFloat64(v)
		if err != nil {
			return 0, err
		}
		return encode(f), nil
	}
}

func argI64(_ *Call, v any) (uint64, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func argPointer(c *Call, v any) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return c.pointer(n), nil
}

func argString(c *Call, v any) (uint64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		return c.CString(s)
	case []byte:
		return c.CString(string(s))
	}
	return argPointer(c, v)
}

func argFlexString(c *Call, v any) (uint64, error) {
	flex, err := NormalizeFlexString(v)
	if err != nil {
		return 0, err
	}
	switch {
	case flex.IsText():
		return c.CString(flex.Text)
	case flex.IsAddress():
		return c.pointer(int64(flex.Addr)), nil
	}
	return 0, nil
}

func argBool(_ *Call, v any) (uint64, error) {
	if b, ok := v.(bool); ok {
		if b {
			return api.EncodeI32(1), nil
		}
		return api.EncodeI32(0), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n != 0 {
		return api.EncodeI32(1), nil
	}
	return api.EncodeI32(0), nil
}

func resultPointer(c *Call, raw uint64) (any, error) {
	return c.unpointer(raw), nil
}

func resultString(c *Call, raw uint64) (any, error) {
	addr := c.unpointer(raw)
	if addr == 0 {
		return nil, nil
	}
	return c.g.native.Memory().CString(addr)
}

func resultStringDealloc(c *Call, raw uint64) (any, error) {
	addr := c.unpointer(raw)
	if addr == 0 {
		return nil, nil
	}
	defer c.g.native.Allocator().Free(c.ctx, addr)
	return c.g.native.Memory().CString(addr)
}

// pointer truncates n to the native pointer width, so -1 becomes the all-ones address.
func (c *Call) pointer(n int64) uint64 {
	if c.g.native.Memory().PointerSize() == 4 {
		return uint64(uint32(n))
	}
	return uint64(n)
}

func (c *Call) unpointer(raw uint64) uint64 {
	if c.g.native.Memory().PointerSize() == 4 {
		return uint64(uint32(raw))
	}
	return raw
}

// toInt64 accepts every Go numeric kind. Floats are truncated toward zero.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		// values above MaxInt64 keep their bit pattern
		return int64(n), nil
	case uintptr:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case *big.Int:
		if n != nil && n.IsInt64() {
			return n.Int64(), nil
		}
		return 0, fmt.Errorf("%w: %v does not fit 64 bits", domain.ErrValueTooLarge, n)
	}
	return 0, fmt.Errorf("%w: %T", errNotNumeric, v)
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", errNotNumeric, f)
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v", domain.ErrValueTooLarge, f)
	}
	return int64(t), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case *big.Int:
		if n == nil {
			return 0, fmt.Errorf("%w: nil *big.Int", errNotNumeric)
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}

// typeName describes a host value for error messages.
func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
