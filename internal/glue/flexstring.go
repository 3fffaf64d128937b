package glue

import (
	"fmt"
	"strings"

	"sqlite-glue/internal/domain"
)

// LenUnknown marks a flexible string whose length is bounded by its NUL terminator.
const LenUnknown = -1

type flexKind uint8

const (
	flexNull flexKind = iota
	flexText
	flexAddress
)

// FlexString is a normalized SQL source. It is consumed by one call and never retained.
type FlexString struct {
	Text string
	Addr uint64
	// Len is the byte length or LenUnknown.
	Len  int
	kind flexKind
}

// IsText reports whether the source is host text.
func (f FlexString) IsText() bool { return f.kind == flexText }

// IsAddress reports whether the source is a raw native address.
func (f FlexString) IsAddress() bool { return f.kind == flexAddress }

// IsNull reports whether no source was given.
func (f FlexString) IsNull() bool { return f.kind == flexNull }

// NormalizeFlexString accepts a string, a byte buffer, a list of fragments, a
// numeric address or nil.
func NormalizeFlexString(v any) (FlexString, error) {
	switch s := v.(type) {
	case nil:
		return FlexString{Len: LenUnknown, kind: flexNull}, nil
	case string:
		return FlexString{Text: s, Len: LenUnknown, kind: flexText}, nil
	case []byte:
		return FlexString{Text: string(s), Len: len(s), kind: flexText}, nil
	case []string:
		return FlexString{Text: strings.Join(s, ""), Len: LenUnknown, kind: flexText}, nil
	case []any:
		var b strings.Builder
		for _, part := range s {
			fmt.Fprint(&b, part)
		}
		return FlexString{Text: b.String(), Len: LenUnknown, kind: flexText}, nil
	}
	_, isBool := v.(bool)
	n, err := toInt64(v)
	if err != nil || isBool {
		return FlexString{}, fmt.Errorf("%w: cannot use %s as SQL source", domain.ErrInvalidArgumentType, typeName(v))
	}
	return FlexString{Addr: uint64(n), Len: LenUnknown, kind: flexAddress}, nil
}
