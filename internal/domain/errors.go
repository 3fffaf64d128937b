package domain

import (
	"errors"
	"fmt"
)

// Glue taxonomy sentinels. Every failure produced by the glue layer wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrUnknownTag            = fmt.Errorf("unknown type tag")
	ErrConversion            = fmt.Errorf("value conversion failed")
	ErrCapabilityMissing     = fmt.Errorf("64-bit integer support is disabled")
	ErrProtocol              = fmt.Errorf("native protocol violation")
	ErrAllocation            = fmt.Errorf("allocation failed")
	ErrValueTooLarge         = fmt.Errorf("value too large")
	ErrUnsupportedResultType = fmt.Errorf("unsupported result type")
	ErrMisuse                = fmt.Errorf("misuse")
	ErrInvalidArgumentType   = fmt.Errorf("invalid argument type")
)

// Infrastructure sentinels.
var (
	ErrRegistryFrozen = fmt.Errorf("adapter registry is frozen")
	ErrExportNotFound = fmt.Errorf("native export not found")
	ErrSlotExhausted  = fmt.Errorf("function table has no free slot")
	ErrSlotOwnership  = fmt.Errorf("slot is owned by the native side")
	ErrMemoryAccess   = fmt.Errorf("memory access out of bounds")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrInvalidInput   = fmt.Errorf("invalid input")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "sqlite3_exec")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeUnknownTag        ErrorCode = "UNKNOWN_TAG"
	CodeConversion        ErrorCode = "CONVERSION"
	CodeCapabilityMissing ErrorCode = "CAPABILITY_MISSING"
	CodeProtocol          ErrorCode = "PROTOCOL"
	CodeAllocation        ErrorCode = "ALLOCATION"
	CodeValueTooLarge     ErrorCode = "VALUE_TOO_LARGE"
	CodeUnsupportedResult ErrorCode = "UNSUPPORTED_RESULT_TYPE"
	CodeMisuse            ErrorCode = "MISUSE"
	CodeInvalidArgType    ErrorCode = "INVALID_ARGUMENT_TYPE"
	CodeRegistryFrozen    ErrorCode = "REGISTRY_FROZEN"
	CodeExportNotFound    ErrorCode = "EXPORT_NOT_FOUND"
	CodeSlotExhausted     ErrorCode = "SLOT_EXHAUSTED"
	CodeSlotOwnership     ErrorCode = "SLOT_OWNERSHIP"
	CodeMemoryAccess      ErrorCode = "MEMORY_ACCESS"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnknownTag:            CodeUnknownTag,
	ErrConversion:            CodeConversion,
	ErrCapabilityMissing:     CodeCapabilityMissing,
	ErrProtocol:              CodeProtocol,
	ErrAllocation:            CodeAllocation,
	ErrValueTooLarge:         CodeValueTooLarge,
	ErrUnsupportedResultType: CodeUnsupportedResult,
	ErrMisuse:                CodeMisuse,
	ErrInvalidArgumentType:   CodeInvalidArgType,
	ErrRegistryFrozen:        CodeRegistryFrozen,
	ErrExportNotFound:        CodeExportNotFound,
	ErrSlotExhausted:         CodeSlotExhausted,
	ErrSlotOwnership:         CodeSlotOwnership,
	ErrMemoryAccess:          CodeMemoryAccess,
	ErrConfigLoad:            CodeConfigLoad,
	ErrInvalidInput:          CodeInvalidInput,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

// StatusOf maps an error to the SQLite status code the glue reports for it.
// Misuse-class failures report StatusMisuse, allocation failures StatusNoMem,
// oversized values StatusTooBig, everything else StatusError.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrMisuse), errors.Is(err, ErrInvalidArgumentType):
		return StatusMisuse
	case errors.Is(err, ErrAllocation):
		return StatusNoMem
	case errors.Is(err, ErrValueTooLarge):
		return StatusTooBig
	default:
		return StatusError
	}
}
