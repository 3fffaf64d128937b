package domain

import "fmt"

// SQLite primary result codes.
const (
	StatusOK         = 0
	StatusError      = 1
	StatusInternal   = 2
	StatusPerm       = 3
	StatusAbort      = 4
	StatusBusy       = 5
	StatusLocked     = 6
	StatusNoMem      = 7
	StatusReadOnly   = 8
	StatusInterrupt  = 9
	StatusIOErr      = 10
	StatusCorrupt    = 11
	StatusNotFound   = 12
	StatusFull       = 13
	StatusCantOpen   = 14
	StatusProtocol   = 15
	StatusEmpty      = 16
	StatusSchema     = 17
	StatusTooBig     = 18
	StatusConstraint = 19
	StatusMismatch   = 20
	StatusMisuse     = 21
	StatusNoLFS      = 22
	StatusAuth       = 23
	StatusFormat     = 24
	StatusRange      = 25
	StatusNotADB     = 26
	StatusNotice     = 27
	StatusWarning    = 28
	StatusRow        = 100
	StatusDone       = 101
)

var statusNames = map[int]string{
	StatusOK:         "SQLITE_OK",
	StatusError:      "SQLITE_ERROR",
	StatusInternal:   "SQLITE_INTERNAL",
	StatusPerm:       "SQLITE_PERM",
	StatusAbort:      "SQLITE_ABORT",
	StatusBusy:       "SQLITE_BUSY",
	StatusLocked:     "SQLITE_LOCKED",
	StatusNoMem:      "SQLITE_NOMEM",
	StatusReadOnly:   "SQLITE_READONLY",
	StatusInterrupt:  "SQLITE_INTERRUPT",
	StatusIOErr:      "SQLITE_IOERR",
	StatusCorrupt:    "SQLITE_CORRUPT",
	StatusNotFound:   "SQLITE_NOTFOUND",
	StatusFull:       "SQLITE_FULL",
	StatusCantOpen:   "SQLITE_CANTOPEN",
	StatusProtocol:   "SQLITE_PROTOCOL",
	StatusEmpty:      "SQLITE_EMPTY",
	StatusSchema:     "SQLITE_SCHEMA",
	StatusTooBig:     "SQLITE_TOOBIG",
	StatusConstraint: "SQLITE_CONSTRAINT",
	StatusMismatch:   "SQLITE_MISMATCH",
	StatusMisuse:     "SQLITE_MISUSE",
	StatusNoLFS:      "SQLITE_NOLFS",
	StatusAuth:       "SQLITE_AUTH",
	StatusFormat:     "SQLITE_FORMAT",
	StatusRange:      "SQLITE_RANGE",
	StatusNotADB:     "SQLITE_NOTADB",
	StatusNotice:     "SQLITE_NOTICE",
	StatusWarning:    "SQLITE_WARNING",
	StatusRow:        "SQLITE_ROW",
	StatusDone:       "SQLITE_DONE",
}

// StatusName returns the symbolic name of a result code. Extended codes are
// reported by their primary code.
func StatusName(rc int) string {
	if name, ok := statusNames[rc]; ok {
		return name
	}
	if name, ok := statusNames[rc&0xff]; ok {
		return name
	}
	return fmt.Sprintf("SQLITE_UNKNOWN(%d)", rc)
}

// Fundamental datatypes reported by sqlite3_value_type.
const (
	KindInteger = 1
	KindFloat   = 2
	KindText    = 3
	KindBlob    = 4
	KindNull    = 5
)

// Text encodings and function flags for sqlite3_create_function*.
const (
	EncodingUTF8  = 1
	Deterministic = 0x000000800
	DirectOnly    = 0x000080000
	Innocuous     = 0x000200000
)

// Open flags for sqlite3_open_v2.
const (
	OpenReadOnly  = 0x00000001
	OpenReadWrite = 0x00000002
	OpenCreate    = 0x00000004
	OpenURI       = 0x00000040
	OpenMemory    = 0x00000080
	OpenNoMutex   = 0x00008000
	OpenFullMutex = 0x00010000
	OpenExResCode = 0x02000000
)
