package glue

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"sqlite-glue/internal/domain"
)

// StatusError is a non-OK result code together with the database error message.
type StatusError struct {
	Op   string
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, domain.StatusName(e.Code))
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, domain.StatusName(e.Code), e.Msg)
}

// Is matches the taxonomy sentinel a result code stands for.
func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrMisuse:
		return e.Code&0xff == domain.StatusMisuse
	case domain.ErrAllocation:
		return e.Code&0xff == domain.StatusNoMem
	case domain.ErrValueTooLarge:
		return e.Code&0xff == domain.StatusTooBig
	}
	return false
}

// StatusCode extracts the result code carried by err, StatusOK for nil and
// StatusError for anything that is not a *StatusError.
func StatusCode(err error) int {
	if err == nil {
		return domain.StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return domain.StatusOf(err)
}

func (g *Glue) statusError(ctx context.Context, op string, db uint64, rc int) error {
	if rc == domain.StatusOK {
		return nil
	}
	var msg string
	if db != 0 {
		msg = g.ErrMsg(ctx, db)
	}
	return &StatusError{Op: op, Code: rc, Msg: msg}
}

// Open opens a database connection on the default VFS.
func (g *Glue) Open(ctx context.Context, filename string, flags int) (uint64, error) {
	c := g.newCall(ctx)
	defer c.release()
	pp, err := c.OutPointer()
	if err != nil {
		return 0, err
	}
	rc, err := g.CallInt(ctx, "sqlite3_open_v2", filename, pp, flags, nil)
	if err != nil {
		return 0, err
	}
	db, err := g.native.Memory().Peek(pp, domain.WidthPtr)
	if err != nil {
		return 0, err
	}
	if rc != domain.StatusOK {
		serr := g.statusError(ctx, "sqlite3_open_v2", db, rc)
		if db != 0 {
			_, _ = g.Call(ctx, "sqlite3_close_v2", db)
		}
		return 0, serr
	}
	return db, nil
}

// CloseDB closes a connection. Functions registered on it are destroyed by the native
// side, which releases their slots.
func (g *Glue) CloseDB(ctx context.Context, db uint64) error {
	g.clearDBError(db)
	rc, err := g.CallInt(ctx, "sqlite3_close_v2", db)
	if err != nil {
		return err
	}
	return g.statusError(ctx, "sqlite3_close_v2", db, rc)
}

// Exec runs every statement of sql. cb may be nil.
func (g *Glue) Exec(ctx context.Context, db uint64, sql any, cb ExecCallback, userData uint64) error {
	var cbArg any
	if cb != nil {
		cbArg = cb
	}
	rc, err := g.CallInt(ctx, "sqlite3_exec", db, sql, cbArg, userData, nil)
	if err != nil {
		return err
	}
	return g.statusError(ctx, "sqlite3_exec", db, rc)
}

// Prepare compiles the first statement of sql. A zero statement with a nil error means
// sql held no statement.
func (g *Glue) Prepare(ctx context.Context, db uint64, sql any, flags int) (uint64, error) {
	c := g.newCall(ctx)
	defer c.release()
	pp, err := c.OutPointer()
	if err != nil {
		return 0, err
	}
	rc, err := g.CallInt(ctx, "sqlite3_prepare_v3", db, sql, -1, flags, pp, nil)
	if err != nil {
		return 0, err
	}
	if rc != domain.StatusOK {
		return 0, g.statusError(ctx, "sqlite3_prepare_v3", db, rc)
	}
	return g.native.Memory().Peek(pp, domain.WidthPtr)
}

// PrepareAt compiles the statement starting at the native address sql and returns it
// with the address just past it, for stepping through a multi-statement buffer.
func (g *Glue) PrepareAt(ctx context.Context, db, sql uint64, nByte, flags int) (stmt, tail uint64, err error) {
	c := g.newCall(ctx)
	defer c.release()
	ppStmt, err := c.OutPointer()
	if err != nil {
		return 0, 0, err
	}
	pzTail, err := c.OutPointer()
	if err != nil {
		return 0, 0, err
	}
	rc, err := g.CallInt(ctx, "sqlite3_prepare_v3", db, sql, nByte, flags, ppStmt, pzTail)
	if err != nil {
		return 0, 0, err
	}
	if rc != domain.StatusOK {
		return 0, 0, g.statusError(ctx, "sqlite3_prepare_v3", db, rc)
	}
	mem := g.native.Memory()
	if stmt, err = mem.Peek(ppStmt, domain.WidthPtr); err != nil {
		return 0, 0, err
	}
	if tail, err = mem.Peek(pzTail, domain.WidthPtr); err != nil {
		return 0, 0, err
	}
	return stmt, tail, nil
}

// CreateFunction registers a scalar function.
func (g *Glue) CreateFunction(ctx context.Context, db uint64, name string, nArg, flags int, fn ScalarFunc) error {
	rc, err := g.CallInt(ctx, "sqlite3_create_function_v2",
		db, name, nArg, domain.EncodingUTF8|flags, nil, fn, nil, nil, nil)
	if err != nil {
		return err
	}
	return g.statusError(ctx, "sqlite3_create_function_v2", db, rc)
}

// CreateAggregate registers an aggregate function.
func (g *Glue) CreateAggregate(ctx context.Context, db uint64, name string, nArg, flags int, step StepFunc, final FinalFunc) error {
	rc, err := g.CallInt(ctx, "sqlite3_create_function_v2",
		db, name, nArg, domain.EncodingUTF8|flags, nil, nil, step, final, nil)
	if err != nil {
		return err
	}
	return g.statusError(ctx, "sqlite3_create_function_v2", db, rc)
}

// WindowFuncs are the callbacks of an aggregate window function.
type WindowFuncs struct {
	Step    StepFunc
	Final   FinalFunc
	Value   FinalFunc
	Inverse StepFunc
	Destroy DestroyFunc
}

// CreateWindowFunction registers an aggregate window function.
func (g *Glue) CreateWindowFunction(ctx context.Context, db uint64, name string, nArg, flags int, w WindowFuncs) error {
	rc, err := g.CallInt(ctx, "sqlite3_create_window_function",
		db, name, nArg, domain.EncodingUTF8|flags, nil, w.Step, w.Final, w.Value, w.Inverse, w.Destroy)
	if err != nil {
		return err
	}
	return g.statusError(ctx, "sqlite3_create_window_function", db, rc)
}

// Query runs one statement and returns every row as host values.
func (g *Glue) Query(ctx context.Context, db uint64, sql string, params ...any) ([][]any, error) {
	stmt, err := g.Prepare(ctx, db, sql, 0)
	if err != nil {
		return nil, err
	}
	if stmt == 0 {
		return nil, nil
	}
	defer func() { _, _ = g.Call(ctx, "sqlite3_finalize", stmt) }()

	for i, p := range params {
		if err := g.bind(ctx, db, stmt, i+1, p); err != nil {
			return nil, err
		}
	}
	ncol, err := g.CallInt(ctx, "sqlite3_column_count", stmt)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	for {
		rc, err := g.CallInt(ctx, "sqlite3_step", stmt)
		if err != nil {
			return nil, err
		}
		if rc == domain.StatusDone {
			return rows, nil
		}
		if rc != domain.StatusRow {
			return nil, g.statusError(ctx, "sqlite3_step", db, rc)
		}
		row := make([]any, ncol)
		for i := 0; i < ncol; i++ {
			v, err := g.column(ctx, stmt, i)
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
}

func (g *Glue) column(ctx context.Context, stmt uint64, i int) (any, error) {
	kind, err := g.CallInt(ctx, "sqlite3_column_type", stmt, i)
	if err != nil {
		return nil, err
	}
	switch kind {
	case domain.KindInteger:
		if g.native.BigIntEnabled() {
			return g.Call(ctx, "sqlite3_column_int64", stmt, i)
		}
		return g.Call(ctx, "sqlite3_column_double", stmt, i)
	case domain.KindFloat:
		return g.Call(ctx, "sqlite3_column_double", stmt, i)
	case domain.KindText:
		b, err := g.columnBytes(ctx, "sqlite3_column_text", stmt, i)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case domain.KindBlob:
		return g.columnBytes(ctx, "sqlite3_column_blob", stmt, i)
	default:
		return nil, nil
	}
}

// columnBytes copies a text or blob column using its byte count, so embedded NULs
// survive.
func (g *Glue) columnBytes(ctx context.Context, accessor string, stmt uint64, i int) ([]byte, error) {
	col := api.EncodeI32(int32(i))
	rawPtr, err := g.native.Call(ctx, accessor, stmt, col)
	if err != nil {
		return nil, err
	}
	rawLen, err := g.native.Call(ctx, "sqlite3_column_bytes", stmt, col)
	if err != nil {
		return nil, err
	}
	p, n := g.ptr(rawPtr), api.DecodeI32(rawLen)
	if n <= 0 {
		return []byte{}, nil
	}
	if p == 0 {
		return nil, fmt.Errorf("%w: %s returned NULL for %d bytes", domain.ErrAllocation, accessor, n)
	}
	return g.native.Memory().Read(p, uint32(n))
}

func (g *Glue) bind(ctx context.Context, db, stmt uint64, i int, v any) error {
	var (
		rc  int
		err error
	)
	switch x := v.(type) {
	case nil:
		rc, err = g.CallInt(ctx, "sqlite3_bind_null", stmt, i)
	case string:
		rc, err = g.CallInt(ctx, "sqlite3_bind_text", stmt, i, x, len(x), -1)
	case []byte:
		c := g.newCall(ctx)
		defer c.release()
		p, aerr := c.Alloc(uint32(len(x)))
		if aerr != nil {
			return aerr
		}
		if err := g.native.Memory().Write(p, x); err != nil {
			return err
		}
		rc, err = g.CallInt(ctx, "sqlite3_bind_blob", stmt, i, p, len(x), -1)
	case float32, float64:
		rc, err = g.CallInt(ctx, "sqlite3_bind_double", stmt, i, x)
	default:
		if g.native.BigIntEnabled() {
			rc, err = g.CallInt(ctx, "sqlite3_bind_int64", stmt, i, x)
		} else {
			rc, err = g.CallInt(ctx, "sqlite3_bind_double", stmt, i, x)
		}
	}
	if err != nil {
		return err
	}
	return g.statusError(ctx, "bind", db, rc)
}
