package glue

import (
	"context"

	"sqlite-glue/internal/domain"
)

const dbErrorExport = "sqlite3__wasm_db_error"

type dbError struct {
	code int
	msg  string
}

// DBError records code and msg as the error state of db and returns code. Builds that
// export sqlite3__wasm_db_error store it inside the database handle; otherwise the glue
// keeps it until the next shim call on db.
func (g *Glue) DBError(ctx context.Context, db any, code int, msg string) int {
	h := g.handleOf(db)
	if h == 0 {
		g.logger.Debug("error without database handle", "code", domain.StatusName(code), "error", msg)
		return code
	}
	if p, ok := g.module[dbErrorExport]; ok {
		_, err := p(ctx, h, code, msg)
		if err == nil {
			return code
		}
		g.logger.Warn("native db error channel failed", "error", err)
	}
	g.errMu.Lock()
	g.dbErrors[h] = dbError{code: code, msg: msg}
	g.errMu.Unlock()
	return code
}

// ErrMsg returns the most recent error message for db, preferring errors raised inside
// the glue over the native one.
func (g *Glue) ErrMsg(ctx context.Context, db uint64) string {
	if e, ok := g.lookupDBError(db); ok {
		return e.msg
	}
	p, ok := g.api["sqlite3_errmsg"]
	if !ok {
		return ""
	}
	v, err := p(ctx, db)
	if err != nil {
		return err.Error()
	}
	s, _ := v.(string)
	return s
}

// ErrCode returns the most recent result code for db.
func (g *Glue) ErrCode(ctx context.Context, db uint64) int {
	if e, ok := g.lookupDBError(db); ok {
		return e.code
	}
	p, ok := g.api["sqlite3_extended_errcode"]
	if !ok {
		return domain.StatusOK
	}
	v, err := p(ctx, db)
	if err != nil {
		return domain.StatusError
	}
	rc, _ := v.(int)
	return rc
}

func (g *Glue) lookupDBError(db uint64) (dbError, bool) {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	e, ok := g.dbErrors[db]
	return e, ok
}

func (g *Glue) clearDBError(db any) {
	h := g.handleOf(db)
	if h == 0 {
		return
	}
	g.errMu.Lock()
	delete(g.dbErrors, h)
	g.errMu.Unlock()
}

// reportError routes a failure detected inside the glue through the side channel.
func (g *Glue) reportError(ctx context.Context, db any, op string, err error) int {
	code := domain.StatusOf(err)
	g.logger.Debug("glue call failed", "func", op, "code", domain.StatusName(code), "error_code", domain.ErrorCodeOf(err), "error", err)
	return g.DBError(ctx, db, code, err.Error())
}

func (g *Glue) handleOf(db any) uint64 {
	if db == nil {
		return 0
	}
	if _, isBool := db.(bool); isBool {
		return 0
	}
	n, err := toInt64(db)
	if err != nil {
		return 0
	}
	return g.ptr(uint64(n))
}
