package inproc

import (
	"github.com/tetratelabs/wazero/api"
	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// export adapts one lib function to raw words.
type export struct {
	arity int
	fn    func(tls *libc.TLS, a []uint64) uint64
}

func ptr(w uint64) uintptr { return uintptr(w) }
func i32(w uint64) int32   { return api.DecodeI32(w) }
func ri32(v int32) uint64  { return api.EncodeI32(v) }
func rptr(p uintptr) uint64 { return uint64(p) }

// Shapes shared by many exports.

func pI(f func(*libc.TLS, uintptr) int32) export {
	return export{1, func(tls *libc.TLS, a []uint64) uint64 { return ri32(f(tls, ptr(a[0]))) }}
}

func pP(f func(*libc.TLS, uintptr) uintptr) export {
	return export{1, func(tls *libc.TLS, a []uint64) uint64 { return rptr(f(tls, ptr(a[0]))) }}
}

func pV(f func(*libc.TLS, uintptr)) export {
	return export{1, func(tls *libc.TLS, a []uint64) uint64 { f(tls, ptr(a[0])); return 0 }}
}

func piI(f func(*libc.TLS, uintptr, int32) int32) export {
	return export{2, func(tls *libc.TLS, a []uint64) uint64 { return ri32(f(tls, ptr(a[0]), i32(a[1]))) }}
}

func piP(f func(*libc.TLS, uintptr, int32) uintptr) export {
	return export{2, func(tls *libc.TLS, a []uint64) uint64 { return rptr(f(tls, ptr(a[0]), i32(a[1]))) }}
}

func piV(f func(*libc.TLS, uintptr, int32)) export {
	return export{2, func(tls *libc.TLS, a []uint64) uint64 { f(tls, ptr(a[0]), i32(a[1])); return 0 }}
}

func ppI(f func(*libc.TLS, uintptr, uintptr) int32) export {
	return export{2, func(tls *libc.TLS, a []uint64) uint64 { return ri32(f(tls, ptr(a[0]), ptr(a[1]))) }}
}

func ppP(f func(*libc.TLS, uintptr, uintptr) uintptr) export {
	return export{2, func(tls *libc.TLS, a []uint64) uint64 { return rptr(f(tls, ptr(a[0]), ptr(a[1]))) }}
}

func iI(f func(*libc.TLS, int32) int32) export {
	return export{1, func(tls *libc.TLS, a []uint64) uint64 { return ri32(f(tls, i32(a[0]))) }}
}

func iP(f func(*libc.TLS, int32) uintptr) export {
	return export{1, func(tls *libc.TLS, a []uint64) uint64 { return rptr(f(tls, i32(a[0]))) }}
}

func vI(f func(*libc.TLS) int32) export {
	return export{0, func(tls *libc.TLS, _ []uint64) uint64 { return ri32(f(tls)) }}
}

func vP(f func(*libc.TLS) uintptr) export {
	return export{0, func(tls *libc.TLS, _ []uint64) uint64 { return rptr(f(tls)) }}
}

// exportTable maps every export the signature table names to its lib function.
func exportTable() map[string]export {
	return map[string]export{
		// connections
		"sqlite3_open": ppI(sqlite3.Xsqlite3_open),
		"sqlite3_open_v2": {4, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_open_v2(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), ptr(a[3])))
		}},
		"sqlite3_close_v2":              pI(sqlite3.Xsqlite3_close_v2),
		"sqlite3_busy_timeout":          piI(sqlite3.Xsqlite3_busy_timeout),
		"sqlite3_changes":               pI(sqlite3.Xsqlite3_changes),
		"sqlite3_total_changes":         pI(sqlite3.Xsqlite3_total_changes),
		"sqlite3_get_autocommit":        pI(sqlite3.Xsqlite3_get_autocommit),
		"sqlite3_interrupt":             pV(sqlite3.Xsqlite3_interrupt),
		"sqlite3_db_filename":           ppP(sqlite3.Xsqlite3_db_filename),
		"sqlite3_db_readonly":           ppI(sqlite3.Xsqlite3_db_readonly),
		"sqlite3_extended_result_codes": piI(sqlite3.Xsqlite3_extended_result_codes),
		"sqlite3_errcode":               pI(sqlite3.Xsqlite3_errcode),
		"sqlite3_extended_errcode":      pI(sqlite3.Xsqlite3_extended_errcode),
		"sqlite3_errmsg":                pP(sqlite3.Xsqlite3_errmsg),
		"sqlite3_error_offset":          pI(sqlite3.Xsqlite3_error_offset),
		"sqlite3_errstr":                iP(sqlite3.Xsqlite3_errstr),
		"sqlite3_exec": {5, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_exec(tls, ptr(a[0]), ptr(a[1]), ptr(a[2]), ptr(a[3]), ptr(a[4])))
		}},

		// statements
		"sqlite3_prepare_v2": {5, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_prepare_v2(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), ptr(a[3]), ptr(a[4])))
		}},
		"sqlite3_prepare_v3": {6, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_prepare_v3(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), uint32(a[3]), ptr(a[4]), ptr(a[5])))
		}},
		"sqlite3_step":                 pI(sqlite3.Xsqlite3_step),
		"sqlite3_reset":                pI(sqlite3.Xsqlite3_reset),
		"sqlite3_finalize":             pI(sqlite3.Xsqlite3_finalize),
		"sqlite3_clear_bindings":       pI(sqlite3.Xsqlite3_clear_bindings),
		"sqlite3_data_count":           pI(sqlite3.Xsqlite3_data_count),
		"sqlite3_column_count":         pI(sqlite3.Xsqlite3_column_count),
		"sqlite3_stmt_busy":            pI(sqlite3.Xsqlite3_stmt_busy),
		"sqlite3_stmt_readonly":        pI(sqlite3.Xsqlite3_stmt_readonly),
		"sqlite3_bind_parameter_count": pI(sqlite3.Xsqlite3_bind_parameter_count),
		"sqlite3_bind_parameter_index": ppI(sqlite3.Xsqlite3_bind_parameter_index),
		"sqlite3_bind_parameter_name":  piP(sqlite3.Xsqlite3_bind_parameter_name),
		"sqlite3_sql":                  pP(sqlite3.Xsqlite3_sql),
		"sqlite3_expanded_sql":         pP(sqlite3.Xsqlite3_expanded_sql),
		"sqlite3_db_handle":            pP(sqlite3.Xsqlite3_db_handle),
		"sqlite3_bind_null":            piI(sqlite3.Xsqlite3_bind_null),
		"sqlite3_bind_int": {3, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_int(tls, ptr(a[0]), i32(a[1]), i32(a[2])))
		}},
		"sqlite3_bind_int64": {3, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_int64(tls, ptr(a[0]), i32(a[1]), int64(a[2])))
		}},
		"sqlite3_bind_double": {3, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_double(tls, ptr(a[0]), i32(a[1]), api.DecodeF64(a[2])))
		}},
		"sqlite3_bind_text": {5, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_text(tls, ptr(a[0]), i32(a[1]), ptr(a[2]), i32(a[3]), ptr(a[4])))
		}},
		"sqlite3_bind_blob": {5, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_blob(tls, ptr(a[0]), i32(a[1]), ptr(a[2]), i32(a[3]), ptr(a[4])))
		}},
		"sqlite3_bind_zeroblob": {3, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_bind_zeroblob(tls, ptr(a[0]), i32(a[1]), i32(a[2])))
		}},
		"sqlite3_column_type":     piI(sqlite3.Xsqlite3_column_type),
		"sqlite3_column_int":      piI(sqlite3.Xsqlite3_column_int),
		"sqlite3_column_bytes":    piI(sqlite3.Xsqlite3_column_bytes),
		"sqlite3_column_blob":     piP(sqlite3.Xsqlite3_column_blob),
		"sqlite3_column_text":     piP(sqlite3.Xsqlite3_column_text),
		"sqlite3_column_name":     piP(sqlite3.Xsqlite3_column_name),
		"sqlite3_column_decltype": piP(sqlite3.Xsqlite3_column_decltype),
		"sqlite3_column_value":    piP(sqlite3.Xsqlite3_column_value),
		"sqlite3_column_double": {2, func(tls *libc.TLS, a []uint64) uint64 {
			return api.EncodeF64(sqlite3.Xsqlite3_column_double(tls, ptr(a[0]), i32(a[1])))
		}},
		"sqlite3_column_int64": {2, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_column_int64(tls, ptr(a[0]), i32(a[1])))
		}},

		// functions
		"sqlite3_create_function": {8, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_create_function(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), i32(a[3]),
				ptr(a[4]), ptr(a[5]), ptr(a[6]), ptr(a[7])))
		}},
		"sqlite3_create_function_v2": {9, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_create_function_v2(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), i32(a[3]),
				ptr(a[4]), ptr(a[5]), ptr(a[6]), ptr(a[7]), ptr(a[8])))
		}},
		"sqlite3_create_window_function": {10, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_create_window_function(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), i32(a[3]),
				ptr(a[4]), ptr(a[5]), ptr(a[6]), ptr(a[7]), ptr(a[8]), ptr(a[9])))
		}},
		"sqlite3_user_data":         pP(sqlite3.Xsqlite3_user_data),
		"sqlite3_context_db_handle": pP(sqlite3.Xsqlite3_context_db_handle),
		"sqlite3_aggregate_context": piP(sqlite3.Xsqlite3_aggregate_context),
		"sqlite3_value_type":        pI(sqlite3.Xsqlite3_value_type),
		"sqlite3_value_int":         pI(sqlite3.Xsqlite3_value_int),
		"sqlite3_value_bytes":       pI(sqlite3.Xsqlite3_value_bytes),
		"sqlite3_value_text":        pP(sqlite3.Xsqlite3_value_text),
		"sqlite3_value_blob":        pP(sqlite3.Xsqlite3_value_blob),
		"sqlite3_value_double": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return api.EncodeF64(sqlite3.Xsqlite3_value_double(tls, ptr(a[0])))
		}},
		"sqlite3_value_int64": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_value_int64(tls, ptr(a[0])))
		}},
		"sqlite3_result_null":         pV(sqlite3.Xsqlite3_result_null),
		"sqlite3_result_error_nomem":  pV(sqlite3.Xsqlite3_result_error_nomem),
		"sqlite3_result_error_toobig": pV(sqlite3.Xsqlite3_result_error_toobig),
		"sqlite3_result_int":          piV(sqlite3.Xsqlite3_result_int),
		"sqlite3_result_zeroblob":     piV(sqlite3.Xsqlite3_result_zeroblob),
		"sqlite3_result_error_code":   piV(sqlite3.Xsqlite3_result_error_code),
		"sqlite3_result_int64": {2, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_result_int64(tls, ptr(a[0]), int64(a[1]))
			return 0
		}},
		"sqlite3_result_double": {2, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_result_double(tls, ptr(a[0]), api.DecodeF64(a[1]))
			return 0
		}},
		"sqlite3_result_error": {3, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_result_error(tls, ptr(a[0]), ptr(a[1]), i32(a[2]))
			return 0
		}},
		"sqlite3_result_text": {4, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_result_text(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), ptr(a[3]))
			return 0
		}},
		"sqlite3_result_blob": {4, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_result_blob(tls, ptr(a[0]), ptr(a[1]), i32(a[2]), ptr(a[3]))
			return 0
		}},
		"sqlite3_result_zeroblob64": {2, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_result_zeroblob64(tls, ptr(a[0]), a[1]))
		}},

		// memory
		"sqlite3_malloc": iP(sqlite3.Xsqlite3_malloc),
		"sqlite3_free":   pV(sqlite3.Xsqlite3_free),
		"sqlite3_realloc": {2, func(tls *libc.TLS, a []uint64) uint64 {
			return rptr(sqlite3.Xsqlite3_realloc(tls, ptr(a[0]), i32(a[1])))
		}},
		"sqlite3_malloc64": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return rptr(sqlite3.Xsqlite3_malloc64(tls, a[0]))
		}},
		"sqlite3_msize": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_msize(tls, ptr(a[0])))
		}},
		"sqlite3_memory_used": {0, func(tls *libc.TLS, _ []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_memory_used(tls))
		}},
		"sqlite3_memory_highwater": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_memory_highwater(tls, i32(a[0])))
		}},
		"sqlite3_soft_heap_limit64": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_soft_heap_limit64(tls, int64(a[0])))
		}},
		"sqlite3_release_memory":    iI(sqlite3.Xsqlite3_release_memory),
		"sqlite3_db_release_memory": pI(sqlite3.Xsqlite3_db_release_memory),
		"sqlite3_db_cacheflush":     pI(sqlite3.Xsqlite3_db_cacheflush),

		// 64-bit counters
		"sqlite3_changes64": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_changes64(tls, ptr(a[0])))
		}},
		"sqlite3_total_changes64": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_total_changes64(tls, ptr(a[0])))
		}},
		"sqlite3_last_insert_rowid": {1, func(tls *libc.TLS, a []uint64) uint64 {
			return uint64(sqlite3.Xsqlite3_last_insert_rowid(tls, ptr(a[0])))
		}},
		"sqlite3_set_last_insert_rowid": {2, func(tls *libc.TLS, a []uint64) uint64 {
			sqlite3.Xsqlite3_set_last_insert_rowid(tls, ptr(a[0]), int64(a[1]))
			return 0
		}},

		// library
		"sqlite3_libversion":        vP(sqlite3.Xsqlite3_libversion),
		"sqlite3_libversion_number": vI(sqlite3.Xsqlite3_libversion_number),
		"sqlite3_sourceid":          vP(sqlite3.Xsqlite3_sourceid),
		"sqlite3_threadsafe":        vI(sqlite3.Xsqlite3_threadsafe),
		"sqlite3_initialize":        vI(sqlite3.Xsqlite3_initialize),
		"sqlite3_shutdown":          vI(sqlite3.Xsqlite3_shutdown),
		"sqlite3_complete":          pI(sqlite3.Xsqlite3_complete),
		"sqlite3_vfs_find":          pP(sqlite3.Xsqlite3_vfs_find),
		"sqlite3_strglob":           ppI(sqlite3.Xsqlite3_strglob),
		"sqlite3_stricmp":           ppI(sqlite3.Xsqlite3_stricmp),
		"sqlite3_strlike": {3, func(tls *libc.TLS, a []uint64) uint64 {
			return ri32(sqlite3.Xsqlite3_strlike(tls, ptr(a[0]), ptr(a[1]), uint32(a[2])))
		}},
	}
}
