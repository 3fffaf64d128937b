package glue

// Signature describes one native export: its result tag and ordered argument tags.
type Signature struct {
	Name   string
	Result string
	Args   []string
}

// Group partitions the signature table by build policy.
type Group int

const (
	// GroupDefault is built unconditionally into the API namespace.
	GroupDefault Group = iota
	// GroupInt64 needs 64-bit integer support; without it each entry gets a stand-in
	// that fails with domain.ErrCapabilityMissing.
	GroupInt64
	// GroupModule is built into the module namespace.
	GroupModule
)

func (g Group) String() string {
	switch g {
	case GroupDefault:
		return "default"
	case GroupInt64:
		return "int64"
	case GroupModule:
		return "module"
	default:
		return "unknown"
	}
}

func sig(name, result string, args ...string) Signature {
	return Signature{Name: name, Result: result, Args: args}
}

var defaultSignatures = []Signature{
	sig("sqlite3_aggregate_context", "void*", "sqlite3_context*", "int"),
	sig("sqlite3_bind_blob", "int", "sqlite3_stmt*", "int", "*", "int", "*"),
	sig("sqlite3_bind_double", "int", "sqlite3_stmt*", "int", "f64"),
	sig("sqlite3_bind_int", "int", "sqlite3_stmt*", "int", "int"),
	sig("sqlite3_bind_null", "int", "sqlite3_stmt*", "int"),
	sig("sqlite3_bind_parameter_count", "int", "sqlite3_stmt*"),
	sig("sqlite3_bind_parameter_index", "int", "sqlite3_stmt*", "string"),
	sig("sqlite3_bind_parameter_name", "string", "sqlite3_stmt*", "int"),
	sig("sqlite3_bind_text", "int", "sqlite3_stmt*", "int", "string", "int", "*"),
	sig("sqlite3_bind_zeroblob", "int", "sqlite3_stmt*", "int", "int"),
	sig("sqlite3_busy_timeout", "int", "sqlite3*", "int"),
	sig("sqlite3_changes", "int", "sqlite3*"),
	sig("sqlite3_clear_bindings", "int", "sqlite3_stmt*"),
	sig("sqlite3_close_v2", "int", "sqlite3*"),
	sig("sqlite3_column_blob", "*", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_bytes", "int", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_count", "int", "sqlite3_stmt*"),
	sig("sqlite3_column_decltype", "string", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_double", "f64", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_int", "int", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_name", "string", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_text", "string", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_type", "int", "sqlite3_stmt*", "int"),
	sig("sqlite3_column_value", "sqlite3_value*", "sqlite3_stmt*", "int"),
	sig("sqlite3_complete", "int", "flexible-string"),
	sig("sqlite3_context_db_handle", "sqlite3*", "sqlite3_context*"),
	sig("sqlite3_create_function", "int", "sqlite3*", "string", "int", "int", "*", "*", "*", "*"),
	sig("sqlite3_create_function_v2", "int", "sqlite3*", "string", "int", "int", "*", "*", "*", "*", "*"),
	sig("sqlite3_create_window_function", "int", "sqlite3*", "string", "int", "int", "*", "*", "*", "*", "*", "*"),
	sig("sqlite3_data_count", "int", "sqlite3_stmt*"),
	sig("sqlite3_db_filename", "string", "sqlite3*", "string"),
	sig("sqlite3_db_handle", "sqlite3*", "sqlite3_stmt*"),
	sig("sqlite3_db_readonly", "int", "sqlite3*", "string"),
	sig("sqlite3_errcode", "int", "sqlite3*"),
	sig("sqlite3_errmsg", "string", "sqlite3*"),
	sig("sqlite3_error_offset", "int", "sqlite3*"),
	sig("sqlite3_errstr", "string", "int"),
	sig("sqlite3_exec", "int", "sqlite3*", "flexible-string", "*", "*", "**"),
	sig("sqlite3_expanded_sql", "string:dealloc", "sqlite3_stmt*"),
	sig("sqlite3_extended_errcode", "int", "sqlite3*"),
	sig("sqlite3_extended_result_codes", "int", "sqlite3*", "int"),
	sig("sqlite3_finalize", "int", "sqlite3_stmt*"),
	sig("sqlite3_free", "void", "*"),
	sig("sqlite3_get_autocommit", "int", "sqlite3*"),
	sig("sqlite3_interrupt", "void", "sqlite3*"),
	sig("sqlite3_libversion", "string"),
	sig("sqlite3_libversion_number", "int"),
	sig("sqlite3_malloc", "*", "int"),
	sig("sqlite3_open", "int", "string", "*"),
	sig("sqlite3_open_v2", "int", "string", "*", "int", "string"),
	sig("sqlite3_prepare_v2", "int", "sqlite3*", "*", "int", "**", "**"),
	sig("sqlite3_prepare_v3", "int", "sqlite3*", "*", "int", "int", "**", "**"),
	sig("sqlite3_realloc", "*", "*", "int"),
	sig("sqlite3_reset", "int", "sqlite3_stmt*"),
	sig("sqlite3_result_blob", "void", "sqlite3_context*", "*", "int", "*"),
	sig("sqlite3_result_double", "void", "sqlite3_context*", "f64"),
	sig("sqlite3_result_error", "void", "sqlite3_context*", "string", "int"),
	sig("sqlite3_result_error_code", "void", "sqlite3_context*", "int"),
	sig("sqlite3_result_error_nomem", "void", "sqlite3_context*"),
	sig("sqlite3_result_error_toobig", "void", "sqlite3_context*"),
	sig("sqlite3_result_int", "void", "sqlite3_context*", "int"),
	sig("sqlite3_result_null", "void", "sqlite3_context*"),
	sig("sqlite3_result_text", "void", "sqlite3_context*", "string", "int", "*"),
	sig("sqlite3_result_zeroblob", "void", "sqlite3_context*", "int"),
	sig("sqlite3_sourceid", "string"),
	sig("sqlite3_sql", "string", "sqlite3_stmt*"),
	sig("sqlite3_step", "int", "sqlite3_stmt*"),
	sig("sqlite3_stmt_busy", "int", "sqlite3_stmt*"),
	sig("sqlite3_stmt_readonly", "int", "sqlite3_stmt*"),
	sig("sqlite3_strglob", "int", "string", "string"),
	sig("sqlite3_stricmp", "int", "string", "string"),
	sig("sqlite3_strlike", "int", "string", "string", "int"),
	sig("sqlite3_total_changes", "int", "sqlite3*"),
	sig("sqlite3_user_data", "void*", "sqlite3_context*"),
	sig("sqlite3_value_blob", "*", "sqlite3_value*"),
	sig("sqlite3_value_bytes", "int", "sqlite3_value*"),
	sig("sqlite3_value_double", "f64", "sqlite3_value*"),
	sig("sqlite3_value_int", "int", "sqlite3_value*"),
	sig("sqlite3_value_text", "string", "sqlite3_value*"),
	sig("sqlite3_value_type", "int", "sqlite3_value*"),
	sig("sqlite3_vfs_find", "*", "string"),
}

var int64Signatures = []Signature{
	sig("sqlite3_bind_int64", "int", "sqlite3_stmt*", "int", "i64"),
	sig("sqlite3_changes64", "i64", "sqlite3*"),
	sig("sqlite3_column_int64", "i64", "sqlite3_stmt*", "int"),
	sig("sqlite3_last_insert_rowid", "i64", "sqlite3*"),
	sig("sqlite3_malloc64", "*", "i64"),
	sig("sqlite3_memory_highwater", "i64", "int"),
	sig("sqlite3_memory_used", "i64"),
	sig("sqlite3_msize", "i64", "*"),
	sig("sqlite3_result_int64", "void", "sqlite3_context*", "i64"),
	sig("sqlite3_result_zeroblob64", "int", "sqlite3_context*", "i64"),
	sig("sqlite3_set_last_insert_rowid", "void", "sqlite3*", "i64"),
	sig("sqlite3_soft_heap_limit64", "i64", "i64"),
	sig("sqlite3_total_changes64", "i64", "sqlite3*"),
	sig("sqlite3_value_int64", "i64", "sqlite3_value*"),
}

var moduleSignatures = []Signature{
	sig("sqlite3__wasm_db_error", "int", "sqlite3*", "int", "string"),
	sig("sqlite3_db_cacheflush", "int", "sqlite3*"),
	sig("sqlite3_db_release_memory", "int", "sqlite3*"),
	sig("sqlite3_initialize", "int"),
	sig("sqlite3_release_memory", "int", "int"),
	sig("sqlite3_shutdown", "int"),
	sig("sqlite3_threadsafe", "int"),
}

// Signatures returns a copy of the table entries of one group.
func Signatures(g Group) []Signature {
	var src []Signature
	switch g {
	case GroupDefault:
		src = defaultSignatures
	case GroupInt64:
		src = int64Signatures
	case GroupModule:
		src = moduleSignatures
	}
	out := make([]Signature, len(src))
	for i, s := range src {
		out[i] = Signature{Name: s.Name, Result: s.Result, Args: append([]string(nil), s.Args...)}
	}
	return out
}

// Groups lists every group in build order.
var Groups = []Group{GroupDefault, GroupInt64, GroupModule}
