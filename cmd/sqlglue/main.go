package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"sqlite-glue/internal/adapter/native/inproc"
	"sqlite-glue/internal/adapter/native/wasm"
	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/glue"
	"sqlite-glue/internal/infra/config"
	"sqlite-glue/internal/infra/logger"
	"sqlite-glue/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "exec":
		err = runExec(os.Args[2:], os.Stdout)
	case "signatures":
		err = runSignatures(os.Args[2:], os.Stdout)
	case "doctor":
		err = runDoctor(os.Stdout)
	case "version":
		err = runVersion(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'sqlglue --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`sqlglue - SQLite marshaling glue over a numeric native module

USAGE:
    sqlglue <COMMAND> [FLAGS]

COMMANDS:
    exec        Run SQL through the exec shim and print every row
    signatures  List the signature table and how each entry is bound
    doctor      Run health checks on the config and native backend
    version     Print version information

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./sqlglue.yaml)

CONFIGURATION:
    Config file: ./sqlglue.yaml
    Environment: SQLGLUE_* variables override config

EXAMPLES:
    sqlglue exec "CREATE TABLE t(x); INSERT INTO t VALUES (1); SELECT * FROM t"
    sqlglue exec --db app.db "SELECT name FROM sqlite_schema"
    sqlglue signatures --group int64
    sqlglue doctor`)
}

// configPath returns the --config flag value, SQLGLUE_CONFIG, or the default.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SQLGLUE_CONFIG"); p != "" {
		return p
	}
	return "sqlglue.yaml"
}

// backend is a native module the CLI owns.
type backend interface {
	domain.Native
	Close() error
}

// openBackend starts the native module selected by cfg.Native.Backend.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (backend, error) {
	switch cfg.Native.Backend {
	case "wasm":
		return wasm.Open(ctx, cfg.Native, cfg.WASM, log)
	case "inproc", "":
		return inproc.New(cfg.Native, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidInput, cfg.Native.Backend)
	}
}

// session is a loaded config with its logger, tracer, native module and glue.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	native backend
	glue   *glue.Glue
	close  func()
}

func startSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	native, err := openBackend(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracer(ctx)
		_ = closeLog()
		return nil, err
	}
	g, err := glue.New(native, log)
	if err != nil {
		_ = native.Close()
		_ = shutdownTracer(ctx)
		_ = closeLog()
		return nil, err
	}

	return &session{
		cfg:    cfg,
		logger: log,
		native: native,
		glue:   g,
		close: func() {
			if err := g.Close(ctx); err != nil {
				log.Warn("glue close failed", "error", err)
			}
			if err := native.Close(); err != nil {
				log.Warn("native close failed", "error", err)
			}
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
			_ = closeLog()
		},
	}, nil
}

func runExec(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	dbPath := fs.String("db", ":memory:", "database file")
	fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sql := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("usage: sqlglue exec [--db PATH] <SQL>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := startSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return execSQL(ctx, s.glue, *dbPath, sql, out)
}

// execSQL opens path, runs sql and writes each result row as tab-separated values with
// a header line per distinct column set.
func execSQL(ctx context.Context, g *glue.Glue, path, sql string, out io.Writer) error {
	db, err := g.Open(ctx, path, domain.OpenReadWrite|domain.OpenCreate)
	if err != nil {
		return err
	}
	defer func() { _ = g.CloseDB(ctx, db) }()

	var header string
	err = g.Exec(ctx, db, sql, func(_ uint64, _ int, values []any, names []string) (int, error) {
		if h := strings.Join(names, "\t"); h != header {
			header = h
			if _, err := fmt.Fprintln(out, h); err != nil {
				return 1, err
			}
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		_, err := fmt.Fprintln(out, strings.Join(cells, "\t"))
		return 0, err
	}, 0)
	if err != nil {
		return err
	}
	if n, cerr := g.CallInt(ctx, "sqlite3_changes", db); cerr == nil && n > 0 {
		fmt.Fprintf(out, "-- %d row(s) changed\n", n)
	}
	return nil
}

func runSignatures(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("signatures", flag.ContinueOnError)
	group := fs.String("group", "", "only list one group: default, int64 or module")
	fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := startSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()

	return printSignatures(out, s.glue, *group)
}

func printSignatures(out io.Writer, g *glue.Glue, only string) error {
	bindings := g.Bindings()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tNAME\tRESULT\tARGS\tBINDING")
	found := false
	for _, grp := range []glue.Group{glue.GroupDefault, glue.GroupInt64, glue.GroupModule} {
		if only != "" && only != grp.String() {
			continue
		}
		found = true
		for _, s := range glue.Signatures(grp) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				grp, s.Name, s.Result, strings.Join(s.Args, ", "), bindings[s.Name])
		}
	}
	if !found {
		return fmt.Errorf("%w: unknown group %q", domain.ErrInvalidInput, only)
	}
	return w.Flush()
}

func runVersion(out io.Writer) error {
	fmt.Fprintf(out, "sqlglue %s\n", version)

	s, err := startSession(context.Background())
	if err != nil {
		fmt.Fprintf(out, "sqlite  unavailable (%v)\n", err)
		return nil
	}
	defer s.close()

	v, err := s.glue.Call(context.Background(), "sqlite3_libversion")
	if err != nil {
		fmt.Fprintf(out, "sqlite  unavailable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "sqlite  %v (%s backend)\n", v, s.cfg.Native.Backend)
	return nil
}
