package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/glue"
	"sqlite-glue/internal/infra/config"
	"sqlite-glue/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// probe is what the doctor learned by starting the backend.
type probe struct {
	cfg      *config.Config
	native   domain.Native
	bindings map[string]glue.Binding
	err      error
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(p *probe) CheckResult
}

// slotCapacity is implemented by both backends' function tables.
type slotCapacity interface {
	Capacity(sig domain.CallSignature) int
}

func runDoctor(out io.Writer) error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	p := &probe{cfg: cfg}
	if cfg != nil {
		ctx := context.Background()
		native, err := openBackend(ctx, cfg, logger.Discard())
		if err == nil {
			defer native.Close()
			var g *glue.Glue
			if g, err = glue.New(native, logger.Discard()); err == nil {
				p.bindings = g.Bindings()
				defer g.Close(ctx)
			}
			p.native = native
		}
		p.err = err
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Native backend", Fn: checkBackend},
		{Name: "Core exports", Fn: checkCoreExports},
		{Name: "64-bit integers", Fn: checkBigInt},
		{Name: "Function table", Fn: checkSlots},
		{Name: "DB error channel", Fn: checkDBErrorChannel},
	}
	return report(out, checks, p)
}

func report(out io.Writer, checks []Check, p *probe) error {
	fmt.Fprintln(out, "sqlglue doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(p)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config parsed. A missing file is fine: the
// defaults select the in-process backend.
func checkConfigFile(cfgPath string, cfgErr error) func(*probe) CheckResult {
	return func(_ *probe) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and permissions", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("no file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkBackend(p *probe) CheckResult {
	if p.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if p.err != nil {
		fix := ""
		if p.cfg.Native.Backend == "wasm" {
			fix = "Set wasm.path (or SQLGLUE_WASM_PATH) to a sqlite wasm build"
		}
		return CheckResult{Status: StatusFail, Message: p.err.Error(), Fix: fix}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s backend started, pointer size %d", p.cfg.Native.Backend, p.native.Memory().PointerSize()),
	}
}

const dbErrorExport = "sqlite3__wasm_db_error"

// coreExports must be bound for the glue to be usable.
var coreExports = []string{
	"sqlite3_open_v2", "sqlite3_close_v2", "sqlite3_exec", "sqlite3_prepare_v3",
	"sqlite3_step", "sqlite3_finalize", "sqlite3_errmsg", "sqlite3_create_function_v2",
}

func checkCoreExports(p *probe) CheckResult {
	if p.bindings == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, backend not started"}
	}
	var missing []string
	total := 0
	for name, b := range p.bindings {
		if b == glue.BindingMissing && name != dbErrorExport {
			total++
		}
	}
	for _, name := range coreExports {
		if p.bindings[name] == glue.BindingMissing || p.bindings[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("missing: %s", strings.Join(missing, ", ")),
			Fix:     "Rebuild the native module with these functions exported",
		}
	}
	if total > 0 {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("core bound; %d optional export(s) missing", total)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d entries bound", len(p.bindings))}
}

func checkBigInt(p *probe) CheckResult {
	if p.native == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, backend not started"}
	}
	if !p.native.BigIntEnabled() {
		return CheckResult{
			Status:  StatusWarn,
			Message: "disabled; int64 entry points are stand-ins and integers widen to float64",
			Fix:     "Set native.big_int: true",
		}
	}
	return CheckResult{Status: StatusPass, Message: "enabled"}
}

func checkSlots(p *probe) CheckResult {
	if p.native == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, backend not started"}
	}
	sc, ok := p.native.Table().(slotCapacity)
	if !ok {
		return CheckResult{Status: StatusWarn, Message: "table does not report capacity"}
	}
	parts := make([]string, 0, len(domain.KnownSignatures))
	var empty []string
	for _, sig := range domain.KnownSignatures {
		n := sc.Capacity(sig)
		parts = append(parts, fmt.Sprintf("%s=%d", sig, n))
		if n == 0 {
			empty = append(empty, string(sig))
		}
	}
	if len(empty) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(parts, " "),
			Fix:     fmt.Sprintf("The module reserves no stubs for %s; host callbacks cannot be installed", strings.Join(empty, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: strings.Join(parts, " ")}
}

func checkDBErrorChannel(p *probe) CheckResult {
	if p.native == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check, backend not started"}
	}
	if p.native.HasExport(dbErrorExport) {
		return CheckResult{Status: StatusPass, Message: "native sqlite3__wasm_db_error"}
	}
	return CheckResult{Status: StatusPass, Message: "host-side error table"}
}
