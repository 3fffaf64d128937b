package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateNative(cfg, ve)
	validateWASM(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validBackends = map[string]bool{
	"inproc": true,
	"wasm":   true,
}

func validateNative(cfg *Config, ve *ValidationError) {
	if !validBackends[cfg.Native.Backend] {
		ve.Add("native.backend %q is invalid (valid: inproc, wasm)", cfg.Native.Backend)
	}
	if cfg.Native.MaxSlots <= 0 {
		ve.Add("native.max_slots must be > 0")
	}
}

var validCapabilities = map[string]bool{
	"wasi": true,
	"log":  true,
}

// maxMemoryPages is the wasm32 address space in 64 KiB pages.
const maxMemoryPages = 65536

func validateWASM(cfg *Config, ve *ValidationError) {
	w := cfg.WASM
	if cfg.Native.Backend == "wasm" && w.Path == "" {
		ve.Add("wasm.path is required when native.backend is \"wasm\"")
	}
	if w.MemoryLimitPages == 0 || w.MemoryLimitPages > maxMemoryPages {
		ve.Add("wasm.memory_limit_pages must be in [1, %d]", maxMemoryPages)
	}
	if w.CallTimeout < 0 {
		ve.Add("wasm.call_timeout must be >= 0")
	}
	for _, c := range w.Capabilities {
		if !validCapabilities[strings.ToLower(c)] {
			ve.Add("wasm.capabilities: unknown capability %q", c)
		}
	}
	if w.Exports.Malloc == "" || w.Exports.Free == "" {
		ve.Add("wasm.exports.malloc and wasm.exports.free must not be empty")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: noop, stdout)", cfg.Tracer.Exporter)
	}
}
