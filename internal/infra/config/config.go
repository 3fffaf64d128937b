package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Native   NativeConfig `yaml:"native"`
	WASM     WASMConfig   `yaml:"wasm"`
	Logger   LoggerConfig `yaml:"logger"`
	Tracer   TracerConfig `yaml:"tracer"`
	Includes []string     `yaml:"includes,omitempty"`
}

// NativeConfig selects and tunes the native module backend.
type NativeConfig struct {
	Backend  string `yaml:"backend"`   // "inproc" or "wasm"
	BigInt   bool   `yaml:"big_int"`   // 64-bit integers cross the boundary natively
	MaxSlots int    `yaml:"max_slots"` // function table slots per signature
}

// WASMConfig holds settings for the wazero backend.
type WASMConfig struct {
	Path             string        `yaml:"path"`
	MemoryLimitPages uint32        `yaml:"memory_limit_pages"` // 64 KiB pages, default 512 (32 MiB)
	CallTimeout      time.Duration `yaml:"call_timeout"`       // 0 = no deadline
	Capabilities     []string      `yaml:"capabilities"`       // "wasi", "log"
	Exports          ExportNames   `yaml:"exports"`
}

// ExportNames maps glue roles to module export names.
type ExportNames struct {
	Malloc        string `yaml:"malloc"`
	Free          string `yaml:"free"`
	DeallocGlobal string `yaml:"dealloc_global"` // global holding the table index of free
	StubPrefix    string `yaml:"stub_prefix"`    // globals <prefix><sig> and <prefix><sig>_count
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Native: NativeConfig{
			Backend:  "inproc",
			BigInt:   true,
			MaxSlots: 128,
		},
		WASM: WASMConfig{
			MemoryLimitPages: 512,
			Capabilities:     []string{"log"},
			Exports: ExportNames{
				Malloc:        "sqlite3_malloc",
				Free:          "sqlite3_free",
				DeallocGlobal: "glue_dealloc",
				StubPrefix:    "glue_stubs_",
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SQLGLUE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLGLUE_NATIVE_BACKEND"); v != "" {
		cfg.Native.Backend = v
	}
	if v := os.Getenv("SQLGLUE_NATIVE_BIG_INT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Native.BigInt = b
		}
	}
	if v := os.Getenv("SQLGLUE_NATIVE_MAX_SLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Native.MaxSlots = n
		}
	}
	if v := os.Getenv("SQLGLUE_WASM_PATH"); v != "" {
		cfg.WASM.Path = v
	}
	if v := os.Getenv("SQLGLUE_WASM_MEMORY_LIMIT_PAGES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.WASM.MemoryLimitPages = uint32(n)
		}
	}
	if v := os.Getenv("SQLGLUE_WASM_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.WASM.CallTimeout = d
		}
	}
	if v := os.Getenv("SQLGLUE_WASM_CAPABILITIES"); v != "" {
		cfg.WASM.Capabilities = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SQLGLUE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SQLGLUE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SQLGLUE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("SQLGLUE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SQLGLUE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep, trims whitespace, and drops empty entries.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasCapability reports whether the wasm backend was granted name.
func (c WASMConfig) HasCapability(name string) bool {
	for _, cp := range c.Capabilities {
		if strings.EqualFold(cp, name) {
			return true
		}
	}
	return false
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
