package wasm

import (
	"fmt"
	"strings"
	"time"

	"sqlite-glue/internal/domain"
	"sqlite-glue/internal/infra/config"
)

// Capability constants name the host imports a module may link against.
const (
	CapLog  = "log"  // always allowed
	CapWASI = "wasi" // requires explicit grant
)

var knownCapabilities = map[string]bool{
	CapLog:  true,
	CapWASI: true,
}

// Sandbox holds the capabilities and per-call deadline granted to a module.
type Sandbox struct {
	capabilities map[string]bool
	callTimeout  time.Duration
}

// NewSandbox creates a Sandbox from the wasm config. Unknown capabilities are rejected.
func NewSandbox(cfg config.WASMConfig) (*Sandbox, error) {
	if err := ValidateCapabilities(cfg.Capabilities); err != nil {
		return nil, err
	}
	caps := map[string]bool{CapLog: true}
	for c := range knownCapabilities {
		if cfg.HasCapability(c) {
			caps[c] = true
		}
	}
	return &Sandbox{capabilities: caps, callTimeout: cfg.CallTimeout}, nil
}

// AllowCapability reports whether the given capability is permitted.
func (s *Sandbox) AllowCapability(c string) bool {
	return s.capabilities[c]
}

// CallTimeout returns the deadline for one top-level export call. Zero means none.
func (s *Sandbox) CallTimeout() time.Duration {
	return s.callTimeout
}

// ValidateCapabilities checks that all requested capabilities are known.
func ValidateCapabilities(requested []string) error {
	var unknown []string
	for _, c := range requested {
		if !knownCapabilities[strings.ToLower(c)] {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown capabilities: %v", domain.ErrInvalidInput, unknown)
	}
	return nil
}
