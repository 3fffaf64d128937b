package glue

import (
	"fmt"
	"log/slog"
	"sync"

	"sqlite-glue/internal/domain"
)

// CallKind selects how a trampoline decodes its arguments and encodes its result.
type CallKind int

const (
	// CallScalar decodes (context, argc, argv) and sets the closure's result.
	CallScalar CallKind = iota
	// CallStep decodes (context, argc, argv) and ignores the closure's result.
	CallStep
	// CallFinal decodes (context) and sets the closure's result.
	CallFinal
	// CallDestroy decodes one opaque pointer; failures are only logged.
	CallDestroy
)

func (k CallKind) String() string {
	switch k {
	case CallScalar:
		return "scalar"
	case CallStep:
		return "step"
	case CallFinal:
		return "final"
	case CallDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Signature returns the native signature trampolines of this kind are installed with.
func (k CallKind) Signature() domain.CallSignature {
	switch k {
	case CallFinal, CallDestroy:
		return domain.SigVP
	default:
		return domain.SigVPIP
	}
}

// Ownership tracks who may free a slot.
type Ownership int32

const (
	OwnedByHost Ownership = iota
	Transferred
	Released
)

func (o Ownership) String() string {
	switch o {
	case OwnedByHost:
		return "owned-by-host"
	case Transferred:
		return "transferred"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Slot is one installed trampoline.
type Slot struct {
	Addr  uint64
	Sig   domain.CallSignature
	Label string
	state Ownership
}

// State returns the slot's current ownership.
func (s *Slot) State() Ownership { return s.state }

// Bridge installs host functions into the native function table and tracks their
// ownership until they are released.
type Bridge struct {
	table  domain.FunctionTable
	logger *slog.Logger

	mu    sync.Mutex
	slots map[uint64]*Slot
}

func newBridge(table domain.FunctionTable, logger *slog.Logger) *Bridge {
	return &Bridge{table: table, logger: logger, slots: make(map[uint64]*Slot)}
}

// Install publishes fn under sig and returns the host-owned slot.
func (b *Bridge) Install(sig domain.CallSignature, label string, fn domain.HostFunc) (*Slot, error) {
	addr, err := b.table.Install(sig, fn)
	if err != nil {
		return nil, fmt.Errorf("install %s trampoline for %s: %w", sig, label, err)
	}
	s := &Slot{Addr: addr, Sig: sig, Label: label}
	b.mu.Lock()
	b.slots[addr] = s
	b.mu.Unlock()
	b.logger.Debug("slot installed", "slot_addr", addr, "sig", string(sig), "func", label)
	return s, nil
}

// Uninstall frees a host-owned slot. It is a no-op for an already released slot and
// refuses a slot whose ownership was transferred to the native side.
func (b *Bridge) Uninstall(s *Slot) error {
	if s == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s.state {
	case Released:
		return nil
	case Transferred:
		return fmt.Errorf("%w: %s slot %d", domain.ErrSlotOwnership, s.Label, s.Addr)
	}
	return b.freeLocked(s)
}

// Transfer hands a host-owned slot to the native side.
func (b *Bridge) Transfer(s *Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.state == OwnedByHost {
		s.state = Transferred
	}
}

// Reclaim frees a slot regardless of ownership. It backs the native destroy
// notification and shutdown.
func (b *Bridge) Reclaim(s *Slot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s.state {
	case Released:
		return nil
	case Transferred:
		b.logger.Warn("reclaiming slot still held by native side", "slot_addr", s.Addr, "func", s.Label)
	}
	return b.freeLocked(s)
}

func (b *Bridge) freeLocked(s *Slot) error {
	if err := b.table.Uninstall(s.Addr); err != nil {
		return fmt.Errorf("uninstall %s slot %d: %w", s.Label, s.Addr, err)
	}
	s.state = Released
	if cur, ok := b.slots[s.Addr]; ok && cur == s {
		delete(b.slots, s.Addr)
	}
	b.logger.Debug("slot released", "slot_addr", s.Addr, "func", s.Label)
	return nil
}

// Installed reports how many slots the bridge still holds.
func (b *Bridge) Installed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// reclaimAll frees every remaining slot.
func (b *Bridge) reclaimAll() error {
	b.mu.Lock()
	pending := make([]*Slot, 0, len(b.slots))
	for _, s := range b.slots {
		pending = append(pending, s)
	}
	b.mu.Unlock()

	var firstErr error
	for _, s := range pending {
		if err := b.Reclaim(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registration is the pending-uninstall set of one multi-callback registration.
type registration struct {
	b     *Bridge
	label string
	slots []*Slot
}

func (b *Bridge) newRegistration(label string) *registration {
	return &registration{b: b, label: label}
}

func (r *registration) install(sig domain.CallSignature, role string, fn domain.HostFunc) (*Slot, error) {
	s, err := r.b.Install(sig, r.label+"."+role, fn)
	if err != nil {
		return nil, err
	}
	r.slots = append(r.slots, s)
	return s, nil
}

// rollback uninstalls every slot still owned by the host. Safe to call repeatedly.
func (r *registration) rollback() {
	for i := len(r.slots) - 1; i >= 0; i-- {
		if err := r.b.Uninstall(r.slots[i]); err != nil {
			r.b.logger.Error("rollback failed", "func", r.label, "slot_addr", r.slots[i].Addr, "error", err)
		}
	}
}

func (r *registration) transfer() {
	for _, s := range r.slots {
		r.b.Transfer(s)
	}
}

// release runs on the native destroy notification.
func (r *registration) release() {
	for i := len(r.slots) - 1; i >= 0; i-- {
		if err := r.b.Reclaim(r.slots[i]); err != nil {
			r.b.logger.Error("release failed", "func", r.label, "slot_addr", r.slots[i].Addr, "error", err)
		}
	}
}
