package glue

import (
	"context"
	"fmt"

	"sqlite-glue/internal/domain"
)

// Call is the per-invocation scope handed to adapters. Memory allocated through it is
// released, most recent first, when the invocation returns on any path.
type Call struct {
	ctx    context.Context
	g      *Glue
	allocs []uint64
}

func (g *Glue) newCall(ctx context.Context) *Call {
	return &Call{ctx: ctx, g: g}
}

// Context returns the context of the native call in progress.
func (c *Call) Context() context.Context { return c.ctx }

// Glue returns the glue instance the call belongs to.
func (c *Call) Glue() *Glue { return c.g }

// Alloc reserves n bytes of native memory for the lifetime of the call.
func (c *Call) Alloc(n uint32) (uint64, error) {
	if n == 0 {
		n = 1
	}
	addr, err := c.g.native.Allocator().Alloc(c.ctx, n)
	if err != nil {
		return 0, fmt.Errorf("%w: %d bytes: %v", domain.ErrAllocation, n, err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("%w: %d bytes", domain.ErrAllocation, n)
	}
	c.allocs = append(c.allocs, addr)
	return addr, nil
}

// CString copies s plus a terminating NUL into call-scoped native memory.
func (c *Call) CString(s string) (uint64, error) {
	addr, err := c.Alloc(uint32(len(s) + 1))
	if err != nil {
		return 0, err
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	if err := c.g.native.Memory().Write(addr, buf); err != nil {
		return 0, err
	}
	return addr, nil
}

// OutPointer reserves one zeroed pointer-width output cell.
func (c *Call) OutPointer() (uint64, error) {
	size := c.g.native.Memory().PointerSize()
	addr, err := c.Alloc(size)
	if err != nil {
		return 0, err
	}
	if err := c.g.native.Memory().Poke(addr, domain.WidthPtr, 0); err != nil {
		return 0, err
	}
	return addr, nil
}

// release frees every allocation made during the call.
func (c *Call) release() {
	alloc := c.g.native.Allocator()
	for i := len(c.allocs) - 1; i >= 0; i-- {
		alloc.Free(c.ctx, c.allocs[i])
	}
	c.allocs = nil
}

// Pending reports how many call-scoped allocations are still held.
func (c *Call) Pending() int { return len(c.allocs) }
