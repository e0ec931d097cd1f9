// Package dmamux routes peripheral DMA requests to eDMA channels and
// guards the channel lifecycle:
//
//	Idle -> Armed -> Active -> Done | Error -> Idle
//
// A channel is armed only when bound, programmed and idle. Changing a
// running transfer requires Stop and a new Program.
package dmamux

import (
	"context"
	"fmt"

	"tdmstream.io/edma"
	"tdmstream.io/regs"
)

// Source is a peripheral DMA request number.
type Source uint8

// Channel configuration bits.
const (
	CHCFG_ENBL = 0b1 << 7
	CHCFG_TRIG = 0b1 << 6
)

var CHCFG_SOURCE = regs.Field{Pos: 0, Width: 6}

// Engine is the transfer engine behind the router.
type Engine interface {
	edma.Port
	Program(ch int, d edma.Descriptor, bufferBytes int) error
	WaitIdle(ctx context.Context, ch int) error
}

// Router binds request sources to channels of Engine. Channel
// configurations are 32-bit registers starting at Base.
type Router struct {
	Port   regs.Port
	Base   regs.Addr
	Engine Engine

	bound      map[int]Source
	programmed map[int]bool
}

func (r *Router) chcfg(ch int) regs.Addr {
	return r.Base + regs.Addr(4*ch)
}

func (r *Router) idle(op string, ch int) error {
	st, err := r.Engine.Status(ch)
	if err != nil {
		return err
	}
	if st != edma.Idle {
		return fmt.Errorf("dmamux: %s channel %d while %v: %w", op, ch, st, edma.ErrPrecondition)
	}
	return nil
}

// Bind routes requests from src to channel ch.
func (r *Router) Bind(src Source, ch int) error {
	if !CHCFG_SOURCE.Fits(uint32(src)) {
		return fmt.Errorf("dmamux: %w: source %d", edma.ErrConfig, src)
	}
	if err := r.idle("bind", ch); err != nil {
		return err
	}
	// The slot must be disabled while its source changes.
	if err := r.Port.Write(r.chcfg(ch), 0); err != nil {
		return fmt.Errorf("dmamux: disable CHCFG%d: %w", ch, err)
	}
	if err := r.Port.Write(r.chcfg(ch), CHCFG_ENBL|CHCFG_SOURCE.Put(uint32(src))); err != nil {
		return fmt.Errorf("dmamux: set CHCFG%d: %w", ch, err)
	}
	if r.bound == nil {
		r.bound = make(map[int]Source)
	}
	r.bound[ch] = src
	return nil
}

// Program installs d on idle channel ch.
func (r *Router) Program(ch int, d edma.Descriptor, bufferBytes int) error {
	if err := r.Engine.Program(ch, d, bufferBytes); err != nil {
		return err
	}
	if r.programmed == nil {
		r.programmed = make(map[int]bool)
	}
	r.programmed[ch] = true
	return nil
}

// Arm lets requests of the bound source start transfers on ch.
func (r *Router) Arm(ch int) error {
	if _, ok := r.bound[ch]; !ok {
		return fmt.Errorf("dmamux: arm unbound channel %d: %w", ch, edma.ErrPrecondition)
	}
	if !r.programmed[ch] {
		return fmt.Errorf("dmamux: arm unprogrammed channel %d: %w", ch, edma.ErrPrecondition)
	}
	if err := r.idle("arm", ch); err != nil {
		return err
	}
	return r.Engine.Arm(ch)
}

// Disarm stops new requests on ch. A minor loop in progress
// completes; use Stop to wait for it. The channel must be programmed
// again before the next Arm.
func (r *Router) Disarm(ch int) error {
	delete(r.programmed, ch)
	return r.Engine.Disarm(ch)
}

// Stop disarms ch, waits for the channel to go quiet, and disables
// its request slot. The channel must be bound and programmed again
// before the next Arm.
func (r *Router) Stop(ctx context.Context, ch int) error {
	if err := r.Engine.Disarm(ch); err != nil {
		return err
	}
	if err := r.Engine.WaitIdle(ctx, ch); err != nil {
		return fmt.Errorf("dmamux: stop channel %d: %w", ch, err)
	}
	// The last minor loop may have flagged completion.
	if err := r.Engine.Disarm(ch); err != nil {
		return err
	}
	if err := regs.ClearBits(r.Port, r.chcfg(ch), CHCFG_ENBL|CHCFG_TRIG); err != nil {
		return fmt.Errorf("dmamux: disable CHCFG%d: %w", ch, err)
	}
	delete(r.bound, ch)
	delete(r.programmed, ch)
	return nil
}

func (r *Router) State(ch int) (edma.State, error) {
	return r.Engine.Status(ch)
}

// Source returns the source bound to ch.
func (r *Router) Source(ch int) (Source, bool) {
	src, ok := r.bound[ch]
	return src, ok
}
