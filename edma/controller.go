package edma

import (
	"context"
	"fmt"
	"time"

	"tdmstream.io/regs"
)

// State is the software-visible state of a channel.
type State int

const (
	Idle State = iota
	Armed
	Active
	Done
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Active:
		return "active"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Port is the descriptor register protocol of a DMA controller.
type Port interface {
	WriteDescriptor(ch int, d Descriptor) error
	Arm(ch int) error
	Disarm(ch int) error
	Status(ch int) (State, error)
}

// Register offsets from the controller base.
const (
	CR     = 0x000
	ES     = 0x004
	ERQ    = 0x00c
	INT    = 0x024
	ERR    = 0x02c
	HRS    = 0x034
	TCD0   = 0x1000
	tcdLen = 0x20

	// CR bits.
	crEDBG = 0b1 << 1
	crHOE  = 0b1 << 4
	crHALT = 0b1 << 5
	crEMLM = 0b1 << 7

	maxChannels = 32
)

// Controller drives an eDMA controller through its registers.
type Controller struct {
	Port     regs.Port
	Base     regs.Addr
	Channels int
}

func (c *Controller) reg(off regs.Addr) regs.Addr {
	return c.Base + off
}

func (c *Controller) tcd(ch, word int) regs.Addr {
	return c.Base + TCD0 + regs.Addr(ch*tcdLen+word*4)
}

func (c *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= c.Channels || ch >= maxChannels {
		return fmt.Errorf("edma: channel %d out of range", ch)
	}
	return nil
}

// Init enables minor loop mapping, required for minor loop
// offsets, and keeps the controller running in debug mode.
func (c *Controller) Init() error {
	if err := regs.Update(c.Port, c.reg(CR), crHALT|crHOE, crEMLM|crEDBG); err != nil {
		return fmt.Errorf("edma: set CR: %w", err)
	}
	return nil
}

func (c *Controller) WriteDescriptor(ch int, d Descriptor) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	t := Encode(d)
	for i, w := range t {
		if err := c.Port.Write(c.tcd(ch, i), w); err != nil {
			return fmt.Errorf("edma: write TCD%d word %d: %w", ch, i, err)
		}
	}
	return nil
}

// Descriptor reads back the live descriptor of channel ch, including
// the current addresses and iteration count.
func (c *Controller) Descriptor(ch int) (Descriptor, error) {
	if err := c.checkChannel(ch); err != nil {
		return Descriptor{}, err
	}
	var t TCD
	for i := range t {
		w, err := c.Port.Read(c.tcd(ch, i))
		if err != nil {
			return Descriptor{}, fmt.Errorf("edma: read TCD%d word %d: %w", ch, i, err)
		}
		t[i] = w
	}
	return Decode(t), nil
}

// Program validates d against a buffer of bufferBytes and installs
// it on an idle channel. Nothing is written if d is invalid.
func (c *Controller) Program(ch int, d Descriptor, bufferBytes int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	if err := d.Validate(bufferBytes); err != nil {
		return err
	}
	st, err := c.Status(ch)
	if err != nil {
		return err
	}
	if st != Idle {
		return fmt.Errorf("edma: program channel %d while %v: %w", ch, st, ErrPrecondition)
	}
	d.Active, d.Done = false, false
	return c.WriteDescriptor(ch, d)
}

// Arm enables hardware requests for channel ch.
func (c *Controller) Arm(ch int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	if err := regs.SetBits(c.Port, c.reg(ERQ), regs.Bit(uint8(ch))); err != nil {
		return fmt.Errorf("edma: set ERQ: %w", err)
	}
	return nil
}

// Disarm disables hardware requests for channel ch and clears its
// done and error flags. A minor loop in progress still completes.
func (c *Controller) Disarm(ch int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	bit := regs.Bit(uint8(ch))
	if err := regs.ClearBits(c.Port, c.reg(ERQ), bit); err != nil {
		return fmt.Errorf("edma: clear ERQ: %w", err)
	}
	if err := regs.ClearBits(c.Port, c.tcd(ch, wCSR_BITER), csrDONE|csrSTART); err != nil {
		return fmt.Errorf("edma: clear DONE: %w", err)
	}
	// ERR is write 1 to clear.
	if err := c.Port.Write(c.reg(ERR), bit); err != nil {
		return fmt.Errorf("edma: clear ERR: %w", err)
	}
	return nil
}

// Start requests one minor loop from software, regardless of the
// channel's hardware request.
func (c *Controller) Start(ch int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}
	return regs.SetBits(c.Port, c.tcd(ch, wCSR_BITER), csrSTART)
}

func (c *Controller) Status(ch int) (State, error) {
	if err := c.checkChannel(ch); err != nil {
		return Error, err
	}
	bit := regs.Bit(uint8(ch))
	errs, err := c.Port.Read(c.reg(ERR))
	if err != nil {
		return Error, fmt.Errorf("edma: read ERR: %w", err)
	}
	if errs&bit != 0 {
		return Error, nil
	}
	erq, err := c.Port.Read(c.reg(ERQ))
	if err != nil {
		return Error, fmt.Errorf("edma: read ERQ: %w", err)
	}
	csrBiter, err := c.Port.Read(c.tcd(ch, wCSR_BITER))
	if err != nil {
		return Error, fmt.Errorf("edma: read CSR: %w", err)
	}
	doffCiter, err := c.Port.Read(c.tcd(ch, wDOFF_CITER))
	if err != nil {
		return Error, fmt.Errorf("edma: read CITER: %w", err)
	}
	started := csrBiter&(csrACTIVE|csrDONE) != 0 ||
		fCITER.Get(doffCiter) != fBITER.Get(csrBiter)
	switch {
	// A minor loop in flight finishes even after the request is
	// disabled.
	case csrBiter&csrACTIVE != 0:
		return Active, nil
	case erq&bit != 0 && started:
		return Active, nil
	case erq&bit != 0:
		return Armed, nil
	case csrBiter&csrDONE != 0:
		return Done, nil
	default:
		return Idle, nil
	}
}

// WaitIdle polls until channel ch finishes its current minor loop.
func (c *Controller) WaitIdle(ctx context.Context, ch int) error {
	const interval = 50 * time.Microsecond
	for {
		csr, err := c.Port.Read(c.tcd(ch, wCSR_BITER))
		if err != nil {
			return fmt.Errorf("edma: read CSR: %w", err)
		}
		if csr&csrACTIVE == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("edma: channel %d still active: %w", ch, ctx.Err())
		case <-time.After(interval):
		}
	}
}
