package board

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"tdmstream.io/regs"
)

// Watchdog registers.
const (
	WDOG_CS    = 0x00
	WDOG_CNT   = 0x04
	WDOG_TOVAL = 0x08

	WDOG_UNLOCK = 0xd928_c520
	// Update allowed, 32-bit command writes, watchdog disabled.
	wdogCSDisabled = 0x2100
	wdogTimeoutMax = 0xffff
)

// System clock generator registers.
const (
	SCG_CSR     = 0x010
	SCG_RCCR    = 0x014
	SCG_SOSCCSR = 0x100
	SCG_SOSCDIV = 0x104
	SCG_SOSCCFG = 0x108
	SCG_SIRCDIV = 0x204
	SCG_SPLLCSR = 0x600
	SCG_SPLLDIV = 0x604
	SCG_SPLLCFG = 0x608

	// Clock source control bits, shared by SOSCCSR and SPLLCSR.
	SCG_EN  = 0b1 << 0
	SCG_LK  = 0b1 << 23
	SCG_VLD = 0b1 << 24

	// Medium frequency range, crystal reference.
	soscCfgCrystal = 0x24
	// Asynchronous peripheral dividers: /1 for the oscillators,
	// /2 and /4 for the PLL.
	soscDiv = 0x101
	sircDiv = 0x101
	spllDiv = 0x302

	sourcePLL = 6
)

var (
	SCG_SCS    = regs.Field{Pos: 24, Width: 4}
	scgDIVCORE = regs.Field{Pos: 16, Width: 4}
	scgDIVBUS  = regs.Field{Pos: 4, Width: 4}
	scgDIVSLOW = regs.Field{Pos: 0, Width: 4}
	spllPREDIV = regs.Field{Pos: 8, Width: 3}
	spllMULT   = regs.Field{Pos: 16, Width: 5}
	pcrMUX     = regs.Field{Pos: 8, Width: 3}
	PCC_CGC    = regs.Bit(30)
)

const pollRetries = 10000

type dividers struct {
	prediv, mult    uint32
	core, bus, slow uint32
}

// ratio returns num/den when it is a whole number in [1, limit].
func ratio(num, den physic.Frequency, limit int64) (uint32, bool) {
	if num <= 0 || den <= 0 || num%den != 0 {
		return 0, false
	}
	r := int64(num / den)
	return uint32(r), r >= 1 && r <= limit
}

func (b *Board) clockDividers() (dividers, error) {
	c := b.Clocks
	var d dividers
	// The PLL output is half its VCO, which runs at
	// crystal / (PREDIV+1) * (MULT+16).
	vco := 2 * c.PLL.Frequency
	found := false
	for pre := int64(1); pre <= 8 && !found; pre++ {
		m, ok := ratio(vco*physic.Frequency(pre), c.Crystal.Frequency, 16+31)
		if ok && m >= 16 {
			d.prediv, d.mult, found = uint32(pre-1), m-16, true
		}
	}
	if !found {
		return d, fmt.Errorf("no PLL setting yields %v from %v", c.PLL, c.Crystal)
	}
	var ok bool
	if d.core, ok = ratio(c.PLL.Frequency, c.Core.Frequency, 16); !ok {
		return d, fmt.Errorf("core clock %v doesn't divide %v", c.Core, c.PLL)
	}
	if d.bus, ok = ratio(c.Core.Frequency, c.Bus.Frequency, 16); !ok {
		return d, fmt.Errorf("bus clock %v doesn't divide %v", c.Bus, c.Core)
	}
	if d.slow, ok = ratio(c.Core.Frequency, c.Slow.Frequency, 8); !ok {
		return d, fmt.Errorf("slow clock %v doesn't divide %v", c.Slow, c.Core)
	}
	return d, nil
}

// SAIClock is the master clock of the audio interface.
func (b *Board) SAIClock() physic.Frequency {
	return b.Clocks.Bus.Frequency
}

// DisableWatchdog unlocks and disables the watchdog. It must run
// within the unlock window after reset.
func (b *Board) DisableWatchdog(p regs.Port) error {
	base := b.Peripherals.WDOG
	writes := []struct {
		reg regs.Addr
		val uint32
	}{
		{WDOG_CNT, WDOG_UNLOCK},
		{WDOG_TOVAL, wdogTimeoutMax},
		{WDOG_CS, wdogCSDisabled},
	}
	for _, w := range writes {
		if err := p.Write(base+w.reg, w.val); err != nil {
			return fmt.Errorf("board: watchdog: %w", err)
		}
	}
	return nil
}

// StartClocks brings up the crystal oscillator and the PLL and
// switches the system clocks to the PLL.
func (b *Board) StartClocks(p regs.Port) error {
	d, err := b.clockDividers()
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	scg := b.Peripherals.SCG
	type step struct {
		name       string
		reg        regs.Addr
		val        uint32
		mask, want uint32
	}
	poll := func(name string, reg regs.Addr, mask, want uint32) step {
		return step{name: name, reg: reg, mask: mask, want: want}
	}
	write := func(name string, reg regs.Addr, val uint32) step {
		return step{name: name, reg: reg, val: val}
	}
	rccr := SCG_SCS.Put(sourcePLL) |
		scgDIVCORE.Put(d.core-1) |
		scgDIVBUS.Put(d.bus-1) |
		scgDIVSLOW.Put(d.slow-1)
	steps := []step{
		poll("SOSC unlocked", scg+SCG_SOSCCSR, SCG_LK, 0),
		write("SOSCDIV", scg+SCG_SOSCDIV, soscDiv),
		write("SOSCCFG", scg+SCG_SOSCCFG, soscCfgCrystal),
		write("SOSCCSR", scg+SCG_SOSCCSR, SCG_EN),
		poll("SOSC valid", scg+SCG_SOSCCSR, SCG_VLD, SCG_VLD),

		poll("SPLL unlocked", scg+SCG_SPLLCSR, SCG_LK, 0),
		write("SPLLCSR", scg+SCG_SPLLCSR, 0),
		write("SPLLDIV", scg+SCG_SPLLDIV, spllDiv),
		write("SPLLCFG", scg+SCG_SPLLCFG, spllPREDIV.Put(d.prediv)|spllMULT.Put(d.mult)),
		write("SPLLCSR", scg+SCG_SPLLCSR, SCG_EN),
		poll("SPLL valid", scg+SCG_SPLLCSR, SCG_VLD, SCG_VLD),

		write("SIRCDIV", scg+SCG_SIRCDIV, sircDiv),
		write("RCCR", scg+SCG_RCCR, rccr),
		poll("PLL selected", scg+SCG_CSR, SCG_SCS.Mask(), SCG_SCS.Put(sourcePLL)),
	}
	for _, s := range steps {
		var err error
		if s.mask != 0 {
			err = regs.Poll(p, s.reg, s.mask, s.want, pollRetries)
		} else {
			err = p.Write(s.reg, s.val)
		}
		if err != nil {
			return fmt.Errorf("board: clocks: %s: %w", s.name, err)
		}
	}
	return nil
}

// EnableClocks opens the clock gates of the named peripherals.
func (b *Board) EnableClocks(p regs.Port, names ...string) error {
	for _, n := range names {
		off, ok := b.Gates[n]
		if !ok {
			return fmt.Errorf("board: %w: clock gate %q", ErrNotFound, n)
		}
		if err := regs.SetBits(p, b.Peripherals.PCC+off, PCC_CGC); err != nil {
			return fmt.Errorf("board: clock gate %s: %w", n, err)
		}
	}
	return nil
}

// PCR returns the pin control register of pin n of port.
func (b *Board) PCR(port string, n int) regs.Addr {
	return b.Peripherals.Ports[port] + regs.Addr(4*n)
}

// MuxPins routes every pin of the board to its function.
func (b *Board) MuxPins(p regs.Port) error {
	for _, pin := range b.Pins {
		if err := regs.Update(p, b.PCR(pin.Port, pin.Pin), pcrMUX.Mask(), pcrMUX.Put(pin.Mux)); err != nil {
			return fmt.Errorf("board: mux %s: %w", pin.Func, err)
		}
	}
	return nil
}
