// Package sai configures the transmitter of a synchronous audio
// interface for time-division multiplexed framing.
package sai

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"tdmstream.io/regs"
)

var (
	ErrConfig  = errors.New("sai: invalid frame configuration")
	ErrEnabled = errors.New("sai: transmitter enabled")
)

// Register offsets from the peripheral base.
const (
	VERID = 0x00
	PARAM = 0x04
	TCSR  = 0x08
	TCR1  = 0x0c
	TCR2  = 0x10
	TCR3  = 0x14
	TCR4  = 0x18
	TCR5  = 0x1c
	TDR0  = 0x20
	TFR0  = 0x40
	TMR   = 0x60
	RCSR  = 0x88
)

// Control and status bits, shared by TCSR and RCSR.
const (
	CSR_FRDE  = 0b1 << 0
	CSR_FWDE  = 0b1 << 1
	CSR_FRF   = 0b1 << 16
	CSR_FWF   = 0b1 << 17
	CSR_FEF   = 0b1 << 18
	CSR_SEF   = 0b1 << 19
	CSR_WSF   = 0b1 << 20
	CSR_SR    = 0b1 << 24
	CSR_FR    = 0b1 << 25
	CSR_BCE   = 0b1 << 28
	CSR_DBGE  = 0b1 << 29
	CSR_STOPE = 0b1 << 30
	CSR_E     = 0b1 << 31

	// Write 1 to clear flags.
	csrW1C = CSR_FEF | CSR_SEF | CSR_WSF
)

var (
	TCR1_TFW   = regs.Field{Pos: 0, Width: 5}
	TCR2_DIV   = regs.Field{Pos: 0, Width: 8}
	TCR2_BCD   = regs.Bit(24)
	TCR2_BCP   = regs.Bit(25)
	TCR2_MSEL  = regs.Field{Pos: 26, Width: 2}
	TCR2_SYNC  = regs.Field{Pos: 30, Width: 2}
	TCR3_WDFL  = regs.Field{Pos: 0, Width: 5}
	TCR3_TCE   = regs.Field{Pos: 16, Width: 4}
	TCR4_FSD   = regs.Bit(0)
	TCR4_FSP   = regs.Bit(1)
	TCR4_FSE   = regs.Bit(3)
	TCR4_MF    = regs.Bit(4)
	TCR4_SYWD  = regs.Field{Pos: 8, Width: 5}
	TCR4_FRSZ  = regs.Field{Pos: 16, Width: 5}
	TCR4_FCOMB = regs.Field{Pos: 26, Width: 2}
	TCR5_FBT   = regs.Field{Pos: 8, Width: 5}
	TCR5_W0W   = regs.Field{Pos: 16, Width: 5}
	TCR5_WNW   = regs.Field{Pos: 24, Width: 5}
	TFR_WFP    = regs.Field{Pos: 16, Width: 6}
)

const maxDivisor = 0xff

// Role selects who drives the bit clock and frame sync.
type Role uint8

const (
	Master Role = iota
	Slave
)

// Combine selects the FIFO combine mode.
type Combine uint8

const (
	CombineNone Combine = iota
	// CombineShift fills the enabled lines from the first FIFO
	// as the shift registers drain it.
	CombineShift
	// CombineWrite spreads writes to the first data register over
	// the FIFOs of the enabled lines.
	CombineWrite
	CombineBoth
)

// FrameConfig describes a TDM frame.
type FrameConfig struct {
	// WordBits is the width of every slot.
	WordBits int
	// Slots is the number of words in a frame.
	Slots int
	// Watermark is the FIFO level at or below which the
	// transmitter requests data.
	Watermark  int
	SampleRate physic.Frequency
	Role       Role
	// SlotMask disables the slots whose bit is set.
	SlotMask uint32
	MSBFirst bool
	// FrameSyncEarly asserts the frame sync one bit before the
	// first bit of the frame.
	FrameSyncEarly     bool
	FrameSyncActiveLow bool
	// SyncWidth is the frame sync length in bit clocks. Zero
	// means one.
	SyncWidth         int
	BitClockActiveLow bool
	Combine           Combine
}

// Geometry is a validated frame with its derived clocking.
type Geometry struct {
	FrameConfig
	// Divisor is the bit clock divider field. It is zero in the
	// slave role.
	Divisor int
	// FrameBits is the number of bit clocks in a frame.
	FrameBits int
	// BitClock is the generated bit clock.
	BitClock physic.Frequency
}

// Divisor computes the bit clock divider field that best matches
// the sample rate:
//
//	round(mclk / (wordBits * slots * rate * 2)) - 1
func Divisor(mclk, rate physic.Frequency, wordBits, slots int) (int, error) {
	d := rate * physic.Frequency(wordBits*slots*2)
	if mclk <= 0 || d <= 0 {
		return 0, fmt.Errorf("%w: clock %v for %v x %d x %d bits", ErrConfig, mclk, rate, slots, wordBits)
	}
	div := int64((mclk+d/2)/d) - 1
	if div < 0 || div > maxDivisor {
		return 0, fmt.Errorf("%w: divisor %d for %v from %v out of range", ErrConfig, div, rate, mclk)
	}
	return int(div), nil
}

// Transmitter is the transmit half of an audio interface.
type Transmitter struct {
	Port regs.Port
	Base regs.Addr
	// MasterClock feeds the bit clock divider.
	MasterClock physic.Frequency
	// FIFODepth is the number of words in each line's FIFO.
	FIFODepth int
	// Lines is the number of data lines.
	Lines int
}

func (t *Transmitter) reg(off regs.Addr) regs.Addr {
	return t.Base + off
}

// Validate checks cfg against the transmitter without touching any
// register.
func (t *Transmitter) Validate(cfg FrameConfig) (Geometry, error) {
	g := Geometry{FrameConfig: cfg}
	switch {
	case cfg.WordBits < 8 || cfg.WordBits > 32:
		return g, fmt.Errorf("%w: word size %d", ErrConfig, cfg.WordBits)
	case cfg.Slots < 1 || cfg.Slots > 32:
		return g, fmt.Errorf("%w: slot count %d", ErrConfig, cfg.Slots)
	case cfg.Watermark < 1 || cfg.Watermark > t.FIFODepth:
		return g, fmt.Errorf("%w: watermark %d outside FIFO of %d", ErrConfig, cfg.Watermark, t.FIFODepth)
	case cfg.SyncWidth < 0 || cfg.SyncWidth > cfg.WordBits:
		return g, fmt.Errorf("%w: frame sync width %d", ErrConfig, cfg.SyncWidth)
	case cfg.Slots < 32 && cfg.SlotMask>>cfg.Slots != 0:
		return g, fmt.Errorf("%w: slot mask %#x beyond %d slots", ErrConfig, cfg.SlotMask, cfg.Slots)
	case cfg.Role != Master && cfg.Role != Slave:
		return g, fmt.Errorf("%w: role %d", ErrConfig, cfg.Role)
	case cfg.Combine > CombineBoth:
		return g, fmt.Errorf("%w: combine mode %d", ErrConfig, cfg.Combine)
	}
	g.FrameBits = cfg.WordBits * cfg.Slots
	if cfg.Role == Master {
		div, err := Divisor(t.MasterClock, cfg.SampleRate, cfg.WordBits, cfg.Slots)
		if err != nil {
			return g, err
		}
		g.Divisor = div
		g.BitClock = t.MasterClock / physic.Frequency(2*(div+1))
	} else if cfg.SampleRate <= 0 {
		return g, fmt.Errorf("%w: sample rate %v", ErrConfig, cfg.SampleRate)
	} else {
		g.BitClock = cfg.SampleRate * physic.Frequency(g.FrameBits)
	}
	return g, nil
}

// Configure applies cfg to a disabled transmitter. Nothing is
// written unless cfg is valid and the transmitter is disabled.
func (t *Transmitter) Configure(cfg FrameConfig) (Geometry, error) {
	g, err := t.Validate(cfg)
	if err != nil {
		return g, err
	}
	csr, err := t.Port.Read(t.reg(TCSR))
	if err != nil {
		return g, fmt.Errorf("sai: read TCSR: %w", err)
	}
	if csr&CSR_E != 0 {
		return g, ErrEnabled
	}
	// The receiver shares the bit clock in synchronous mode.
	rcsr, err := t.Port.Read(t.reg(RCSR))
	if err != nil {
		return g, fmt.Errorf("sai: read RCSR: %w", err)
	}
	if rcsr&CSR_E != 0 {
		return g, ErrEnabled
	}
	syncWidth := max(cfg.SyncWidth, 1)
	tcr2 := TCR2_SYNC.Put(0) | TCR2_MSEL.Put(0) | TCR2_DIV.Put(uint32(g.Divisor))
	tcr4 := TCR4_FRSZ.Put(uint32(cfg.Slots-1)) |
		TCR4_SYWD.Put(uint32(syncWidth-1)) |
		TCR4_FCOMB.Put(uint32(cfg.Combine))
	if cfg.BitClockActiveLow {
		tcr2 |= TCR2_BCP
	}
	if cfg.Role == Master {
		// Generate bit clock and frame sync internally.
		tcr2 |= TCR2_BCD
		tcr4 |= TCR4_FSD
	}
	if cfg.MSBFirst {
		tcr4 |= TCR4_MF
	}
	if cfg.FrameSyncEarly {
		tcr4 |= TCR4_FSE
	}
	if cfg.FrameSyncActiveLow {
		tcr4 |= TCR4_FSP
	}
	firstBit := uint32(0)
	if cfg.MSBFirst {
		firstBit = uint32(cfg.WordBits - 1)
	}
	words := uint32(cfg.WordBits - 1)
	// Slots beyond the frame are masked too.
	tmr := cfg.SlotMask
	if cfg.Slots < 32 {
		tmr |= ^uint32(0) << cfg.Slots
	}
	writes := []struct {
		name string
		off  regs.Addr
		val  uint32
	}{
		{"TCSR", TCSR, CSR_DBGE | CSR_FR},
		{"TCR1", TCR1, TCR1_TFW.Put(uint32(cfg.Watermark))},
		{"TCR2", TCR2, tcr2},
		{"TCR3", TCR3, TCR3_WDFL.Put(0)},
		{"TCR4", TCR4, tcr4},
		{"TCR5", TCR5, TCR5_WNW.Put(words) | TCR5_W0W.Put(words) | TCR5_FBT.Put(firstBit)},
		{"TMR", TMR, tmr},
	}
	if err := regs.Update(t.Port, t.reg(RCSR), CSR_E|csrW1C, CSR_DBGE|CSR_FR); err != nil {
		return g, fmt.Errorf("sai: set RCSR: %w", err)
	}
	for _, w := range writes {
		if err := t.Port.Write(t.reg(w.off), w.val); err != nil {
			return g, fmt.Errorf("sai: set %s: %w", w.name, err)
		}
	}
	return g, nil
}

// updateCSR modifies TCSR without acknowledging pending flags.
func (t *Transmitter) updateCSR(clear, set uint32) error {
	v, err := t.Port.Read(t.reg(TCSR))
	if err != nil {
		return fmt.Errorf("sai: read TCSR: %w", err)
	}
	if err := t.Port.Write(t.reg(TCSR), v&^(clear|csrW1C)|set); err != nil {
		return fmt.Errorf("sai: set TCSR: %w", err)
	}
	return nil
}

// Enable starts the transmitter on the data lines in the lines mask
// and enables FIFO requests. The transfer feeding the FIFO must be
// ready: an empty FIFO underruns on the first frame.
func (t *Transmitter) Enable(lines uint32) error {
	if lines == 0 || t.Lines < 32 && lines>>t.Lines != 0 || !TCR3_TCE.Fits(lines) {
		return fmt.Errorf("%w: data lines %#b", ErrConfig, lines)
	}
	if err := regs.Update(t.Port, t.reg(TCR3), TCR3_TCE.Mask(), TCR3_TCE.Put(lines)); err != nil {
		return fmt.Errorf("sai: set TCR3: %w", err)
	}
	return t.updateCSR(0, CSR_E|CSR_FRDE)
}

// Disable stops the transmitter. The hardware finishes the current
// frame before the enable bit reads back clear.
func (t *Transmitter) Disable() error {
	if err := t.updateCSR(CSR_E|CSR_FRDE, 0); err != nil {
		return err
	}
	const attempts = 1000
	if err := regs.Poll(t.Port, t.reg(TCSR), CSR_E, 0, attempts); err != nil {
		return fmt.Errorf("sai: disable: %w", err)
	}
	if err := regs.ClearBits(t.Port, t.reg(TCR3), TCR3_TCE.Mask()); err != nil {
		return fmt.Errorf("sai: set TCR3: %w", err)
	}
	return nil
}

// Enabled reports whether the transmitter is enabled.
func (t *Transmitter) Enabled() (bool, error) {
	v, err := t.Port.Read(t.reg(TCSR))
	if err != nil {
		return false, fmt.Errorf("sai: read TCSR: %w", err)
	}
	return v&CSR_E != 0, nil
}

// FIFOAddr returns the bus address of the data register of line.
func (t *Transmitter) FIFOAddr(line int) uint32 {
	return uint32(t.reg(TDR0 + regs.Addr(4*line)))
}

// Underrun reports and acknowledges a FIFO underrun.
func (t *Transmitter) Underrun() (bool, error) {
	v, err := t.Port.Read(t.reg(TCSR))
	if err != nil {
		return false, fmt.Errorf("sai: read TCSR: %w", err)
	}
	if v&CSR_FEF == 0 {
		return false, nil
	}
	if err := t.Port.Write(t.reg(TCSR), v&^csrW1C|CSR_FEF); err != nil {
		return true, fmt.Errorf("sai: clear FEF: %w", err)
	}
	return true, nil
}
