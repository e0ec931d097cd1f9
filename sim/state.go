package sim

import (
	"encoding/binary"
	"fmt"
	"log"

	"tdmstream.io/board"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
	"tdmstream.io/sai"
	"tdmstream.io/touch"
)

// maxOutput bounds the words kept per data line between calls to
// Output.
const maxOutput = 1 << 16

type state struct {
	b    *board.Board
	log  *log.Logger
	done chan<- int

	regs  map[regs.Addr]uint32
	hooks map[regs.Addr]func(v uint32)
	mem   []byte

	// Transmit FIFOs and shifted out words per data line.
	fifos [][]uint32
	out   [][]uint32
	// Next line of a combined FIFO write.
	next      int
	underruns int

	majors []int
	analog map[uint32]uint32
}

func newState(b *board.Board, logger *log.Logger, done chan<- int) *state {
	s := &state{
		b:      b,
		log:    logger,
		done:   done,
		regs:   make(map[regs.Addr]uint32),
		hooks:  make(map[regs.Addr]func(v uint32)),
		mem:    make([]byte, b.Memory.Size),
		fifos:  make([][]uint32, b.SAI.Lines),
		out:    make([][]uint32, b.SAI.Lines),
		majors: make([]int, b.DMA.Channels),
		analog: make(map[uint32]uint32),
	}
	p := b.Peripherals

	s.hooks[p.SAI+sai.TCSR] = s.writeTCSR
	s.hooks[p.DMA+edma.ERR] = s.writeOneToClear(p.DMA + edma.ERR)
	for ch := range b.DMA.Channels {
		s.hooks[s.tcd(ch, tcdCSR)] = func(v uint32) { s.writeCSR(ch, v) }
	}

	// Oscillators become valid as soon as they are enabled and
	// the system clock switches on request.
	for _, off := range []regs.Addr{board.SCG_SOSCCSR, board.SCG_SPLLCSR} {
		a := p.SCG + off
		s.hooks[a] = func(v uint32) {
			if v&board.SCG_EN != 0 {
				v |= board.SCG_VLD
			}
			s.regs[a] = v
		}
	}
	s.hooks[p.SCG+board.SCG_RCCR] = func(v uint32) {
		s.regs[p.SCG+board.SCG_RCCR] = v
		s.regs[p.SCG+board.SCG_CSR] = v
	}

	for _, g := range p.GPIO {
		pdor := g + board.GPIO_PDOR
		s.hooks[g+board.GPIO_PSOR] = func(v uint32) { s.regs[pdor] |= v }
		s.hooks[g+board.GPIO_PCOR] = func(v uint32) { s.regs[pdor] &^= v }
		s.hooks[g+board.GPIO_PTOR] = func(v uint32) { s.regs[pdor] ^= v }
	}

	s.hooks[p.ADC+touch.ADC_SC1A] = func(v uint32) {
		ch := touch.SC1_ADCH.Get(v)
		if ch != touch.ADCH_OFF {
			s.regs[p.ADC+touch.ADC_RA] = s.analog[ch]
			v |= touch.SC1_COCO
		}
		s.regs[p.ADC+touch.ADC_SC1A] = v
	}
	return s
}

func (s *state) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *state) writeOneToClear(a regs.Addr) func(v uint32) {
	return func(v uint32) {
		s.regs[a] &^= v
	}
}

// memOffset returns the offset of the n bytes at a in device memory.
func (s *state) memOffset(a regs.Addr, n int) (int, bool) {
	if !s.b.Memory.Contains(a, n) {
		return 0, false
	}
	return int(a - s.b.Memory.Base), true
}

func (s *state) read(a regs.Addr) (uint32, error) {
	if a%4 != 0 {
		return 0, fmt.Errorf("sim: unaligned read of 0x%08x: %w", uint32(a), regs.ErrFault)
	}
	if off, ok := s.memOffset(a, 4); ok {
		return binary.LittleEndian.Uint32(s.mem[off:]), nil
	}
	if line, ok := s.fifoRegister(a, sai.TFR0); ok {
		return sai.TFR_WFP.Put(uint32(len(s.fifos[line]))), nil
	}
	return s.regs[a], nil
}

func (s *state) write(a regs.Addr, v uint32) error {
	if a%4 != 0 {
		return fmt.Errorf("sim: unaligned write of 0x%08x: %w", uint32(a), regs.ErrFault)
	}
	if off, ok := s.memOffset(a, 4); ok {
		binary.LittleEndian.PutUint32(s.mem[off:], v)
		return nil
	}
	if line, ok := s.fifoRegister(a, sai.TDR0); ok {
		s.push(line, v)
		return nil
	}
	if h, ok := s.hooks[a]; ok {
		h(v)
		return nil
	}
	s.regs[a] = v
	return nil
}

// Load and Store implement edma.Bus for the DMA controller.
func (s *state) Load(addr uint32, p []byte) error {
	off, ok := s.memOffset(regs.Addr(addr), len(p))
	if !ok {
		return fmt.Errorf("sim: DMA read of 0x%08x: %w", addr, regs.ErrFault)
	}
	copy(p, s.mem[off:])
	return nil
}

func (s *state) Store(addr uint32, p []byte) error {
	if off, ok := s.memOffset(regs.Addr(addr), len(p)); ok {
		copy(s.mem[off:], p)
		return nil
	}
	if line, ok := s.fifoRegister(regs.Addr(addr), sai.TDR0); ok && len(p) <= 4 {
		var w [4]byte
		copy(w[:], p)
		s.push(line, binary.LittleEndian.Uint32(w[:]))
		return nil
	}
	return fmt.Errorf("sim: DMA write of 0x%08x: %w", addr, regs.ErrFault)
}
