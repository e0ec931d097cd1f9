package sim

import (
	"tdmstream.io/regs"
	"tdmstream.io/sai"
)

const csrW1C = sai.CSR_FEF | sai.CSR_SEF | sai.CSR_WSF

func (s *state) saiReg(off regs.Addr) uint32 {
	return s.regs[s.b.Peripherals.SAI+off]
}

// fifoRegister reports the data line of a in the per-line register
// array starting at offset first.
func (s *state) fifoRegister(a, first regs.Addr) (int, bool) {
	base := s.b.Peripherals.SAI + first
	if a < base || a >= base+regs.Addr(4*s.b.SAI.Lines) {
		return 0, false
	}
	return int(a-base) / 4, true
}

func (s *state) writeTCSR(v uint32) {
	a := s.b.Peripherals.SAI + sai.TCSR
	if v&sai.CSR_FR != 0 {
		for i := range s.fifos {
			s.fifos[i] = s.fifos[i][:0]
		}
		s.next = 0
	}
	old := s.regs[a]
	s.regs[a] = v&^(sai.CSR_FR|sai.CSR_SR|csrW1C) | old&csrW1C&^v
	s.updateFlags()
}

// enabledLines lists the data lines enabled for transmission.
func (s *state) enabledLines() []int {
	tce := sai.TCR3_TCE.Get(s.saiReg(sai.TCR3))
	var lines []int
	for l := range s.b.SAI.Lines {
		if tce&(1<<l) != 0 {
			lines = append(lines, l)
		}
	}
	return lines
}

// push writes a word into the FIFO of line. In combine mode writes
// are spread over the enabled lines in turn.
func (s *state) push(line int, v uint32) {
	switch sai.Combine(sai.TCR4_FCOMB.Get(s.saiReg(sai.TCR4))) {
	case sai.CombineWrite, sai.CombineBoth:
		if lines := s.enabledLines(); len(lines) > 0 {
			s.next %= len(lines)
			line = lines[s.next]
			s.next++
		}
	}
	if len(s.fifos[line]) >= s.b.SAI.FIFODepth {
		s.logf("sim: SAI line %d FIFO overflow", line)
		return
	}
	s.fifos[line] = append(s.fifos[line], v)
	s.updateFlags()
}

// requesting reports whether the transmitter asks for data: it is
// enabled and some enabled line is at or below the watermark.
func (s *state) requesting() bool {
	csr := s.saiReg(sai.TCSR)
	if csr&sai.CSR_E == 0 {
		return false
	}
	wm := int(sai.TCR1_TFW.Get(s.saiReg(sai.TCR1)))
	for _, l := range s.enabledLines() {
		if len(s.fifos[l]) <= wm {
			return true
		}
	}
	return false
}

func (s *state) updateFlags() {
	a := s.b.Peripherals.SAI + sai.TCSR
	csr := s.regs[a] &^ (sai.CSR_FRF | sai.CSR_FWF)
	if s.requesting() {
		csr |= sai.CSR_FRF
	}
	for _, l := range s.enabledLines() {
		if csr&sai.CSR_E != 0 && len(s.fifos[l]) == 0 {
			csr |= sai.CSR_FWF
		}
	}
	s.regs[a] = csr
}

// frame transmits one frame on every enabled line. Masked slots
// don't consume FIFO data.
func (s *state) frame() {
	if s.saiReg(sai.TCSR)&sai.CSR_E == 0 {
		return
	}
	slots := int(sai.TCR4_FRSZ.Get(s.saiReg(sai.TCR4))) + 1
	mask := s.saiReg(sai.TMR)
	lines := s.enabledLines()
	s.serve()
	for slot := range slots {
		if mask&(uint32(1)<<slot) != 0 {
			continue
		}
		for _, l := range lines {
			s.shift(l)
		}
		s.serve()
	}
}

func (s *state) shift(line int) {
	var w uint32
	if f := s.fifos[line]; len(f) > 0 {
		w = f[0]
		s.fifos[line] = append(f[:0], f[1:]...)
	} else {
		s.underruns++
		a := s.b.Peripherals.SAI + sai.TCSR
		if s.regs[a]&sai.CSR_FEF == 0 {
			s.logf("sim: SAI line %d underrun", line)
		}
		s.regs[a] |= sai.CSR_FEF
	}
	o := append(s.out[line], w)
	if len(o) > maxOutput {
		o = o[len(o)-maxOutput:]
	}
	s.out[line] = o
	s.updateFlags()
}
