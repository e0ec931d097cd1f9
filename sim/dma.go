package sim

import (
	"tdmstream.io/dmamux"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
)

const (
	tcdCSR   = 7
	tcdSTART = 0b1 << 0
	crHALT   = 0b1 << 5
	esVLD    = 0b1 << 31
)

var esERRCHN = regs.Field{Pos: 8, Width: 5}

func (s *state) dmaReg(off regs.Addr) regs.Addr {
	return s.b.Peripherals.DMA + off
}

func (s *state) tcd(ch, word int) regs.Addr {
	return s.dmaReg(edma.TCD0) + regs.Addr(ch*0x20+word*4)
}

func (s *state) writeCSR(ch int, v uint32) {
	a := s.tcd(ch, tcdCSR)
	s.regs[a] = v
	if v&tcdSTART != 0 && s.regs[s.dmaReg(edma.CR)]&crHALT == 0 {
		s.minor(ch)
	}
	s.regs[a] &^= tcdSTART
}

// routed returns the armed channel serving requests from src.
func (s *state) routed(src uint8) (int, bool) {
	if s.regs[s.dmaReg(edma.CR)]&crHALT != 0 {
		return 0, false
	}
	erq := s.regs[s.dmaReg(edma.ERQ)]
	errs := s.regs[s.dmaReg(edma.ERR)]
	for ch := range s.b.DMA.Channels {
		cfg := s.regs[s.b.Peripherals.DMAMUX+regs.Addr(4*ch)]
		bit := regs.Bit(uint8(ch))
		if cfg&dmamux.CHCFG_ENBL != 0 && dmamux.CHCFG_SOURCE.Get(cfg) == uint32(src) &&
			erq&bit != 0 && errs&bit == 0 {
			return ch, true
		}
	}
	return 0, false
}

// serve runs minor loops while the audio interface requests data.
func (s *state) serve() {
	if !s.requesting() {
		return
	}
	ch, ok := s.routed(s.b.DMA.SAITxSource)
	if !ok {
		return
	}
	for i := 0; i < s.b.SAI.FIFODepth && s.requesting(); i++ {
		if !s.minor(ch) {
			return
		}
	}
}

// minor runs one minor loop of channel ch from its descriptor
// registers and writes back the advanced addresses and count, the
// way the engine updates a descriptor in place.
func (s *state) minor(ch int) bool {
	var t edma.TCD
	for i := range t {
		t[i] = s.regs[s.tcd(ch, i)]
	}
	d := edma.Decode(t)
	c := edma.Cursor{Src: d.SrcAddr, Dst: d.DstAddr, Iter: d.MajorCount}
	done, err := d.Minor(&c, s)
	if err != nil {
		bit := regs.Bit(uint8(ch))
		s.regs[s.dmaReg(edma.ERR)] |= bit
		s.regs[s.dmaReg(edma.ES)] = esVLD | esERRCHN.Put(uint32(ch))
		s.logf("sim: DMA channel %d: %v", ch, err)
		return false
	}
	d.SrcAddr, d.DstAddr, d.MajorCount = c.Src, c.Dst, c.Iter
	d.Active = false
	if done {
		d.Done = true
		s.majors[ch]++
		bit := regs.Bit(uint8(ch))
		if d.AutoDisable {
			s.regs[s.dmaReg(edma.ERQ)] &^= bit
		}
		if d.IntMajor {
			s.regs[s.dmaReg(edma.INT)] |= bit
			select {
			case s.done <- ch:
			default:
			}
		}
	}
	t = edma.Encode(d)
	for i, w := range t {
		s.regs[s.tcd(ch, i)] = w
	}
	return true
}
