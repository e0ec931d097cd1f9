package audio

import (
	"errors"
	"slices"
	"testing"

	"tdmstream.io/edma"
	"tdmstream.io/regs"
)

type owner edma.State

func (o *owner) Status(ch int) (edma.State, error) {
	return edma.State(*o), nil
}

func newBank(size edma.Size) (*Bank, *owner) {
	o := new(owner)
	return &Bank{
		Mem:    regs.NewMem(0x2000_0000, make([]byte, 256)),
		Layout: edma.Layout{Base: 0x2000_0000, Channels: 2, Words: 8, WordSize: size},
		Owner:  o,
	}, o
}

func TestWriteRead(t *testing.T) {
	for _, size := range []edma.Size{edma.Size1, edma.Size2, edma.Size4} {
		b, _ := newBank(size)
		if err := b.Fill(0, 0x12); err != nil {
			t.Fatal(err)
		}
		if err := b.Fill(1, 0x21); err != nil {
			t.Fatal(err)
		}
		if err := b.Write(1, 6, []uint32{0x7f, 0x7e}); err != nil {
			t.Fatal(err)
		}
		got0, err := b.Read(0)
		if err != nil {
			t.Fatal(err)
		}
		got1, err := b.Read(1)
		if err != nil {
			t.Fatal(err)
		}
		want0 := []uint32{0x12, 0x12, 0x12, 0x12, 0x12, 0x12, 0x12, 0x12}
		want1 := []uint32{0x21, 0x21, 0x21, 0x21, 0x21, 0x21, 0x7f, 0x7e}
		if !slices.Equal(got0, want0) || !slices.Equal(got1, want1) {
			t.Errorf("size %d: read %x %x, want %x %x", size, got0, got1, want0, want1)
		}
	}
}

func TestWriteWhileStreaming(t *testing.T) {
	b, o := newBank(edma.Size4)
	for _, st := range []edma.State{edma.Armed, edma.Active, edma.Error} {
		*o = owner(st)
		if err := b.Fill(0, 1); !errors.Is(err, edma.ErrPrecondition) {
			t.Errorf("write while %v: %v", st, err)
		}
	}
	*o = owner(edma.Done)
	if err := b.Fill(0, 1); err != nil {
		t.Errorf("write while done: %v", err)
	}
}

func TestWriteRejects(t *testing.T) {
	b, _ := newBank(edma.Size2)
	if err := b.Write(2, 0, []uint32{1}); !errors.Is(err, edma.ErrConfig) {
		t.Errorf("write to channel 2: %v", err)
	}
	if err := b.Write(0, 7, []uint32{1, 2}); !errors.Is(err, edma.ErrConfig) {
		t.Errorf("write past the buffer: %v", err)
	}
	if err := b.Write(0, 0, []uint32{0x1_0000}); !errors.Is(err, edma.ErrConfig) {
		t.Errorf("write of 17-bit sample: %v", err)
	}
}

func TestWriteDuringMinorLoop(t *testing.T) {
	const dmaBase = 0x4000_8000
	s := regs.NewSim()
	c := &edma.Controller{Port: s, Base: dmaBase, Channels: 16}
	b, _ := newBank(edma.Size4)
	b.Owner, b.DMAChannel = c, 2
	// Request disabled, last minor loop still moving samples.
	csr := regs.Addr(dmaBase + edma.TCD0 + 2*0x20 + 0x1c)
	s.Set(csr, 0b1<<6)
	if err := b.Write(0, 0, []uint32{1}); !errors.Is(err, edma.ErrPrecondition) {
		t.Errorf("write during minor loop: %v", err)
	}
	s.Set(csr, 0)
	if err := b.Write(0, 0, []uint32{1}); err != nil {
		t.Errorf("write after minor loop: %v", err)
	}
}
