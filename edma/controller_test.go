package edma

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"tdmstream.io/internal/golden"
	"tdmstream.io/regs"
)

var update = flag.Bool("update", false, "update golden files")

const dmaBase = 0x4000_8000

func newController() (*Controller, *regs.Sim) {
	s := regs.NewSim()
	// ERR is write 1 to clear.
	s.Hook(dmaBase+ERR, func(old, v uint32) uint32 { return old &^ v })
	return &Controller{Port: s, Base: dmaBase, Channels: 16}, s
}

func TestProgramGolden(t *testing.T) {
	c, s := newController()
	l := Layout{Base: sramBase, Channels: 2, Words: 8, WordSize: Size4}
	d, err := Derive(tdr0, l)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Program(0, d, l.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := golden.CompareAccesses("testdata/program_2ch.golden", *update, s.Writes()); err != nil {
		t.Error(err)
	}
	got, err := c.Descriptor(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Errorf("read back\n%+v\nwant\n%+v", got, d)
	}
}

func TestProgramInvalidWritesNothing(t *testing.T) {
	c, s := newController()
	l := Layout{Base: sramBase, Channels: 2, Words: 8, WordSize: Size4}
	d, err := Derive(tdr0, l)
	if err != nil {
		t.Fatal(err)
	}
	d.MajorCount, d.MajorStart = 7, 7
	if err := c.Program(0, d, l.Bytes()); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
	if w := s.Writes(); len(w) != 0 {
		t.Errorf("invalid program wrote %v", w)
	}
}

func TestProgramActive(t *testing.T) {
	c, s := newController()
	l := Layout{Base: sramBase, Channels: 2, Words: 8, WordSize: Size4}
	d, err := Derive(tdr0, l)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Program(1, d, l.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := c.Arm(1); err != nil {
		t.Fatal(err)
	}
	// The hardware started the major loop.
	csr := c.tcd(1, wCSR_BITER)
	s.Set(csr, s.Peek(csr)|csrACTIVE)
	s.ClearLog()
	if err := c.Program(1, d, l.Bytes()); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("got %v, want ErrPrecondition", err)
	}
	if w := s.Writes(); len(w) != 0 {
		t.Errorf("program of active channel wrote %v", w)
	}
}

func TestStatus(t *testing.T) {
	c, s := newController()
	l := Layout{Base: sramBase, Channels: 1, Words: 4, WordSize: Size4}
	d, err := Derive(tdr0, l)
	if err != nil {
		t.Fatal(err)
	}
	const ch = 2
	expect := func(want State) {
		t.Helper()
		st, err := c.Status(ch)
		if err != nil {
			t.Fatal(err)
		}
		if st != want {
			t.Fatalf("status %v, want %v", st, want)
		}
	}
	expect(Idle)
	if err := c.Program(ch, d, l.Bytes()); err != nil {
		t.Fatal(err)
	}
	expect(Idle)
	if err := c.Arm(ch); err != nil {
		t.Fatal(err)
	}
	expect(Armed)
	// One minor loop in.
	citer := c.tcd(ch, wDOFF_CITER)
	s.Set(citer, fCITER.Put(3))
	expect(Active)
	// Major loop completes and the channel disables itself.
	csr := c.tcd(ch, wCSR_BITER)
	s.Set(citer, fCITER.Put(4))
	s.Set(csr, s.Peek(csr)|csrDONE)
	s.Set(dmaBase+ERQ, 0)
	expect(Done)
	if err := c.Disarm(ch); err != nil {
		t.Fatal(err)
	}
	expect(Idle)
	s.Set(dmaBase+ERR, regs.Bit(ch))
	expect(Error)
	if err := c.Disarm(ch); err != nil {
		t.Fatal(err)
	}
	expect(Idle)
	if _, err := c.Status(16); err == nil {
		t.Error("status of channel 16 succeeded")
	}
}

func TestStatusInFlightAfterDisarm(t *testing.T) {
	c, s := newController()
	l := Layout{Base: sramBase, Channels: 2, Words: 8, WordSize: Size4}
	d, err := Derive(tdr0, l)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Program(0, d, l.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := c.Arm(0); err != nil {
		t.Fatal(err)
	}
	csr := c.tcd(0, wCSR_BITER)
	s.Set(csr, s.Peek(csr)|csrACTIVE)
	if err := c.Disarm(0); err != nil {
		t.Fatal(err)
	}
	if st, err := c.Status(0); err != nil || st != Active {
		t.Fatalf("status with a minor loop in flight = %v, %v, want active", st, err)
	}
	s.ClearLog()
	if err := c.Program(0, d, l.Bytes()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("program with a minor loop in flight: %v", err)
	}
	if w := s.Writes(); len(w) != 0 {
		t.Errorf("rejected program wrote %v", w)
	}
	s.Set(csr, s.Peek(csr)&^csrACTIVE)
	if st, err := c.Status(0); err != nil || st != Idle {
		t.Errorf("status after the minor loop = %v, %v, want idle", st, err)
	}
}

func TestInit(t *testing.T) {
	c, s := newController()
	s.Set(dmaBase+CR, crHALT)
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	if got := s.Peek(dmaBase + CR); got != crEMLM|crEDBG {
		t.Errorf("CR %#x, want %#x", got, crEMLM|crEDBG)
	}
}

func TestWaitIdle(t *testing.T) {
	c, s := newController()
	csr := c.tcd(0, wCSR_BITER)
	s.Set(csr, csrACTIVE)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := c.WaitIdle(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	s.Set(csr, 0)
	if err := c.WaitIdle(context.Background(), 0); err != nil {
		t.Error(err)
	}
}
