package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
	"tdmstream.io/audio"
	"tdmstream.io/board"
	"tdmstream.io/dmamux"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
	"tdmstream.io/sai"
	"tdmstream.io/touch"
)

type rig struct {
	b    *board.Board
	dev  *Device
	tx   *sai.Transmitter
	dma  *edma.Controller
	mux  *dmamux.Router
	bank *audio.Bank
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b, err := board.All().Find("s32k148-evb")
	if err != nil {
		t.Fatal(err)
	}
	dev := New(b, nil)
	t.Cleanup(func() { dev.Close() })
	r := &rig{b: b, dev: dev}
	r.tx = &sai.Transmitter{
		Port:        dev,
		Base:        b.Peripherals.SAI,
		MasterClock: b.SAIClock(),
		FIFODepth:   b.SAI.FIFODepth,
		Lines:       b.SAI.Lines,
	}
	r.dma = &edma.Controller{Port: dev, Base: b.Peripherals.DMA, Channels: b.DMA.Channels}
	r.mux = &dmamux.Router{Port: dev, Base: b.Peripherals.DMAMUX, Engine: r.dma}
	r.bank = &audio.Bank{
		Mem:    dev,
		Layout: edma.Layout{Base: uint32(b.Memory.Base), Channels: 2, Words: 8, WordSize: edma.Size4},
		Owner:  r.dma,
	}
	if err := r.dma.Init(); err != nil {
		t.Fatal(err)
	}
	for ch := range 2 {
		samples := make([]uint32, 8)
		for i := range samples {
			samples[i] = uint32(0x100*(ch+1) + i)
		}
		if err := r.bank.Write(ch, 0, samples); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func tdm8() sai.FrameConfig {
	return sai.FrameConfig{
		WordBits:   32,
		Slots:      8,
		Watermark:  6,
		SampleRate: 8 * physic.KiloHertz,
		MSBFirst:   true,
		Combine:    sai.CombineWrite,
	}
}

// program configures the transmitter and installs the descriptor
// streaming the bank on channel 0.
func (r *rig) program(t *testing.T, cfg sai.FrameConfig, intMajor bool) edma.Descriptor {
	t.Helper()
	if _, err := r.tx.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	d, err := edma.Derive(r.tx.FIFOAddr(0), r.bank.Layout)
	if err != nil {
		t.Fatal(err)
	}
	d.IntMajor = intMajor
	if err := r.mux.Bind(dmamux.Source(r.b.DMA.SAITxSource), 0); err != nil {
		t.Fatal(err)
	}
	if err := r.mux.Program(0, d, r.bank.Layout.Bytes()); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestStreamTwoChannels(t *testing.T) {
	r := newRig(t)
	r.program(t, tdm8(), false)
	if err := r.tx.Enable(0b11); err != nil {
		t.Fatal(err)
	}
	if err := r.mux.Arm(0); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.Tick(8); err != nil {
		t.Fatal(err)
	}
	for line, base := range []uint32{0x100, 0x200} {
		out := r.dev.Output(line)
		if len(out) != 64 {
			t.Fatalf("line %d: %d words, want 64", line, len(out))
		}
		for i, w := range out {
			if want := base + uint32(i%8); w != want {
				t.Fatalf("line %d word %d: 0x%x, want 0x%x", line, i, w, want)
			}
		}
	}
	if n := r.dev.Underruns(); n != 0 {
		t.Errorf("%d underruns", n)
	}
	// 64 words shifted out and 7 more queued per line.
	if n := r.dev.MajorLoops(0); n != 8 {
		t.Errorf("%d major loops, want 8", n)
	}
	if st, err := r.mux.State(0); err != nil || st != edma.Active {
		t.Errorf("state %v, %v, want active", st, err)
	}
	if under, err := r.tx.Underrun(); err != nil || under {
		t.Errorf("Underrun = %v, %v", under, err)
	}
	if err := r.bank.Fill(0, 0); !errors.Is(err, edma.ErrPrecondition) {
		t.Errorf("buffer write while streaming: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.mux.Stop(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.tx.Disable(); err != nil {
		t.Fatal(err)
	}
	if err := r.bank.Fill(0, 0); err != nil {
		t.Errorf("buffer write after stop: %v", err)
	}
}

func TestMajorLoopRestoresSource(t *testing.T) {
	r := newRig(t)
	d := r.program(t, tdm8(), true)
	if err := r.tx.Enable(0b11); err != nil {
		t.Fatal(err)
	}
	for i := range 8 {
		if err := r.dma.Start(0); err != nil {
			t.Fatal(err)
		}
		got, err := r.dma.Descriptor(0)
		if err != nil {
			t.Fatal(err)
		}
		if i < 7 && got.SrcAddr == d.SrcAddr {
			t.Errorf("minor loop %d: source back at base early", i)
		}
	}
	got, err := r.dma.Descriptor(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.SrcAddr != d.SrcAddr || got.DstAddr != d.DstAddr || got.MajorCount != d.MajorStart || !got.Done {
		t.Errorf("after one major loop: %+v", got)
	}
	if n := r.dev.MajorLoops(0); n != 1 {
		t.Errorf("%d major loops, want 1", n)
	}
	if st, _ := r.dma.Status(0); st != edma.Done {
		t.Errorf("state %v, want done", st)
	}
	select {
	case ch := <-r.dev.Completions():
		if ch != 0 {
			t.Errorf("completion on channel %d", ch)
		}
	case <-time.After(time.Second):
		t.Error("no completion reported")
	}
	for line := range 2 {
		v, err := r.dev.Read(r.b.Peripherals.SAI + sai.TFR0 + regs.Addr(4*line))
		if err != nil {
			t.Fatal(err)
		}
		if got := sai.TFR_WFP.Get(v); got != 8 {
			t.Errorf("line %d FIFO holds %d words, want 8", line, got)
		}
	}
}

func TestSlotMask(t *testing.T) {
	r := newRig(t)
	cfg := tdm8()
	cfg.SlotMask = 0b1111_0000
	r.program(t, cfg, false)
	if err := r.tx.Enable(0b1); err != nil {
		t.Fatal(err)
	}
	if err := r.mux.Arm(0); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.Tick(2); err != nil {
		t.Fatal(err)
	}
	out := r.dev.Output(0)
	if len(out) != 8 {
		t.Fatalf("%d words from 2 frames of 4 active slots", len(out))
	}
	// A single enabled line takes both channels in turn.
	want := []uint32{0x100, 0x200, 0x101, 0x201, 0x102, 0x202, 0x103, 0x203}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("word %d: 0x%x, want 0x%x", i, out[i], want[i])
		}
	}
}

func TestUnderrun(t *testing.T) {
	r := newRig(t)
	if _, err := r.tx.Configure(tdm8()); err != nil {
		t.Fatal(err)
	}
	if err := r.tx.Enable(0b1); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.Tick(1); err != nil {
		t.Fatal(err)
	}
	if n := r.dev.Underruns(); n != 8 {
		t.Errorf("%d underruns, want 8", n)
	}
	if under, err := r.tx.Underrun(); err != nil || !under {
		t.Errorf("Underrun = %v, %v, want true", under, err)
	}
	if under, _ := r.tx.Underrun(); under {
		t.Error("underrun flag not cleared")
	}
}

func TestChannelError(t *testing.T) {
	r := newRig(t)
	// Nothing programmed: the iteration count is zero.
	if err := r.dma.Start(3); err != nil {
		t.Fatal(err)
	}
	if st, err := r.dma.Status(3); err != nil || st != edma.Error {
		t.Errorf("state %v, %v, want error", st, err)
	}
	if err := r.dma.Disarm(3); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.dma.Status(3); st != edma.Idle {
		t.Errorf("state after disarm %v, want idle", st)
	}
}

func TestBoardBringUp(t *testing.T) {
	r := newRig(t)
	b := r.b
	if err := b.DisableWatchdog(r.dev); err != nil {
		t.Fatal(err)
	}
	if err := b.StartClocks(r.dev); err != nil {
		t.Fatal(err)
	}
	if err := b.EnableClocks(r.dev, "porta", "porte", "portd", "sai", "dmamux", "adc"); err != nil {
		t.Fatal(err)
	}
	if err := b.MuxPins(r.dev); err != nil {
		t.Fatal(err)
	}
	s, err := touch.New(b, r.dev)
	if err != nil {
		t.Fatal(err)
	}
	r.dev.SetAnalog(3, 1500)
	r.dev.SetAnalog(4, 3000)
	touched, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !touched[0] || touched[1] {
		t.Errorf("touched = %v, want [true false]", touched)
	}
	pdor, err := r.dev.Read(b.Peripherals.GPIO["E"] + board.GPIO_PDOR)
	if err != nil {
		t.Fatal(err)
	}
	// LEDs are active low.
	if pdor&(1<<23) != 0 || pdor&(1<<22) == 0 {
		t.Errorf("PDOR = 0x%08x", pdor)
	}
}

func TestRun(t *testing.T) {
	r := newRig(t)
	r.program(t, tdm8(), false)
	if err := r.tx.Enable(0b1); err != nil {
		t.Fatal(err)
	}
	if err := r.mux.Arm(0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.dev.Run(ctx, 8*physic.KiloHertz, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(r.dev.Output(0)) == 0 {
		t.Error("no frames shifted out")
	}
}

func TestCloseTwice(t *testing.T) {
	b, err := board.All().Find("s32k148-evb")
	if err != nil {
		t.Fatal(err)
	}
	dev := New(b, nil)
	done := make(chan struct{})
	go func() {
		dev.Close()
		dev.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Close blocked")
	}
}
