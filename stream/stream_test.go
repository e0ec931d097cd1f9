package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"periph.io/x/conn/v3/physic"
	"tdmstream.io/board"
	"tdmstream.io/edma"
	"tdmstream.io/sai"
	"tdmstream.io/sim"
)

func config(t *testing.T) (Config, *sim.Device) {
	t.Helper()
	b, err := board.All().Find("s32k148-evb")
	if err != nil {
		t.Fatal(err)
	}
	dev := sim.New(b, nil)
	t.Cleanup(func() { dev.Close() })
	return Config{
		Board: b,
		Port:  dev,
		Frame: sai.FrameConfig{
			WordBits:   32,
			Slots:      8,
			Watermark:  6,
			SampleRate: 8 * physic.KiloHertz,
			MSBFirst:   true,
			Combine:    sai.CombineWrite,
		},
		Channels: 2,
		Words:    8,
		WordSize: edma.Size4,
		Samples: [][]uint32{
			{0x1234, 0x1234, 0x1234, 0x1234, 0x1234, 0x1234, 0x1234, 0x1234},
			{0x4321, 0x4321, 0x4321, 0x4321, 0x4321, 0x4321, 0x4321, 0x4321},
		},
		Lines: 0b11,
	}, dev
}

func TestStartStop(t *testing.T) {
	cfg, dev := config(t)
	s, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.Geometry.Divisor != 9 {
		t.Errorf("divisor %d, want 9", s.Geometry.Divisor)
	}
	if s.Descriptor.SrcLast != -92 || s.Descriptor.MinorOffset != -60 {
		t.Errorf("descriptor %+v", s.Descriptor)
	}
	if err := dev.Tick(4); err != nil {
		t.Fatal(err)
	}
	for line, want := range []uint32{0x1234, 0x4321} {
		out := dev.Output(line)
		if len(out) != 32 {
			t.Fatalf("line %d: %d words", line, len(out))
		}
		for i, w := range out {
			if w != want {
				t.Fatalf("line %d word %d: 0x%x, want 0x%x", line, i, w, want)
			}
		}
	}
	if st, err := s.State(); err != nil || st != edma.Active {
		t.Errorf("state %v, %v", st, err)
	}
	if err := s.Bank.Fill(1, 0); !errors.Is(err, edma.ErrPrecondition) {
		t.Errorf("buffer write while streaming: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st, err := s.State(); err != nil || st != edma.Idle {
		t.Errorf("state after stop %v, %v", st, err)
	}
	if err := s.Bank.Fill(1, 0); err != nil {
		t.Errorf("buffer write after stop: %v", err)
	}
	if err := dev.Tick(1); err != nil {
		t.Fatal(err)
	}
	if out := dev.Output(0); len(out) != 0 {
		t.Errorf("%d words after stop", len(out))
	}
}

func TestStartInvalidFrame(t *testing.T) {
	cfg, dev := config(t)
	cfg.Frame.Watermark = 9
	_, err := Start(context.Background(), cfg)
	if !errors.Is(err, sai.ErrConfig) || !strings.Contains(err.Error(), "configure") {
		t.Fatalf("Start = %v", err)
	}
	erq, err := dev.Read(cfg.Board.Peripherals.DMA + edma.ERQ)
	if err != nil {
		t.Fatal(err)
	}
	if erq != 0 {
		t.Errorf("ERQ = 0x%x after failed start", erq)
	}
}

func TestStartBuffersTooLarge(t *testing.T) {
	cfg, _ := config(t)
	cfg.Words = 1 << 14
	if _, err := Start(context.Background(), cfg); !errors.Is(err, edma.ErrConfig) {
		t.Errorf("Start = %v", err)
	}
}
