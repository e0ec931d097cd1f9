package main

import (
	"bytes"
	"strings"
	"testing"

	"tdmstream.io/board"
	"tdmstream.io/edma"
	"tdmstream.io/sim"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDerive(t *testing.T) {
	out, err := execute(t, "derive", "-c", "4", "-w", "8", "-r", "8kHz")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"divisor 9",
		"stride 32 size 4",
		"minor loop    16 bytes, offset -124",
		"major loop    8 iterations, last -156",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestDeriveRejects(t *testing.T) {
	if _, err := execute(t, "derive", "--rate", "fast"); err == nil {
		t.Error("invalid rate accepted")
	}
	if _, err := execute(t, "derive", "--board", "none"); err == nil {
		t.Error("unknown board accepted")
	}
}

func TestBoards(t *testing.T) {
	out, err := execute(t, "boards")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "s32k148-evb") {
		t.Errorf("board missing from\n%s", out)
	}
}

func TestPattern(t *testing.T) {
	p := pattern(2, 4, edma.Size4)
	if got := p[1][3]; got != 0x203 {
		t.Errorf("channel 1 word 3 = %#x", got)
	}
	p = pattern(1, 300, edma.Size1)
	if got := p[0][299]; got != 299&0xff {
		t.Errorf("byte word = %#x", got)
	}
}

func TestRunSimulated(t *testing.T) {
	if _, err := execute(t, "run", "-t", "50ms", "-r", "8kHz"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "run", "-t", "50ms", "--calibrate", "4"); err != nil {
		t.Fatal(err)
	}
}

func TestStartTouchCalibrates(t *testing.T) {
	b, err := board.All().Find("s32k148-evb")
	if err != nil {
		t.Fatal(err)
	}
	dev := sim.New(b, nil)
	defer dev.Close()
	for _, p := range b.Touch {
		dev.SetAnalog(p.ADCChannel, 1000)
	}
	s, err := startTouch(b, dev, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Pads) == 0 {
		t.Fatal("no pads")
	}
	for _, p := range s.Pads {
		if p.Limit != 1000 {
			t.Errorf("%s limit = %d, want 1000", p.Name, p.Limit)
		}
	}
	touched, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range touched {
		if v {
			t.Errorf("untouched pad %d reads touched", i)
		}
	}
}
