package touch

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"tdmstream.io/board"
	"tdmstream.io/regs"
)

const adcBase = 0x4003_b000

// fakeADC returns the readings of each channel in turn.
type fakeADC map[uint32][]uint32

func (f fakeADC) Convert(ch uint32) (uint32, error) {
	r := f[ch]
	v := r[0]
	f[ch] = append(r[1:], v)
	return v, nil
}

func TestConvert(t *testing.T) {
	s := regs.NewSim()
	s.Hook(adcBase+ADC_SC1A, func(old, v uint32) uint32 { return v | SC1_COCO })
	s.Set(adcBase+ADC_RA, 1234)
	a := &RegADC{Port: s, Base: adcBase}
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	if got := s.Peek(adcBase + ADC_CFG1); got != 0x4 {
		t.Errorf("CFG1 = 0x%x, want 12-bit mode", got)
	}
	v, err := a.Convert(3)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1234 {
		t.Errorf("Convert(3) = %d, want 1234", v)
	}
	if got := SC1_ADCH.Get(s.Peek(adcBase + ADC_SC1A)); got != 3 {
		t.Errorf("converted channel %d, want 3", got)
	}
	if _, err := a.Convert(ADCH_OFF); err == nil {
		t.Error("conversion of the disable channel succeeded")
	}
}

func TestConvertTimeout(t *testing.T) {
	a := &RegADC{Port: regs.NewSim(), Base: adcBase}
	if _, err := a.Convert(1); err == nil {
		t.Error("conversion completed without COCO")
	}
}

func TestPoll(t *testing.T) {
	blue := &gpiotest.Pin{N: "blue", Num: 23}
	green := &gpiotest.Pin{N: "green", Num: 22}
	s := &Sensor{
		ADC: fakeADC{3: {1500}, 4: {2500}},
		Pads: []Pad{
			{Name: "PAD1", Channel: 3, Limit: 2000, LED: blue},
			{Name: "PAD2", Channel: 4, Limit: 2000, LED: green},
			{Name: "PAD3", Channel: 3, Limit: 1000},
		},
	}
	touched, err := s.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if !touched[0] || touched[1] || touched[2] {
		t.Errorf("touched = %v, want [true false false]", touched)
	}
	if blue.Read() != gpio.Low {
		t.Error("touched pad LED is off")
	}
	if green.Read() != gpio.High {
		t.Error("untouched pad LED is on")
	}
}

func TestRun(t *testing.T) {
	s := &Sensor{
		ADC:  fakeADC{3: {100}, 4: {3000}},
		Pads: []Pad{{Channel: 3, Limit: 2000}, {Channel: 4, Limit: 2000}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var changes []int
	err := s.Run(ctx, time.Millisecond, func(pad int, touched bool) {
		if !touched {
			t.Errorf("pad %d released", pad)
		}
		changes = append(changes, pad)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0] != 0 {
		t.Errorf("changes = %v, want [0]", changes)
	}
}

func TestCalibrate(t *testing.T) {
	s := &Sensor{
		ADC:  fakeADC{3: {3000, 3100}},
		Pads: []Pad{{Channel: 3}},
	}
	if err := s.Calibrate(0, 4, 3); err != nil {
		t.Fatal(err)
	}
	// Mean 3050, sample deviation 57.7.
	if got := s.Pads[0].Limit; got != 2876 {
		t.Errorf("limit = %d, want 2876", got)
	}
	if err := s.Calibrate(0, 1, 3); err == nil {
		t.Error("calibration from one sample succeeded")
	}
	for _, i := range []int{-1, 1} {
		if err := s.Calibrate(i, 4, 3); err == nil {
			t.Errorf("calibration of pad %d succeeded", i)
		}
	}
}

func TestNew(t *testing.T) {
	b, err := board.All().Find("s32k148-evb")
	if err != nil {
		t.Fatal(err)
	}
	p := regs.NewSim()
	s, err := New(b, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Pads) != 2 || s.Pads[0].Name != "PAD1" || s.Pads[1].Channel != 4 {
		t.Fatalf("pads %+v", s.Pads)
	}
	gpioE := b.Peripherals.GPIO["E"]
	if got, want := p.Peek(gpioE+board.GPIO_PDDR), uint32(1<<23|1<<22); got != want {
		t.Errorf("PDDR = 0x%08x, want 0x%08x", got, want)
	}
}
