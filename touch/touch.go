// Package touch senses touch pads through ADC conversions and shows
// their state on LEDs.
package touch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
	"periph.io/x/conn/v3/gpio"
	"tdmstream.io/board"
	"tdmstream.io/regs"
)

// ADC registers.
const (
	ADC_SC1A = 0x00
	ADC_CFG1 = 0x40
	ADC_CFG2 = 0x44
	ADC_RA   = 0x48
	ADC_SC2  = 0x90
	ADC_SC3  = 0x94

	SC1_COCO = 0b1 << 7
	// ADCH value that disables the converter.
	ADCH_OFF = 0x3f

	// 12-bit conversions, 12 cycle sample time.
	cfg1Mode12 = 0b01 << 2
	cfg2Sample = 12
)

var SC1_ADCH = regs.Field{Pos: 0, Width: 6}

const convertRetries = 1000

// ADC converts an analog channel.
type ADC interface {
	Convert(ch uint32) (uint32, error)
}

// RegADC is a successive approximation ADC with software triggered
// conversions.
type RegADC struct {
	Port regs.Port
	Base regs.Addr
}

// Init selects 12-bit software triggered conversions.
func (a *RegADC) Init() error {
	writes := []struct {
		reg regs.Addr
		val uint32
	}{
		{ADC_SC1A, ADCH_OFF},
		{ADC_CFG1, cfg1Mode12},
		{ADC_CFG2, cfg2Sample},
		{ADC_SC2, 0},
		{ADC_SC3, 0},
	}
	for _, w := range writes {
		if err := a.Port.Write(a.Base+w.reg, w.val); err != nil {
			return fmt.Errorf("touch: adc init: %w", err)
		}
	}
	return nil
}

func (a *RegADC) Convert(ch uint32) (uint32, error) {
	if !SC1_ADCH.Fits(ch) || ch == ADCH_OFF {
		return 0, fmt.Errorf("touch: invalid ADC channel %d", ch)
	}
	if err := a.Port.Write(a.Base+ADC_SC1A, SC1_ADCH.Put(ch)); err != nil {
		return 0, fmt.Errorf("touch: start conversion: %w", err)
	}
	if err := regs.Poll(a.Port, a.Base+ADC_SC1A, SC1_COCO, SC1_COCO, convertRetries); err != nil {
		return 0, fmt.Errorf("touch: conversion of channel %d: %w", ch, err)
	}
	v, err := a.Port.Read(a.Base + ADC_RA)
	if err != nil {
		return 0, fmt.Errorf("touch: read result: %w", err)
	}
	return v, nil
}

// Pad is a touch electrode. It reads touched when its conversion
// falls below Limit.
type Pad struct {
	Name    string
	Channel uint32
	Limit   uint32
	// LED, if set, is driven low while the pad is touched.
	LED gpio.PinOut
}

type Sensor struct {
	ADC  ADC
	Pads []Pad
}

// New returns a sensor for the touch pads of b, with the ADC
// initialized and the pad LEDs off.
func New(b *board.Board, p regs.Port) (*Sensor, error) {
	adc := &RegADC{Port: p, Base: b.Peripherals.ADC}
	if err := adc.Init(); err != nil {
		return nil, err
	}
	s := &Sensor{ADC: adc}
	for _, bp := range b.Touch {
		pad := Pad{Name: bp.Name, Channel: bp.ADCChannel, Limit: bp.Limit}
		if bp.LED != "" {
			led, err := b.LED(p, bp.LED)
			if err != nil {
				return nil, err
			}
			if err := led.Out(gpio.High); err != nil {
				return nil, fmt.Errorf("touch: %s: %w", bp.LED, err)
			}
			pad.LED = led
		}
		s.Pads = append(s.Pads, pad)
	}
	return s, nil
}

// Sense converts pad i and reports whether it is touched.
func (s *Sensor) Sense(i int) (bool, error) {
	p := s.Pads[i]
	v, err := s.ADC.Convert(p.Channel)
	if err != nil {
		return false, err
	}
	return v < p.Limit, nil
}

// Poll senses every pad and updates its LED.
func (s *Sensor) Poll() ([]bool, error) {
	touched := make([]bool, len(s.Pads))
	for i, p := range s.Pads {
		t, err := s.Sense(i)
		if err != nil {
			return nil, err
		}
		touched[i] = t
		if p.LED == nil {
			continue
		}
		l := gpio.High
		if t {
			l = gpio.Low
		}
		if err := p.LED.Out(l); err != nil {
			return nil, fmt.Errorf("touch: %s: %w", p.Name, err)
		}
	}
	return touched, nil
}

// Run polls the pads every interval until ctx is done. Changes are
// reported to changed, if not nil.
func (s *Sensor) Run(ctx context.Context, interval time.Duration, changed func(pad int, touched bool)) error {
	last := make([]bool, len(s.Pads))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		touched, err := s.Poll()
		if err != nil {
			return err
		}
		for i := range touched {
			if touched[i] != last[i] && changed != nil {
				changed(i, touched[i])
			}
		}
		last = touched
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Calibrate samples the untouched pad i and sets its limit k
// standard deviations below the mean reading.
func (s *Sensor) Calibrate(i, samples int, k float64) error {
	if i < 0 || i >= len(s.Pads) {
		return fmt.Errorf("touch: no pad %d", i)
	}
	if samples < 2 {
		return errors.New("touch: calibration needs at least two samples")
	}
	xs := make([]float64, samples)
	for j := range xs {
		v, err := s.ADC.Convert(s.Pads[i].Channel)
		if err != nil {
			return err
		}
		xs[j] = float64(v)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	limit := mean - k*std
	if limit <= 0 {
		return fmt.Errorf("touch: %s: readings too noisy (mean %.1f, deviation %.1f)", s.Pads[i].Name, mean, std)
	}
	s.Pads[i].Limit = uint32(limit)
	return nil
}
