// Package board describes the supported boards and runs their
// bring-up sequences.
package board

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"tdmstream.io/regs"
)

//go:embed boards.yaml
var rawBoards []byte

var boards Boards

var ErrNotFound = errors.New("board: not found")

// All returns the built-in boards.
func All() Boards {
	return boards
}

type Boards []*Board

// Find returns the board called name.
func (b Boards) Find(name string) (*Board, error) {
	for _, board := range b {
		if strings.EqualFold(board.Name, name) {
			return board, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

type Board struct {
	Name        string      `yaml:"name"`
	Clocks      Clocks      `yaml:"clocks"`
	Memory      Region      `yaml:"memory"`
	Peripherals Peripherals `yaml:"peripherals"`
	DMA         DMA         `yaml:"dma"`
	SAI         SAI         `yaml:"sai"`
	// Gates maps peripheral names to their clock gate offset in
	// the PCC.
	Gates map[string]regs.Addr `yaml:"gates"`
	Pins  []Pin                `yaml:"pins"`
	LEDs  []LED                `yaml:"leds"`
	Touch []Pad                `yaml:"touch"`
}

// Frequency is a physic.Frequency read from text such as "8MHz".
type Frequency struct {
	physic.Frequency
}

func (f *Frequency) UnmarshalYAML(n *yaml.Node) error {
	return f.Set(n.Value)
}

type Clocks struct {
	Crystal Frequency `yaml:"crystal"`
	PLL     Frequency `yaml:"pll"`
	Core    Frequency `yaml:"core"`
	Bus     Frequency `yaml:"bus"`
	Slow    Frequency `yaml:"slow"`
}

type Region struct {
	Base regs.Addr `yaml:"base"`
	Size int       `yaml:"size"`
}

// Contains reports whether the n bytes at a are inside r.
func (r Region) Contains(a regs.Addr, n int) bool {
	return a >= r.Base && uint64(a-r.Base)+uint64(n) <= uint64(r.Size)
}

type Peripherals struct {
	SAI    regs.Addr `yaml:"sai"`
	DMA    regs.Addr `yaml:"dma"`
	DMAMUX regs.Addr `yaml:"dmamux"`
	PCC    regs.Addr `yaml:"pcc"`
	SCG    regs.Addr `yaml:"scg"`
	WDOG   regs.Addr `yaml:"wdog"`
	ADC    regs.Addr `yaml:"adc"`
	// Ports and GPIO map port letters to their pin control and
	// data register blocks.
	Ports map[string]regs.Addr `yaml:"ports"`
	GPIO  map[string]regs.Addr `yaml:"gpio"`
}

type DMA struct {
	Channels    int   `yaml:"channels"`
	SAITxSource uint8 `yaml:"saiTxSource"`
}

type SAI struct {
	Lines     int `yaml:"lines"`
	FIFODepth int `yaml:"fifoDepth"`
}

// Pin is one pin multiplexer assignment.
type Pin struct {
	Port string   `yaml:"port"`
	Pin  int      `yaml:"pin"`
	Mux  uint32   `yaml:"mux"`
	Func pin.Func `yaml:"func"`
}

type LED struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
	Pin  int    `yaml:"pin"`
}

// Pad is a touch electrode sensed through an ADC channel. The pad
// is touched when the conversion falls below Limit.
type Pad struct {
	Name       string `yaml:"name"`
	ADCChannel uint32 `yaml:"adcChannel"`
	Limit      uint32 `yaml:"limit"`
	LED        string `yaml:"led"`
}

// Parse decodes and checks a list of boards.
func Parse(data []byte) (Boards, error) {
	var t struct {
		Boards Boards `yaml:"boards"`
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	for _, b := range t.Boards {
		if err := b.validate(); err != nil {
			return nil, fmt.Errorf("board: %s: %w", b.Name, err)
		}
	}
	return t.Boards, nil
}

func (b *Board) validate() error {
	if _, err := b.clockDividers(); err != nil {
		return err
	}
	for _, p := range b.Pins {
		if _, ok := b.Peripherals.Ports[p.Port]; !ok {
			return fmt.Errorf("pin %s: unknown port %q", p.Func, p.Port)
		}
		if p.Pin < 0 || p.Pin > 31 || !pcrMUX.Fits(p.Mux) {
			return fmt.Errorf("pin %s: invalid pin %d alternative %d", p.Func, p.Pin, p.Mux)
		}
	}
	for _, l := range b.LEDs {
		if _, ok := b.Peripherals.GPIO[l.Port]; !ok {
			return fmt.Errorf("led %s: no GPIO for port %q", l.Name, l.Port)
		}
	}
	for _, p := range b.Touch {
		if p.LED != "" && b.led(p.LED) == nil {
			return fmt.Errorf("pad %s: unknown led %q", p.Name, p.LED)
		}
	}
	switch {
	case b.DMA.Channels < 1 || b.DMA.Channels > 32:
		return fmt.Errorf("invalid DMA channel count %d", b.DMA.Channels)
	case b.SAI.Lines < 1 || b.SAI.Lines > 4:
		return fmt.Errorf("invalid SAI line count %d", b.SAI.Lines)
	case b.SAI.FIFODepth < 1:
		return fmt.Errorf("invalid SAI FIFO depth %d", b.SAI.FIFODepth)
	}
	return nil
}

func (b *Board) led(name string) *LED {
	for i := range b.LEDs {
		if b.LEDs[i].Name == name {
			return &b.LEDs[i]
		}
	}
	return nil
}

func init() {
	b, err := Parse(rawBoards)
	if err != nil {
		panic(err)
	}
	boards = b
}
