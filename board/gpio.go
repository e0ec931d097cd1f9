package board

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"tdmstream.io/regs"
)

// GPIO data registers.
const (
	GPIO_PDOR = 0x00
	GPIO_PSOR = 0x04
	GPIO_PCOR = 0x08
	GPIO_PTOR = 0x0c
	GPIO_PDIR = 0x10
	GPIO_PDDR = 0x14
)

// OutPin is a general purpose output driven through the GPIO
// registers. It implements gpio.PinOut.
type OutPin struct {
	port  regs.Port
	block regs.Addr
	name  string
	num   int
}

var _ gpio.PinOut = (*OutPin)(nil)

// LED configures the named LED pin as an output and returns it.
func (b *Board) LED(p regs.Port, name string) (*OutPin, error) {
	l := b.led(name)
	if l == nil {
		return nil, fmt.Errorf("board: %w: led %q", ErrNotFound, name)
	}
	pin := &OutPin{
		port:  p,
		block: b.Peripherals.GPIO[l.Port],
		name:  l.Name,
		num:   l.Pin,
	}
	if err := regs.SetBits(p, pin.block+GPIO_PDDR, regs.Bit(uint8(l.Pin))); err != nil {
		return nil, fmt.Errorf("board: led %s: %w", name, err)
	}
	return pin, nil
}

func (p *OutPin) String() string {
	return fmt.Sprintf("%s(%d)", p.name, p.num)
}

func (p *OutPin) Halt() error {
	return nil
}

func (p *OutPin) Name() string {
	return p.name
}

func (p *OutPin) Number() int {
	return p.num
}

func (p *OutPin) Function() string {
	return "Out"
}

// Out drives the pin through the set and clear registers, leaving
// the other pins of the port alone.
func (p *OutPin) Out(l gpio.Level) error {
	reg := p.block + GPIO_PCOR
	if l == gpio.High {
		reg = p.block + GPIO_PSOR
	}
	return p.port.Write(reg, regs.Bit(uint8(p.num)))
}

func (p *OutPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("board: PWM not supported")
}
