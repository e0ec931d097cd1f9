// Package regs models memory-mapped peripheral registers as an
// injectable port, so drivers can run against real hardware, a
// remote link or a simulated register file.
package regs

import (
	"errors"
	"fmt"
)

// Addr is the bus address of a 32-bit register.
type Addr uint32

// Port is a 32-bit register bus.
type Port interface {
	Read(a Addr) (uint32, error)
	Write(a Addr, v uint32) error
}

// ErrFault is returned for accesses the bus rejects.
var ErrFault = errors.New("regs: bus fault")

// Field is a bit field of a 32-bit register.
type Field struct {
	Pos   uint8
	Width uint8
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint32 {
	return (uint32(1)<<f.Width - 1) << f.Pos
}

// Put shifts v into place. Bits that don't fit are dropped.
func (f Field) Put(v uint32) uint32 {
	return v << f.Pos & f.Mask()
}

// Get extracts the field from the register value r.
func (f Field) Get(r uint32) uint32 {
	return r & f.Mask() >> f.Pos
}

// Fits reports whether v can be represented by the field.
func (f Field) Fits(v uint32) bool {
	return f.Width >= 32 || v>>f.Width == 0
}

// Bit returns a mask with bit n set.
func Bit(n uint8) uint32 {
	return 0b1 << n
}

// Update clears then sets bits of the register at a with a single
// read-modify-write.
func Update(p Port, a Addr, clear, set uint32) error {
	v, err := p.Read(a)
	if err != nil {
		return err
	}
	return p.Write(a, v&^clear|set)
}

func SetBits(p Port, a Addr, bits uint32) error {
	return Update(p, a, 0, bits)
}

func ClearBits(p Port, a Addr, bits uint32) error {
	return Update(p, a, bits, 0)
}

// Poll reads the register at a until the bits in mask equal want,
// giving up after attempts reads.
func Poll(p Port, a Addr, mask, want uint32, attempts int) error {
	for range attempts {
		v, err := p.Read(a)
		if err != nil {
			return err
		}
		if v&mask == want {
			return nil
		}
	}
	return fmt.Errorf("regs: timeout waiting for 0x%08x&0x%08x == 0x%08x", uint32(a), mask, want)
}
