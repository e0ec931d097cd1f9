package edma

import (
	"errors"
	"fmt"
)

// Layout describes a set of equally spaced per-channel sample
// buffers in device memory.
type Layout struct {
	// Base is the address of channel 0's buffer.
	Base     uint32
	Channels int
	// Words is the number of samples per channel.
	Words    int
	WordSize Size
	// Pitch is the distance in bytes between consecutive channel
	// buffers. Zero means the buffers are packed.
	Pitch int
}

func (l Layout) pitch() int {
	if l.Pitch == 0 {
		return l.Words * int(l.WordSize)
	}
	return l.Pitch
}

// Bytes returns the number of sample bytes in all buffers.
func (l Layout) Bytes() int {
	return l.Channels * l.Words * int(l.WordSize)
}

// Span returns the number of bytes from the start of the first
// buffer to the end of the last.
func (l Layout) Span() int {
	return (l.Channels-1)*l.pitch() + l.Words*int(l.WordSize)
}

// Addr returns the address of sample word of channel ch.
func (l Layout) Addr(ch, word int) uint32 {
	return l.Base + uint32(ch*l.pitch()+word*int(l.WordSize))
}

func (l Layout) validate() error {
	if _, ok := l.WordSize.code(); !ok {
		return fmt.Errorf("invalid word size %d", l.WordSize)
	}
	e := int(l.WordSize)
	switch {
	case l.Channels < 1:
		return fmt.Errorf("invalid channel count %d", l.Channels)
	case l.Channels > 1 && l.Channels*e > maxMinorBytesOffset:
		return fmt.Errorf("%d channels of %d bytes exceed one request", l.Channels, e)
	case l.Words < 1 || l.Words > maxMajorCount:
		return fmt.Errorf("invalid buffer length %d", l.Words)
	case l.Pitch < 0 || l.Pitch%e != 0:
		return fmt.Errorf("pitch %d is not a multiple of %d", l.Pitch, e)
	case l.pitch() < l.Words*e && l.Channels > 1:
		return fmt.Errorf("pitch %d overlaps buffers of %d bytes", l.pitch(), l.Words*e)
	case l.Base%uint32(e) != 0:
		return fmt.Errorf("base 0x%08x is not %d-byte aligned", l.Base, e)
	case uint64(l.Base)+uint64(l.Span()) > 1<<32:
		return errors.New("buffers exceed the address space")
	}
	return nil
}

// Derive computes the descriptor that streams l into the fixed
// address fifo, one word from each channel per request, channel 0
// first. The source stride jumps from one channel buffer to the
// next; the minor loop offset rewinds to channel 0 and steps one
// word, and the last source adjustment rewinds the whole major loop
// so the descriptor restarts on its own.
func Derive(fifo uint32, l Layout) (Descriptor, error) {
	if err := l.validate(); err != nil {
		return Descriptor{}, fmt.Errorf("edma: %w: %w", ErrConfig, err)
	}
	e := int(l.WordSize)
	stride := l.pitch()
	if l.Channels == 1 {
		stride = e
	}
	if !fitsSigned(int64(stride), 16) {
		return Descriptor{}, fmt.Errorf("edma: %w: pitch %d exceeds the source stride range", ErrConfig, stride)
	}
	d := Descriptor{
		SrcAddr:    l.Base,
		SrcStride:  int16(stride),
		SrcSize:    l.WordSize,
		DstAddr:    fifo,
		DstSize:    l.WordSize,
		MinorBytes: uint32(l.Channels * e),
		MajorCount: uint16(l.Words),
		MajorStart: uint16(l.Words),
	}
	if off := e - l.Channels*stride; off != 0 {
		d.SrcMinorOffset = true
		d.MinorOffset = int32(off)
	}
	d.SrcLast = int32(-d.Displacement())
	if err := d.Validate(l.Bytes()); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
