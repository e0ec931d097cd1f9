// Package edma describes autonomous DMA transfers: the addressing and
// iteration of one transfer control descriptor, its derivation from
// a channel buffer layout, and the controller register protocol.
//
// A descriptor moves MinorBytes per hardware request (a minor loop)
// and MajorStart minor loops per major loop. The source advances by
// SrcStride per element read. With SrcMinorOffset set, MinorOffset is
// added to the source after every minor loop except the last; at the
// end of the major loop SrcLast is added instead, and the iteration
// count reloads.
package edma

import (
	"errors"
	"fmt"
	"iter"

	"golang.org/x/exp/constraints"
)

var (
	// ErrConfig is returned for descriptors and layouts that can't
	// be programmed. No register is written when it is returned.
	ErrConfig = errors.New("invalid transfer configuration")
	// ErrPrecondition is returned for operations issued in the
	// wrong channel state, such as reprogramming an active channel.
	ErrPrecondition = errors.New("channel state precondition violated")
)

// Size is the width in bytes of a single read or write.
type Size uint8

const (
	Size1  Size = 1
	Size2  Size = 2
	Size4  Size = 4
	Size8  Size = 8
	Size16 Size = 16
	Size32 Size = 32
)

// code returns the ATTR encoding of s.
func (s Size) code() (uint32, bool) {
	switch s {
	case Size1:
		return 0, true
	case Size2:
		return 1, true
	case Size4:
		return 2, true
	case Size8:
		return 3, true
	case Size16:
		return 4, true
	case Size32:
		return 5, true
	}
	return 0, false
}

func sizeFromCode(c uint32) Size {
	if c > 5 {
		return 0
	}
	return Size(1 << c)
}

// Descriptor is the complete state of one channel's transfer.
type Descriptor struct {
	SrcAddr   uint32
	SrcStride int16
	SrcSize   Size

	DstAddr   uint32
	DstStride int16
	DstSize   Size

	MinorBytes     uint32
	SrcMinorOffset bool
	MinorOffset    int32

	// MajorCount is the number of remaining minor loops.
	MajorCount uint16
	// MajorStart is the reload value of MajorCount.
	MajorStart uint16

	SrcLast int32
	DstLast int32

	// AutoDisable clears the channel request enable at major
	// loop completion.
	AutoDisable bool
	IntMajor    bool
	// Link starts LinkChannel at major loop completion.
	Link        bool
	LinkChannel uint8

	Active bool
	Done   bool
}

const (
	maxMajorCount = 1<<15 - 1
	// Minor byte counts are 10 bits wide when a minor loop offset
	// is enabled, 30 bits otherwise.
	maxMinorBytesOffset = 1<<10 - 1
	maxMinorBytes       = 1<<30 - 1
	minorOffsetBits     = 20
)

func fitsSigned[T constraints.Signed](v T, bits int) bool {
	lim := T(1) << (bits - 1)
	return -lim <= v && v < lim
}

func add(a uint32, off int64) uint32 {
	return a + uint32(off)
}

// Displacement returns the net source address change over one major
// loop, before SrcLast is applied.
func (d Descriptor) Displacement() int64 {
	n := int64(d.MajorStart)
	if n == 0 || d.SrcSize == 0 {
		return 0
	}
	perMinor := int64(d.MinorBytes) / int64(d.SrcSize) * int64(d.SrcStride)
	var off int64
	if d.SrcMinorOffset {
		off = int64(d.MinorOffset)
	}
	// The offset is skipped after the final minor loop.
	return (n-1)*(perMinor+off) + perMinor
}

// DstDisplacement is the destination counterpart of [Descriptor.Displacement].
func (d Descriptor) DstDisplacement() int64 {
	if d.DstSize == 0 {
		return 0
	}
	return int64(d.MajorStart) * int64(d.MinorBytes) / int64(d.DstSize) * int64(d.DstStride)
}

// Validate checks that d describes a transfer of exactly bufferBytes
// bytes that restores its addresses after every major loop.
func (d Descriptor) Validate(bufferBytes int) error {
	if err := d.validate(bufferBytes); err != nil {
		return fmt.Errorf("edma: %w: %w", ErrConfig, err)
	}
	return nil
}

func (d Descriptor) validate(bufferBytes int) error {
	if _, ok := d.SrcSize.code(); !ok {
		return fmt.Errorf("invalid source size %d", d.SrcSize)
	}
	if _, ok := d.DstSize.code(); !ok {
		return fmt.Errorf("invalid destination size %d", d.DstSize)
	}
	src, dst := uint32(d.SrcSize), uint32(d.DstSize)
	switch {
	case d.MinorBytes == 0:
		return errors.New("empty minor loop")
	case d.MinorBytes%src != 0 || d.MinorBytes%dst != 0:
		return fmt.Errorf("minor loop of %d bytes is not a multiple of the element sizes", d.MinorBytes)
	case d.MajorStart == 0 || d.MajorStart > maxMajorCount:
		return fmt.Errorf("major loop count %d out of range", d.MajorStart)
	case d.MajorCount != d.MajorStart:
		return fmt.Errorf("current major count %d differs from initial count %d", d.MajorCount, d.MajorStart)
	}
	if total := uint64(d.MinorBytes) * uint64(d.MajorStart); bufferBytes < 0 || total != uint64(bufferBytes) {
		return fmt.Errorf("transfer of %d x %d bytes doesn't match buffer of %d bytes", d.MajorStart, d.MinorBytes, bufferBytes)
	}
	switch {
	case int64(d.SrcStride)%int64(src) != 0:
		return fmt.Errorf("source stride %d is not a multiple of %d", d.SrcStride, src)
	case int64(d.DstStride)%int64(dst) != 0:
		return fmt.Errorf("destination stride %d is not a multiple of %d", d.DstStride, dst)
	case d.SrcAddr%src != 0:
		return fmt.Errorf("source address 0x%08x is not %d-byte aligned", d.SrcAddr, src)
	case d.DstAddr%dst != 0:
		return fmt.Errorf("destination address 0x%08x is not %d-byte aligned", d.DstAddr, dst)
	case d.Link && !fMAJORLINKCH.Fits(uint32(d.LinkChannel)):
		return fmt.Errorf("link channel %d out of range", d.LinkChannel)
	}
	if d.SrcMinorOffset {
		switch {
		case int64(d.MinorOffset)%int64(src) != 0:
			return fmt.Errorf("minor loop offset %d is not a multiple of %d", d.MinorOffset, src)
		case !fitsSigned(d.MinorOffset, minorOffsetBits):
			return fmt.Errorf("minor loop offset %d out of range", d.MinorOffset)
		case d.MinorBytes > maxMinorBytesOffset:
			return fmt.Errorf("minor loop of %d bytes too large for offset mode", d.MinorBytes)
		}
	} else if d.MinorBytes > maxMinorBytes {
		return fmt.Errorf("minor loop of %d bytes too large", d.MinorBytes)
	}
	if want := -d.Displacement(); int64(d.SrcLast) != want {
		return fmt.Errorf("last source adjustment %d doesn't restore the source (want %d)", d.SrcLast, want)
	}
	if want := -d.DstDisplacement(); int64(d.DstLast) != want {
		return fmt.Errorf("last destination adjustment %d doesn't restore the destination (want %d)", d.DstLast, want)
	}
	return nil
}

// Cursor is the in-flight address state of a channel.
type Cursor struct {
	Src, Dst uint32
	// Iter is the number of remaining minor loops.
	Iter uint16
}

// Start returns the cursor of a freshly programmed descriptor.
func (d Descriptor) Start() Cursor {
	return Cursor{Src: d.SrcAddr, Dst: d.DstAddr, Iter: d.MajorCount}
}

// Bus moves the bytes of a transfer.
type Bus interface {
	Load(addr uint32, p []byte) error
	Store(addr uint32, p []byte) error
}

// Minor runs one minor loop from c through bus and reports whether
// it completed the major loop, in which case c is reloaded for the
// next one. A nil bus only advances the addresses.
func (d Descriptor) Minor(c *Cursor, bus Bus) (bool, error) {
	if c.Iter == 0 {
		return false, errors.New("edma: minor loop on a finished cursor")
	}
	if _, ok := d.SrcSize.code(); !ok {
		return false, fmt.Errorf("edma: invalid source size %d", d.SrcSize)
	}
	if _, ok := d.DstSize.code(); !ok {
		return false, fmt.Errorf("edma: invalid destination size %d", d.DstSize)
	}
	var buf [32]byte
	var pending []byte
	for n := uint32(0); n < d.MinorBytes; n += uint32(d.SrcSize) {
		p := buf[:d.SrcSize]
		if bus != nil {
			if err := bus.Load(c.Src, p); err != nil {
				return false, err
			}
		}
		pending = append(pending, p...)
		c.Src = add(c.Src, int64(d.SrcStride))
		for len(pending) >= int(d.DstSize) {
			if bus != nil {
				if err := bus.Store(c.Dst, pending[:d.DstSize]); err != nil {
					return false, err
				}
			}
			pending = pending[d.DstSize:]
			c.Dst = add(c.Dst, int64(d.DstStride))
		}
	}
	c.Iter--
	if c.Iter == 0 {
		c.Src = add(c.Src, int64(d.SrcLast))
		c.Dst = add(c.Dst, int64(d.DstLast))
		c.Iter = d.MajorStart
		return true, nil
	}
	if d.SrcMinorOffset {
		c.Src = add(c.Src, int64(d.MinorOffset))
	}
	return false, nil
}

// Reads yields the source address of every element read during one
// major loop.
func (d Descriptor) Reads() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		if d.SrcSize == 0 || d.MajorStart == 0 {
			return
		}
		c := d.Start()
		c.Iter = d.MajorStart
		for {
			src := c.Src
			for n := uint32(0); n < d.MinorBytes; n += uint32(d.SrcSize) {
				if !yield(src) {
					return
				}
				src = add(src, int64(d.SrcStride))
			}
			if done, _ := d.Minor(&c, nil); done {
				return
			}
		}
	}
}

// Final returns the cursor after one complete major loop. For a
// valid descriptor it equals [Descriptor.Start].
func (d Descriptor) Final() Cursor {
	c := d.Start()
	c.Iter = d.MajorStart
	if d.SrcSize == 0 || d.DstSize == 0 {
		return c
	}
	for c.Iter > 0 {
		if done, _ := d.Minor(&c, nil); done {
			break
		}
	}
	return c
}
