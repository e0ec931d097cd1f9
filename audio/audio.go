// Package audio manages the per-channel sample buffers a DMA channel
// streams from.
package audio

import (
	"fmt"

	"tdmstream.io/edma"
	"tdmstream.io/regs"
)

// Owner reports the state of the DMA channel reading a bank.
type Owner interface {
	Status(ch int) (edma.State, error)
}

// Bank is a set of fixed channel buffers in device memory, accessed
// through Mem. Buffers may only change while the owning DMA channel
// is idle or done.
type Bank struct {
	Mem    regs.Port
	Layout edma.Layout
	// Owner and DMAChannel identify the channel streaming the bank.
	Owner      Owner
	DMAChannel int
}

func (b *Bank) check(ch, off, n int) error {
	if b.Layout.WordSize > edma.Size4 {
		return fmt.Errorf("audio: %w: %d-byte samples", edma.ErrConfig, b.Layout.WordSize)
	}
	if ch < 0 || ch >= b.Layout.Channels {
		return fmt.Errorf("audio: %w: channel %d of %d", edma.ErrConfig, ch, b.Layout.Channels)
	}
	if off < 0 || n < 0 || off+n > b.Layout.Words {
		return fmt.Errorf("audio: %w: words [%d,%d) outside buffer of %d", edma.ErrConfig, off, off+n, b.Layout.Words)
	}
	return nil
}

// Write stores samples into channel ch starting at word off.
func (b *Bank) Write(ch, off int, samples []uint32) error {
	if err := b.check(ch, off, len(samples)); err != nil {
		return err
	}
	bits := 8 * uint(b.Layout.WordSize)
	for i, s := range samples {
		if bits < 32 && s>>bits != 0 {
			return fmt.Errorf("audio: %w: sample %d (0x%x) exceeds %d bits", edma.ErrConfig, i, s, bits)
		}
	}
	st, err := b.Owner.Status(b.DMAChannel)
	if err != nil {
		return err
	}
	if st != edma.Idle && st != edma.Done {
		return fmt.Errorf("audio: write channel %d buffer while DMA %v: %w", ch, st, edma.ErrPrecondition)
	}
	for i, s := range samples {
		if err := b.store(b.Layout.Addr(ch, off+i), s); err != nil {
			return err
		}
	}
	return nil
}

// Fill sets every word of channel ch to v.
func (b *Bank) Fill(ch int, v uint32) error {
	samples := make([]uint32, b.Layout.Words)
	for i := range samples {
		samples[i] = v
	}
	return b.Write(ch, 0, samples)
}

// Read returns the samples of channel ch.
func (b *Bank) Read(ch int) ([]uint32, error) {
	if err := b.check(ch, 0, b.Layout.Words); err != nil {
		return nil, err
	}
	samples := make([]uint32, b.Layout.Words)
	for i := range samples {
		v, err := b.load(b.Layout.Addr(ch, i))
		if err != nil {
			return nil, err
		}
		samples[i] = v
	}
	return samples, nil
}

// lane returns the aligned word holding addr, the bit shift of addr
// within it and the sample mask.
func (b *Bank) lane(addr uint32) (regs.Addr, uint, uint32) {
	size := uint32(b.Layout.WordSize)
	mask := uint32(0xffff_ffff)
	if size < 4 {
		mask = 1<<(8*size) - 1
	}
	return regs.Addr(addr &^ 3), 8 * uint(addr&3), mask
}

func (b *Bank) store(addr uint32, v uint32) error {
	a, shift, mask := b.lane(addr)
	if mask == 0xffff_ffff {
		if err := b.Mem.Write(a, v); err != nil {
			return fmt.Errorf("audio: store 0x%08x: %w", addr, err)
		}
		return nil
	}
	if err := regs.Update(b.Mem, a, mask<<shift, v<<shift); err != nil {
		return fmt.Errorf("audio: store 0x%08x: %w", addr, err)
	}
	return nil
}

func (b *Bank) load(addr uint32) (uint32, error) {
	a, shift, mask := b.lane(addr)
	w, err := b.Mem.Read(a)
	if err != nil {
		return 0, fmt.Errorf("audio: load 0x%08x: %w", addr, err)
	}
	return w >> shift & mask, nil
}
