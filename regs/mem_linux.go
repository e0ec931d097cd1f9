//go:build linux

package regs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"periph.io/x/host/v3/pmem"
)

// Mapping is a Mem window backed by a memory mapping that must be
// closed after use.
type Mapping struct {
	*Mem
	close func() error
}

func (m *Mapping) Close() error {
	if m.close == nil {
		return errors.New("regs: mapping already closed")
	}
	err := m.close()
	m.close = nil
	m.Mem = nil
	return err
}

// OpenUIO maps size bytes of the userspace I/O device dev, such as
// /dev/uio0, and exposes it at bus address base.
func OpenUIO(dev string, base Addr, size int) (*Mapping, error) {
	f, err := os.OpenFile(dev, os.O_RDWR|os.O_SYNC, 0o660)
	if err != nil {
		return nil, err
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", dev, err)
	}
	return &Mapping{
		Mem: NewMem(base, mem),
		close: func() error {
			err := unix.Munmap(mem)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

// MapPhys maps size bytes of physical memory at base through
// /dev/mem. It requires root.
func MapPhys(base Addr, size int) (*Mapping, error) {
	v, err := pmem.Map(uint64(base), size)
	if err != nil {
		return nil, fmt.Errorf("regs: map 0x%08x: %w", uint32(base), err)
	}
	return &Mapping{
		Mem:   NewMem(base, []byte(v.Slice)),
		close: v.Close,
	}, nil
}
