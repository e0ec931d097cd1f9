package regs

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Mem is a register window backed by memory, typically a mapping
// of device memory. Accesses are single aligned 32-bit loads and
// stores in host byte order.
type Mem struct {
	Base Addr
	mem  []byte
}

// NewMem returns a port for the window mem starting at base.
func NewMem(base Addr, mem []byte) *Mem {
	return &Mem{Base: base, mem: mem}
}

func (m *Mem) offset(a Addr) (uintptr, error) {
	if a < m.Base || a%4 != 0 || uint64(a-m.Base)+4 > uint64(len(m.mem)) {
		return 0, fmt.Errorf("regs: 0x%08x outside window 0x%08x+%#x: %w", uint32(a), uint32(m.Base), len(m.mem), ErrFault)
	}
	return uintptr(a - m.Base), nil
}

func (m *Mem) Read(a Addr) (uint32, error) {
	off, err := m.offset(a)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.mem[off]))), nil
}

func (m *Mem) Write(a Addr, v uint32) error {
	off, err := m.offset(a)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.mem[off])), v)
	return nil
}

// Size returns the length of the window in bytes.
func (m *Mem) Size() int {
	return len(m.mem)
}
