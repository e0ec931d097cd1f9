package regs

import (
	"fmt"
)

// Window is a port serving the Size bytes of bus addresses from Base.
type Window struct {
	Base Addr
	Size int
	Port Port
}

// Bus routes every access to the window containing it. Accesses
// outside all windows fault.
type Bus []Window

func (b Bus) port(a Addr) (Port, error) {
	for _, w := range b {
		if a >= w.Base && uint64(a-w.Base)+4 <= uint64(w.Size) {
			return w.Port, nil
		}
	}
	return nil, fmt.Errorf("regs: 0x%08x not mapped: %w", uint32(a), ErrFault)
}

func (b Bus) Read(a Addr) (uint32, error) {
	p, err := b.port(a)
	if err != nil {
		return 0, err
	}
	return p.Read(a)
}

func (b Bus) Write(a Addr, v uint32) error {
	p, err := b.port(a)
	if err != nil {
		return err
	}
	return p.Write(a, v)
}
