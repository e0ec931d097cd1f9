//go:build !linux

package regs

import (
	"errors"
)

var errNoMapping = errors.New("regs: memory mapping is only supported on linux")

// Mapping is a Mem window backed by a memory mapping that must be
// closed after use.
type Mapping struct {
	*Mem
}

func (m *Mapping) Close() error {
	return errNoMapping
}

func OpenUIO(dev string, base Addr, size int) (*Mapping, error) {
	return nil, errNoMapping
}

func MapPhys(base Addr, size int) (*Mapping, error) {
	return nil, errNoMapping
}
