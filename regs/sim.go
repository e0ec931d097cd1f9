package regs

import (
	"fmt"
	"slices"
	"sync"

	"golang.org/x/exp/maps"
)

// Access is one logged register access.
type Access struct {
	Write bool
	Addr  Addr
	Value uint32
}

func (a Access) String() string {
	op := "R"
	if a.Write {
		op = "W"
	}
	return fmt.Sprintf("%s 0x%08x 0x%08x", op, uint32(a.Addr), a.Value)
}

// Sim is a simulated register file. Registers that were never
// written read as zero. Sim is safe for concurrent use.
type Sim struct {
	mu     sync.Mutex
	regs   map[Addr]uint32
	hooks  map[Addr]func(old, v uint32) uint32
	faults map[Addr]bool
	log    []Access
}

func NewSim() *Sim {
	return &Sim{
		regs:   make(map[Addr]uint32),
		hooks:  make(map[Addr]func(old, v uint32) uint32),
		faults: make(map[Addr]bool),
	}
}

func (s *Sim) Read(a Addr) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[a] {
		return 0, fmt.Errorf("read 0x%08x: %w", uint32(a), ErrFault)
	}
	v := s.regs[a]
	s.log = append(s.log, Access{Addr: a, Value: v})
	return v, nil
}

func (s *Sim) Write(a Addr, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[a] {
		return fmt.Errorf("write 0x%08x: %w", uint32(a), ErrFault)
	}
	s.log = append(s.log, Access{Write: true, Addr: a, Value: v})
	if h := s.hooks[a]; h != nil {
		v = h(s.regs[a], v)
	}
	s.regs[a] = v
	return nil
}

// Hook installs f to compute the stored value of writes to a. It
// models write-1-to-clear bits and self-clearing triggers.
func (s *Sim) Hook(a Addr, f func(old, v uint32) uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[a] = f
}

// Fault makes every following access to a fail.
func (s *Sim) Fault(a Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[a] = true
}

// Set stores v without logging or hooks, as the hardware would.
func (s *Sim) Set(a Addr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[a] = v
}

// Peek returns the register value without logging.
func (s *Sim) Peek(a Addr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[a]
}

// Writes returns the logged writes in order.
func (s *Sim) Writes() []Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w []Access
	for _, a := range s.log {
		if a.Write {
			w = append(w, a)
		}
	}
	return w
}

// ClearLog forgets the logged accesses.
func (s *Sim) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = s.log[:0]
}

// Dump returns the current register values sorted by address.
func (s *Sim) Dump() []Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := maps.Keys(s.regs)
	slices.Sort(addrs)
	dump := make([]Access, len(addrs))
	for i, a := range addrs {
		dump[i] = Access{Addr: a, Value: s.regs[a]}
	}
	return dump
}
