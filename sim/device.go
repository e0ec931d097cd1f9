// Package sim simulates a board on its register bus: the audio
// interface FIFOs and frame timing, the DMA controller with its
// request multiplexer, and the clock, watchdog, GPIO and ADC blocks
// the bring-up sequences touch.
//
// The simulated hardware runs in its own goroutine. Every register
// access is a request to that goroutine, so accesses and transfers
// never interleave.
package sim

import (
	"context"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"tdmstream.io/board"
	"tdmstream.io/regs"
)

// Device is a simulated board. It implements regs.Port.
type Device struct {
	close     chan struct{}
	closeOnce sync.Once
	in        chan request
	done      chan int
}

type request struct {
	write bool
	addr  regs.Addr
	value uint32
	// do, if set, runs in the device goroutine instead of an
	// access.
	do  func(s *state) error
	out chan result
}

type result struct {
	value uint32
	err   error
}

// completions is the number of unreceived major loop completions
// kept by a device.
const completions = 64

// New starts a simulation of b. Simulated faults such as underruns
// and transfer errors are reported to logger, if not nil.
func New(b *board.Board, logger *log.Logger) *Device {
	d := &Device{
		close: make(chan struct{}),
		in:    make(chan request),
		done:  make(chan int, completions),
	}
	s := newState(b, logger, d.done)
	go d.run(s)
	return d
}

func (d *Device) run(s *state) {
	for {
		select {
		case <-d.close:
			d.close <- struct{}{}
			return
		case r := <-d.in:
			var res result
			switch {
			case r.do != nil:
				res.err = r.do(s)
			case r.write:
				res.err = s.write(r.addr, r.value)
			default:
				res.value, res.err = s.read(r.addr)
			}
			r.out <- res
		}
	}
}

func (d *Device) call(r request) result {
	r.out = make(chan result, 1)
	d.in <- r
	return <-r.out
}

func (d *Device) do(f func(s *state) error) error {
	return d.call(request{do: f}).err
}

func (d *Device) Read(a regs.Addr) (uint32, error) {
	r := d.call(request{addr: a})
	return r.value, r.err
}

func (d *Device) Write(a regs.Addr, v uint32) error {
	return d.call(request{write: true, addr: a, value: v}).err
}

// Tick runs the audio interface for the given number of frames,
// serving its DMA requests as the FIFOs drain.
func (d *Device) Tick(frames int) error {
	return d.do(func(s *state) error {
		for range frames {
			s.frame()
		}
		return nil
	})
}

// Run advances the simulation in real time, one batch of frames at
// the given frame rate every interval, until ctx is done.
func (d *Device) Run(ctx context.Context, rate physic.Frequency, interval time.Duration) error {
	frames := int(int64(rate/physic.Hertz) * int64(interval) / int64(time.Second))
	frames = max(frames, 1)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := d.Tick(frames); err != nil {
				return err
			}
		}
	}
}

// MajorLoops returns the number of major loops channel ch has
// completed.
func (d *Device) MajorLoops(ch int) int {
	var n int
	d.do(func(s *state) error {
		if ch >= 0 && ch < len(s.majors) {
			n = s.majors[ch]
		}
		return nil
	})
	return n
}

// Output removes and returns the words shifted out of data line
// line. Underrun slots read as zero.
func (d *Device) Output(line int) []uint32 {
	var out []uint32
	d.do(func(s *state) error {
		if line >= 0 && line < len(s.out) {
			out = s.out[line]
			s.out[line] = nil
		}
		return nil
	})
	return out
}

// Underruns returns the number of slots transmitted from an empty
// FIFO.
func (d *Device) Underruns() int {
	var n int
	d.do(func(s *state) error {
		n = s.underruns
		return nil
	})
	return n
}

// SetAnalog sets the voltage the ADC reads on channel ch.
func (d *Device) SetAnalog(ch, v uint32) {
	d.do(func(s *state) error {
		s.analog[ch] = v
		return nil
	})
}

// Completions reports the channel of every major loop completed by
// a descriptor with its major loop interrupt enabled. Completions
// are dropped when the channel is full.
func (d *Device) Completions() <-chan int {
	return d.done
}

// Close stops the simulation. The device must not be used
// afterwards. Close may be called more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.close <- struct{}{}
		<-d.close
	})
	return nil
}
