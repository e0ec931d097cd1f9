package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-tty"
	"github.com/spf13/cobra"
	"tdmstream.io/board"
	"tdmstream.io/driver/link"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
	"tdmstream.io/sim"
	"tdmstream.io/stream"
	"tdmstream.io/touch"
)

type runFlags struct {
	frameFlags
	device      string
	baud        int
	dmaChannel  int
	lines       uint32
	duration    time.Duration
	interactive bool
	calibrate   int
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up a board and stream a test pattern",
		Long: `Bring up a board and stream a test pattern until interrupted.

Without --device the board is simulated. With --device the register
accesses are sent over the serial link to a board running the link
server; "auto" picks the default serial device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), &f)
		},
	}
	f.register(cmd)
	fl := cmd.Flags()
	fl.StringVarP(&f.device, "device", "d", "", "serial device of the board")
	fl.IntVar(&f.baud, "baud", link.DefaultBaud, "serial link speed")
	fl.IntVar(&f.dmaChannel, "dma", 0, "DMA channel")
	fl.Uint32Var(&f.lines, "lines", 0b1, "mask of data lines to transmit on")
	fl.DurationVarP(&f.duration, "time", "t", 0, "stop after this long")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "read commands from the terminal")
	fl.IntVar(&f.calibrate, "calibrate", 0, "calibrate the touch pads from this many readings")
	return cmd
}

// pattern returns buffers where every word identifies its channel
// and index.
func pattern(channels, words int, size edma.Size) [][]uint32 {
	mask := ^uint32(0)
	if size < 4 {
		mask = 1<<(8*size) - 1
	}
	samples := make([][]uint32, channels)
	for ch := range samples {
		samples[ch] = make([]uint32, words)
		for i := range samples[ch] {
			samples[ch][i] = (uint32(ch+1)<<8 | uint32(i)) & mask
		}
	}
	return samples
}

func runStream(ctx context.Context, f *runFlags) error {
	b, err := findBoard()
	if err != nil {
		return err
	}
	frame, err := f.frame()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	if f.duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, f.duration)
		defer cancelTimeout()
	}

	var port regs.Port
	var dev *sim.Device
	switch f.device {
	case "":
		dev = sim.New(b, log.Default())
		defer dev.Close()
		port = dev
		// Untouched pads read high.
		for _, p := range b.Touch {
			dev.SetAnalog(p.ADCChannel, 2*p.Limit)
		}
	default:
		name := f.device
		if name == "auto" {
			name = ""
		}
		conn, err := link.Open(name, f.baud)
		if err != nil {
			return err
		}
		defer conn.Close()
		port = link.NewPort(conn)
	}

	l := f.layout(b)
	s, err := stream.Start(ctx, stream.Config{
		Board:      b,
		Port:       port,
		Frame:      frame,
		Channels:   l.Channels,
		Words:      l.Words,
		WordSize:   l.WordSize,
		Samples:    pattern(l.Channels, l.Words, l.WordSize),
		DMAChannel: f.dmaChannel,
		Lines:      f.lines,
		Log:        log.Default(),
	})
	if err != nil {
		return err
	}
	log.Printf("streaming %d channels of %d words, bit clock %s", l.Channels, l.Words, s.Geometry.BitClock)

	errs := make(chan error, 3)
	workers := 0
	if dev != nil {
		workers++
		go func() {
			errs <- dev.Run(ctx, frame.SampleRate, 10*time.Millisecond)
		}()
	}
	if len(b.Touch) > 0 {
		sensor, err := startTouch(b, port, f.calibrate)
		if err != nil {
			return errors.Join(err, stopStream(s))
		}
		workers++
		go func() {
			errs <- sensor.Run(ctx, 50*time.Millisecond, func(pad int, touched bool) {
				log.Printf("%s touched: %v", sensor.Pads[pad].Name, touched)
			})
		}()
	}
	if f.interactive {
		workers++
		go func() {
			errs <- console(ctx, cancel, func(pad int) {
				if dev == nil || pad >= len(b.Touch) {
					return
				}
				p := b.Touch[pad]
				dev.SetAnalog(p.ADCChannel, 0)
				time.AfterFunc(500*time.Millisecond, func() {
					dev.SetAnalog(p.ADCChannel, 2*p.Limit)
				})
			})
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		workers--
		cancel()
	}
	for range workers {
		runErr = errors.Join(runErr, <-errs)
	}
	if st, err := s.State(); err == nil {
		log.Printf("channel state: %v", st)
	}
	if dev != nil {
		log.Printf("major loops: %d, underruns: %d", dev.MajorLoops(f.dmaChannel), dev.Underruns())
	}
	return errors.Join(runErr, stopStream(s))
}

// calibrationDeviations is how many standard deviations below the
// untouched mean a calibrated pad reads touched.
const calibrationDeviations = 3

// startTouch starts the touch sensor of b. If samples is positive,
// the pad limits are calibrated from that many readings; the pads
// must not be touched meanwhile.
func startTouch(b *board.Board, p regs.Port, samples int) (*touch.Sensor, error) {
	if err := b.EnableClocks(p, "adc"); err != nil {
		return nil, err
	}
	s, err := touch.New(b, p)
	if err != nil {
		return nil, err
	}
	if samples <= 0 {
		return s, nil
	}
	for i := range s.Pads {
		if err := s.Calibrate(i, samples, calibrationDeviations); err != nil {
			return nil, err
		}
		log.Printf("%s limit: %d", s.Pads[i].Name, s.Pads[i].Limit)
	}
	return s, nil
}

func stopStream(s *stream.Stream) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// console reads single key commands from the terminal until ctx is
// done: q stops streaming and the digits 1 to 9 touch a pad.
func console(ctx context.Context, stop func(), touchPad func(pad int)) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()
	fmt.Fprintln(t.Output(), "q: quit, 1-9: touch pad")
	keys := make(chan rune)
	go func() {
		for {
			r, err := t.ReadRune()
			if err != nil {
				close(keys)
				return
			}
			select {
			case keys <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-keys:
			if !ok {
				return nil
			}
			switch {
			case r == 'q':
				stop()
				return nil
			case r >= '1' && r <= '9':
				touchPad(int(r - '1'))
			}
		}
	}
}
