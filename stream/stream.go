// Package stream brings up a board and starts streaming channel
// buffers to the audio interface without further CPU involvement.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tdmstream.io/audio"
	"tdmstream.io/board"
	"tdmstream.io/dmamux"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
	"tdmstream.io/sai"
	"tdmstream.io/sequencer"
)

type Config struct {
	Board *board.Board
	Port  regs.Port
	Frame sai.FrameConfig
	// Channels, Words and WordSize describe the channel buffers,
	// which are packed at the start of board memory.
	Channels int
	Words    int
	WordSize edma.Size
	// Samples holds the initial contents of the buffers, one slice
	// per channel. Missing samples are zero.
	Samples [][]uint32
	// DMAChannel carries the transfer.
	DMAChannel int
	// Lines is the mask of data lines to transmit on.
	Lines uint32
	Log   *log.Logger
}

// Stream is a running transfer.
type Stream struct {
	Geometry   sai.Geometry
	Descriptor edma.Descriptor
	Bank       *audio.Bank
	TX         *sai.Transmitter
	DMA        *edma.Controller
	Router     *dmamux.Router

	channel int
}

// Start runs the bring-up sequence and arms the transfer:
//
//	watchdog, clocks, gates, pins, configure, buffers, program, enable, arm
func Start(ctx context.Context, cfg Config) (*Stream, error) {
	b, p := cfg.Board, cfg.Port
	s := &Stream{
		TX: &sai.Transmitter{
			Port:        p,
			Base:        b.Peripherals.SAI,
			MasterClock: b.SAIClock(),
			FIFODepth:   b.SAI.FIFODepth,
			Lines:       b.SAI.Lines,
		},
		DMA:     &edma.Controller{Port: p, Base: b.Peripherals.DMA, Channels: b.DMA.Channels},
		channel: cfg.DMAChannel,
	}
	s.Router = &dmamux.Router{Port: p, Base: b.Peripherals.DMAMUX, Engine: s.DMA}
	layout := edma.Layout{
		Base:     uint32(b.Memory.Base),
		Channels: cfg.Channels,
		Words:    cfg.Words,
		WordSize: cfg.WordSize,
	}
	if !b.Memory.Contains(b.Memory.Base, layout.Bytes()) {
		return nil, fmt.Errorf("stream: %w: %d buffer bytes exceed board memory", edma.ErrConfig, layout.Bytes())
	}
	s.Bank = &audio.Bank{Mem: p, Layout: layout, Owner: s.DMA, DMAChannel: cfg.DMAChannel}

	seq := &sequencer.Sequence{Log: cfg.Log}
	steps := []sequencer.Step{
		{Name: "watchdog", Run: func(context.Context) error {
			return b.DisableWatchdog(p)
		}},
		{Name: "clocks", After: []string{"watchdog"}, Run: func(context.Context) error {
			return b.StartClocks(p)
		}},
		{Name: "gates", After: []string{"clocks"}, Run: func(context.Context) error {
			return b.EnableClocks(p, "porta", "portd", "porte", "sai", "dmamux")
		}},
		{Name: "pins", After: []string{"gates"}, Run: func(context.Context) error {
			return b.MuxPins(p)
		}},
		{Name: "configure", After: []string{"pins"}, Run: func(context.Context) error {
			g, err := s.TX.Configure(cfg.Frame)
			s.Geometry = g
			return err
		}},
		{Name: "buffers", After: []string{"clocks"}, Run: func(context.Context) error {
			for ch := range cfg.Channels {
				if ch >= len(cfg.Samples) {
					break
				}
				if err := s.Bank.Write(ch, 0, cfg.Samples[ch]); err != nil {
					return err
				}
			}
			return nil
		}},
		{Name: "program", After: []string{"configure", "buffers"}, Run: func(context.Context) error {
			d, err := edma.Derive(s.TX.FIFOAddr(0), layout)
			if err != nil {
				return err
			}
			s.Descriptor = d
			if err := s.DMA.Init(); err != nil {
				return err
			}
			if err := s.Router.Bind(dmamux.Source(b.DMA.SAITxSource), cfg.DMAChannel); err != nil {
				return err
			}
			return s.Router.Program(cfg.DMAChannel, d, layout.Bytes())
		}},
		{Name: "enable", After: []string{"program"}, Run: func(context.Context) error {
			return s.TX.Enable(cfg.Lines)
		}},
		{Name: "arm", After: []string{"enable"}, Run: func(context.Context) error {
			return s.Router.Arm(cfg.DMAChannel)
		}},
	}
	for _, st := range steps {
		if err := seq.Add(st); err != nil {
			return nil, err
		}
	}
	if err := seq.Run(ctx); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return s, nil
}

func (s *Stream) State() (edma.State, error) {
	return s.Router.State(s.channel)
}

// Stop halts the transfer and the transmitter. The buffers may be
// rewritten afterwards.
func (s *Stream) Stop(ctx context.Context) error {
	return errors.Join(s.Router.Stop(ctx, s.channel), s.TX.Disable())
}
