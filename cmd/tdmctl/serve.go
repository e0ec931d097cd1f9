package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"

	"github.com/spf13/cobra"
	"tdmstream.io/board"
	"tdmstream.io/driver/link"
	"tdmstream.io/edma"
	"tdmstream.io/regs"
)

type serveFlags struct {
	device string
	baud   int
	uio    string
	phys   bool
	base   uint32
	size   int
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve register accesses over the serial link",
		Long: `Serve register accesses from a host running "tdmctl run --device"
over the serial link.

With --phys the peripherals and memory of the board are mapped through
/dev/mem. With --uio a single window of --size bytes from a userspace
I/O device is served at bus address --base.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(&f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.device, "device", "d", "", "serial device to serve on")
	fl.IntVar(&f.baud, "baud", link.DefaultBaud, "serial link speed")
	fl.StringVar(&f.uio, "uio", "", "userspace I/O device to map, such as /dev/uio0")
	fl.BoolVar(&f.phys, "phys", false, "map the board through /dev/mem")
	fl.Uint32Var(&f.base, "base", 0, "bus address of the --uio window")
	fl.IntVar(&f.size, "size", 0x1000, "size of the --uio window")
	cmd.MarkFlagsMutuallyExclusive("uio", "phys")
	return cmd
}

// pageSize is the alignment of a peripheral register block.
const pageSize = 0x1000

// windows returns the register and memory windows of b, merged where
// blocks share a page.
func windows(b *board.Board) []board.Region {
	p := b.Peripherals
	blocks := []board.Region{
		{Base: p.SAI, Size: pageSize},
		{Base: p.DMA, Size: edma.TCD0 + 0x20*b.DMA.Channels},
		{Base: p.DMAMUX, Size: pageSize},
		{Base: p.PCC, Size: pageSize},
		{Base: p.SCG, Size: pageSize},
		{Base: p.WDOG, Size: pageSize},
		{Base: p.ADC, Size: pageSize},
	}
	for _, a := range p.Ports {
		blocks = append(blocks, board.Region{Base: a, Size: pageSize})
	}
	for _, a := range p.GPIO {
		blocks = append(blocks, board.Region{Base: a, Size: pageSize})
	}
	for i := range blocks {
		r := &blocks[i]
		start := r.Base &^ (pageSize - 1)
		end := (uint64(r.Base) + uint64(r.Size) + pageSize - 1) &^ (pageSize - 1)
		r.Base, r.Size = start, int(end-uint64(start))
	}
	blocks = append(blocks, b.Memory)
	slices.SortFunc(blocks, func(x, y board.Region) int {
		return cmp.Compare(x.Base, y.Base)
	})
	var merged []board.Region
	for _, r := range blocks {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if end := uint64(last.Base) + uint64(last.Size); uint64(r.Base) <= end {
				last.Size = int(max(end, uint64(r.Base)+uint64(r.Size)) - uint64(last.Base))
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}

// mapper maps a window of bus addresses.
type mapper func(r board.Region) (regs.Port, io.Closer, error)

// mapBus maps every window into a bus. The returned function unmaps
// them.
func mapBus(ws []board.Region, m mapper) (regs.Bus, func() error, error) {
	var bus regs.Bus
	var closers []io.Closer
	unmap := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
	for _, w := range ws {
		p, c, err := m(w)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("map 0x%08x: %w", uint32(w.Base), err), unmap())
		}
		closers = append(closers, c)
		bus = append(bus, regs.Window{Base: w.Base, Size: w.Size, Port: p})
	}
	return bus, unmap, nil
}

func mapPhys(r board.Region) (regs.Port, io.Closer, error) {
	m, err := regs.MapPhys(r.Base, r.Size)
	if err != nil {
		return nil, nil, err
	}
	return m, m, nil
}

func serve(f *serveFlags) error {
	b, err := findBoard()
	if err != nil {
		return err
	}
	var ws []board.Region
	var m mapper
	switch {
	case f.uio != "":
		if f.size <= 0 {
			return fmt.Errorf("invalid window size %d", f.size)
		}
		ws = []board.Region{{Base: regs.Addr(f.base), Size: f.size}}
		m = func(r board.Region) (regs.Port, io.Closer, error) {
			w, err := regs.OpenUIO(f.uio, r.Base, r.Size)
			if err != nil {
				return nil, nil, err
			}
			return w, w, nil
		}
	case f.phys:
		ws = windows(b)
		m = mapPhys
	default:
		return errors.New("one of --uio or --phys is required")
	}
	bus, unmap, err := mapBus(ws, m)
	if err != nil {
		return err
	}
	defer unmap()
	conn, err := link.Open(f.device, f.baud)
	if err != nil {
		return err
	}
	defer conn.Close()
	for _, w := range bus {
		log.Printf("serving 0x%08x+%#x", uint32(w.Base), w.Size)
	}
	return link.Serve(conn, bus)
}
