package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"tdmstream.io/board"
	"tdmstream.io/edma"
	"tdmstream.io/sai"
)

func newDeriveCmd() *cobra.Command {
	var f frameFlags
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the clocking and transfer descriptor of a stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := findBoard()
			if err != nil {
				return err
			}
			frame, err := f.frame()
			if err != nil {
				return err
			}
			tx := &sai.Transmitter{
				Base:        b.Peripherals.SAI,
				MasterClock: b.SAIClock(),
				FIFODepth:   b.SAI.FIFODepth,
				Lines:       b.SAI.Lines,
			}
			g, err := tx.Validate(frame)
			if err != nil {
				return err
			}
			d, err := edma.Derive(tx.FIFOAddr(0), f.layout(b))
			if err != nil {
				return err
			}
			printDerived(cmd.OutOrStdout(), b, g, d)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printDerived(w io.Writer, b *board.Board, g sai.Geometry, d edma.Descriptor) {
	fmt.Fprintf(w, "master clock  %s\n", b.SAIClock())
	fmt.Fprintf(w, "bit clock     %s (divisor %d, %d bits per frame)\n", g.BitClock, g.Divisor, g.FrameBits)
	fmt.Fprintf(w, "source        0x%08x stride %d size %d\n", d.SrcAddr, d.SrcStride, d.SrcSize)
	fmt.Fprintf(w, "destination   0x%08x stride %d size %d\n", d.DstAddr, d.DstStride, d.DstSize)
	fmt.Fprintf(w, "minor loop    %d bytes, offset %d\n", d.MinorBytes, d.MinorOffset)
	fmt.Fprintf(w, "major loop    %d iterations, last %d\n", d.MajorStart, d.SrcLast)
	for i, v := range edma.Encode(d) {
		fmt.Fprintf(w, "tcd[%d]        0x%08x\n", i, v)
	}
}
