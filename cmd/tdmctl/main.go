// Command tdmctl streams channel buffers over a TDM audio interface,
// to a simulated board or to a board attached by a serial link.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
	"tdmstream.io/board"
	"tdmstream.io/edma"
	"tdmstream.io/sai"
)

var boardName string

// frameFlags are shared by the commands that describe a transfer.
type frameFlags struct {
	channels  int
	words     int
	wordSize  int
	bits      int
	slots     int
	watermark int
	rate      string
	slotMask  uint32
}

func (f *frameFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVarP(&f.channels, "channels", "c", 2, "number of channel buffers")
	fl.IntVarP(&f.words, "words", "w", 8, "words per channel buffer")
	fl.IntVar(&f.wordSize, "word-size", 4, "bytes per buffer word")
	fl.IntVar(&f.bits, "bits", 32, "bits per slot")
	fl.IntVar(&f.slots, "slots", 8, "slots per frame")
	fl.IntVar(&f.watermark, "watermark", 4, "FIFO request watermark")
	fl.StringVarP(&f.rate, "rate", "r", "48kHz", "sample rate")
	fl.Uint32Var(&f.slotMask, "mask", 0, "mask of disabled slots")
}

func (f *frameFlags) frame() (sai.FrameConfig, error) {
	var rate physic.Frequency
	if err := rate.Set(f.rate); err != nil {
		return sai.FrameConfig{}, fmt.Errorf("invalid rate %q: %w", f.rate, err)
	}
	return sai.FrameConfig{
		WordBits:   f.bits,
		Slots:      f.slots,
		Watermark:  f.watermark,
		SampleRate: rate,
		SlotMask:   f.slotMask,
		MSBFirst:   true,
	}, nil
}

func (f *frameFlags) layout(b *board.Board) edma.Layout {
	return edma.Layout{
		Base:     uint32(b.Memory.Base),
		Channels: f.channels,
		Words:    f.words,
		WordSize: edma.Size(f.wordSize),
	}
}

func findBoard() (*board.Board, error) {
	return board.All().Find(boardName)
}

func main() {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tdmctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tdmctl",
		Short:         "Stream channel buffers over a TDM audio interface",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&boardName, "board", "b", "s32k148-evb", "board name")
	root.AddCommand(newRunCmd(), newDeriveCmd(), newBoardsCmd(), newServeCmd())
	return root
}
