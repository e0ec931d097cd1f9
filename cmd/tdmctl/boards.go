package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"tdmstream.io/board"
)

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the supported boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCORE\tBUS\tMEMORY\tPADS")
			for _, b := range board.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t0x%08x+%d\t%d\n",
					b.Name, b.Clocks.Core, b.Clocks.Bus, uint32(b.Memory.Base), b.Memory.Size, len(b.Touch))
			}
			return w.Flush()
		},
	}
}
