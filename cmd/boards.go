package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sergev/bci/board"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List supported boards and configured sessions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Supported boards:\n")
		for _, info := range board.Registered() {
			if info.VendorID != 0 || info.ProductID != 0 {
				fmt.Fprintf(out, "    %-12s USB serial %04x:%04x\n", info.Name, info.VendorID, info.ProductID)
			} else {
				fmt.Fprintf(out, "    %s\n", info.Name)
			}
		}

		names := make([]string, 0, len(conf.Sessions))
		for name := range conf.Sessions {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "\nSessions in %s:\n", confSrc)
		for _, name := range names {
			s := conf.Sessions[name]
			mark := " "
			if name == conf.Default || len(names) == 1 {
				mark = "*"
			}
			fmt.Fprintf(out, "  %s %-12s %s\n", mark, name, s.Board.Type)
		}
	},
}

func init() {
	rootCmd.AddCommand(boardsCmd)
}
