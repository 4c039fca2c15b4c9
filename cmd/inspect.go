package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/bci/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the contents of a saved dataset",
	Long:  "Print the run details and the trial list of a dataset saved in .npz format.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := store.Read(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run: %s\n", data.RunID)
		fmt.Fprintf(out, "Subject: %s\n", data.Subject)
		fmt.Fprintf(out, "Kind: %s\n", data.Kind)
		fmt.Fprintf(out, "Started: %s\n", data.StartedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Sampling Rate: %g Hz\n", data.SamplingRate)
		fmt.Fprintf(out, "Channels: %d\n", data.Channels)
		fmt.Fprintf(out, "Blocks: %d\n", data.BlocksCompleted)
		fmt.Fprintf(out, "Trials: %s\n", data.Summary())
		for i, t := range data.Trials {
			short := ""
			if t.Short {
				short = fmt.Sprintf(" (short, expected %d)", t.Expected)
			}
			fmt.Fprintf(out, "    %4d  block %-3d %-6s %5d samples  %s%s\n", i, t.Block+1, t.Label, t.Len(), t.Phase, short)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
