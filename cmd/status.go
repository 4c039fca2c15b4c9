package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/bci/board"
)

var statusSession string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the EEG board",
	Long:  "Connect to the board of a session and print its details.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, name, err := conf.Session(statusSession)
		if err != nil {
			return err
		}
		b, err := board.Open(sess.BoardConfig())
		if err != nil {
			return fmt.Errorf("failed to open board: %w", err)
		}
		if err := b.Connect(); err != nil {
			return err
		}
		defer b.Disconnect()

		out := cmd.OutOrStdout()
		if p, ok := b.(board.StatusPrinter); ok {
			p.PrintStatus()
		} else {
			fmt.Fprintf(out, "Board: %s\n", b.Name())
			fmt.Fprintf(out, "Sampling Rate: %g Hz\n", b.SamplingRate())
			fmt.Fprintf(out, "Channels: %d\n", b.Channels())
		}

		sc, err := sess.Script()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nConfiguration: %s\n", confSrc)
		fmt.Fprintf(out, "Session: %s\n", name)
		fmt.Fprintf(out, "Script: %d phases, %d recorded, %v per block\n",
			len(sc), sc.RecordingPhases(), sc.BlockDuration())
		fmt.Fprintf(out, "Blocks: %d\n", sess.BlockCount())
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusSession, "session", "s", "", "session name from the configuration")
	rootCmd.AddCommand(statusCmd)
}
