package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/bci/store"
)

var runsSubject string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved runs from the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer index.Close()

		runs, err := index.Runs(cmd.Context(), runsSubject)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintf(out, "No runs recorded.\n")
			return nil
		}
		for _, r := range runs {
			uploaded := ""
			if r.RemoteKey != "" {
				uploaded = "  uploaded"
			}
			fmt.Fprintf(out, "%s  %s  %-10s %-8s %3d trials (%d REST, %d SWITCH)%s\n",
				r.ID.String()[:8], r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Subject, r.Kind, r.Trials, r.Rest, r.Switch, uploaded)
			fmt.Fprintf(out, "          %s\n", r.Path)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsSubject, "subject", "", "show runs of this subject only")
	rootCmd.AddCommand(runsCmd)
}

// openIndex opens the run index named by the configuration
func openIndex(ctx context.Context) (*store.Index, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	path, err := conf.Storage.IndexPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("run index is disabled in the configuration")
	}
	return store.OpenIndex(ctx, path)
}
