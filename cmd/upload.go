package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sergev/bci/store"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [RUN_ID...]",
	Short: "Upload saved runs to the object store",
	Long:  "Upload the given runs, or every indexed run which was not uploaded yet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rc, ok := conf.Storage.RemoteConfig()
		if !ok {
			return errors.New("no [storage.remote] section in the configuration")
		}
		remote, err := store.NewRemote(rc, logger)
		if err != nil {
			return err
		}
		index, err := openIndex(ctx)
		if err != nil {
			return err
		}
		defer index.Close()

		runs, err := pendingRuns(ctx, index, args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintf(out, "Nothing to upload.\n")
			return nil
		}
		if err := remote.EnsureBucket(ctx); err != nil {
			return err
		}

		var failed int
		for _, r := range runs {
			key := remote.Key(r.Subject, r.Kind, r.Path)
			if err := remote.Upload(ctx, r.Path, key); err != nil {
				fmt.Fprintf(out, "%s: %v\n", r.Path, err)
				failed++
				continue
			}
			if err := index.MarkUploaded(ctx, r.ID, key); err != nil {
				return err
			}
			fmt.Fprintf(out, "Uploaded %s to %s/%s\n", r.Path, remote.Bucket(), key)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(runs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

// pendingRuns returns the runs named by ids, or all runs not uploaded yet
func pendingRuns(ctx context.Context, index *store.Index, ids []string) ([]store.Run, error) {
	if len(ids) == 0 {
		all, err := index.Runs(ctx, "")
		if err != nil {
			return nil, err
		}
		var runs []store.Run
		for _, r := range all {
			if r.RemoteKey == "" {
				runs = append(runs, r)
			}
		}
		return runs, nil
	}

	runs := make([]store.Run, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid run id %q: %w", s, err)
		}
		r, err := index.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", s, err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}
