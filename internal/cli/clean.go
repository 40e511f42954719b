package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CleanOptions holds flags for the clean command.
type CleanOptions struct {
	*RootOptions
	Merged bool
}

// CleanResult lists what the clean command removed.
type CleanResult struct {
	Removed       []string `json:"removed"`
	MergedRemoved bool     `json:"merged_removed"`
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove source stores from the data directory",
		Long: `Remove every *.db file from the data directory except the user store.
With --merged the merged store is removed as well.

Locked files are retried after the configured delay before giving up.

Example:
  ddt clean
  ddt clean --merged`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			sess := env.pipe.Session()
			result := &CleanResult{}
			result.Removed, err = sess.Cleanup(ctx)
			if err != nil {
				return env.out.Fail(ExitFailure, CodeCleanup, "some files could not be removed", err)
			}
			if opts.Merged {
				if err := sess.DeleteMergedStore(ctx); err != nil {
					return env.out.Fail(ExitFailure, CodeCleanup, "merged store could not be removed", err)
				}
				result.MergedRemoved = true
			}
			if result.Removed == nil {
				result.Removed = []string{}
			}

			return env.out.Success(sess.ID, result, func(w io.Writer) {
				for _, path := range result.Removed {
					fmt.Fprintf(w, "removed %s\n", filepath.Base(path))
				}
				if result.MergedRemoved {
					fmt.Fprintf(w, "removed %s\n", env.cfg.MergedStore)
				}
				fmt.Fprintf(w, "%d files removed\n", len(result.Removed))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Merged, "merged", false, "also remove the merged store")
	return cmd
}
