package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/store"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [store]",
		Short: "Show the tables and row counts of a store",
		Long: `Show the size, tables and row counts of a store. Without an argument the
merged store is shown; with one, the given source fragment is opened
read-only.

Example:
  ddt info
  ddt info ./download/FB20.DC.1.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rootOpts.openEnvironment(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			var st *store.Store
			if len(args) == 1 {
				st, err = store.OpenReadOnly(args[0])
				if err != nil {
					return env.out.Fail(ExitCommandError, CodeStore, "failed to open store", err)
				}
				defer st.Close()
			} else {
				st, err = env.pipe.Session().MergedStore(ctx)
				if err != nil {
					return failDecode(env.out, err)
				}
			}

			info, err := st.Info(ctx)
			if err != nil {
				return env.out.Fail(ExitFailure, CodeStore, "failed to read store", err)
			}
			return env.out.Success(env.pipe.Session().ID, info, func(w io.Writer) {
				writeInfo(w, info)
			})
		},
	}
	return cmd
}

func writeInfo(w io.Writer, info *store.Info) {
	fmt.Fprintf(w, "%s (%d bytes)\n", info.Path, info.SizeBytes)
	for _, t := range info.Tables {
		fmt.Fprintf(w, "  %-24s %8d rows\n", t.Name, t.Rows)
	}
}
