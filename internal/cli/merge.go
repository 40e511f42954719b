package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/merge"
	"github.com/roach88/ddt/internal/pipeline"
)

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [source...]",
		Short: "Merge source fragments into the merged store",
		Long: `Merge source store fragments into one merged store in the data directory.

Without arguments every file in the data directory whose name contains the
configured source pattern is merged. An existing merged store is replaced.

Example:
  ddt merge
  ddt merge ./download/FB20.DC.1.db ./download/FB20.DC.2.db --format json`,
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

			report, err := runMerge(ctx, env, args)
			if err != nil {
				return env.out.Fail(ExitFailure, CodeMerge, "merge failed", err)
			}
			return env.out.Success(env.pipe.Session().ID, report, func(w io.Writer) {
				writeMergeReport(w, report)
			})
		},
	}
	return cmd
}

// runMerge runs a merge job and relays its progress to the verbose log.
func runMerge(ctx context.Context, env *environment, paths []string) (*merge.Report, error) {
	statuses, err := env.pipe.Start(ctx, pipeline.Job{Kind: pipeline.JobMerge, Paths: paths})
	if err != nil {
		return nil, err
	}

	var final pipeline.Status
	for s := range statuses {
		if s.Done {
			final = s
			continue
		}
		env.out.VerboseLog("%s", s.Message)
	}
	if final.Err != nil {
		return final.Merge, final.Err
	}
	if !final.Done {
		return nil, ctx.Err()
	}
	return final.Merge, nil
}

func writeMergeReport(w io.Writer, r *merge.Report) {
	fmt.Fprintf(w, "Merged %d of %d sources into %s\n", r.SourcesMerged, r.SourcesSeen, r.Target)
	fmt.Fprintf(w, "Batches: %d (folds: %d)\n", r.Batches, r.Folds)
	fmt.Fprintf(w, "Rows: %d across %d tables\n", r.TotalRows(), len(r.Tables))
	if len(r.References) > 0 {
		note := ""
		if r.ReferenceFallback {
			note = " (fallback)"
		}
		fmt.Fprintf(w, "Schema reference: %s%s\n", r.References[0], note)
	}
	for _, name := range r.TableNames() {
		c := r.Tables[name]
		fmt.Fprintf(w, "  %-24s %8d rows  %d sources", name, c.Rows, c.Sources)
		if c.Skipped > 0 {
			fmt.Fprintf(w, "  %d skipped", c.Skipped)
		}
		fmt.Fprintln(w)
	}
	if r.SourcesSkipped > 0 || len(r.Problems) > 0 {
		fmt.Fprintf(w, "Skipped: %d sources, %d tables\n", r.SourcesSkipped, r.SkippedTables())
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}
