package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/merge"
	"github.com/roach88/ddt/internal/pipeline"
	"github.com/roach88/ddt/internal/series"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*PointsOptions

	SkipMerge bool
}

// RunResult is the run command's result.
type RunResult struct {
	Merge     *merge.Report     `json:"merge,omitempty"`
	Report    *pipeline.Report  `json:"report"`
	Incidents *IncidentList     `json:"incidents"`
	Points    *series.Selection `json:"points,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{PointsOptions: &PointsOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Merge, decode and export in one pass",
		Long: `Run the whole pipeline: merge the sources, then decode incidents and export
the selected series concurrently, then print the download report.

The time zone offset is resolved once and shared by every stage.

Example:
  ddt run
  ddt run --preset Cutting --offset 8 --format json
  ddt run --skip-merge --io "Hydraulic Pressure"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll(cmd, opts, args)
		},
	}

	opts.offsetFlags.register(cmd)
	cmd.Flags().StringSliceVar(&opts.IO, "io", nil, "IO point names")
	cmd.Flags().StringSliceVar(&opts.VFD, "vfd", nil, "drive point names")
	cmd.Flags().StringSliceVar(&opts.Presets, "preset", nil, "preset graph names")
	cmd.Flags().BoolVar(&opts.SkipMerge, "skip-merge", false, "use the existing merged store")

	return cmd
}

func runAll(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	env, err := opts.openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := opts.offsetFlags.validate(cmd); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result := &RunResult{}
	if !opts.SkipMerge {
		result.Merge, err = runMerge(ctx, env, paths)
		if err != nil {
			return env.out.Fail(ExitFailure, CodeMerge, "merge failed", err)
		}
	}

	// Loading a download resets the offset, so flags apply to the new store.
	if err := opts.offsetFlags.apply(cmd, env); err != nil {
		return err
	}

	// Resolve up front so a prompt happens before the concurrent stages.
	if _, err := env.pipe.Offset(ctx); err != nil {
		return failDecode(env.out, err)
	}

	analysis, err := env.pipe.Analyze(ctx, opts.request())
	if err != nil {
		return failDecode(env.out, err)
	}

	result.Report = analysis.Report
	result.Incidents = buildIncidentList(analysis.Incidents, "", false)
	if analysis.Points.Len() > 0 {
		result.Points = analysis.Points
	}

	layout := env.cfg.Incidents.TimestampLayout
	return env.out.Success(env.pipe.Session().ID, result, func(w io.Writer) {
		if result.Merge != nil {
			writeMergeReport(w, result.Merge)
			fmt.Fprintln(w)
		}
		writeReport(w, result.Report)
		fmt.Fprintln(w)
		writeIncidents(w, result.Incidents, opts.Verbose)
		if analysis.Points.Len() > 0 {
			fmt.Fprintln(w)
			writeSelection(w, analysis.Points, layout)
		}
	})
}
