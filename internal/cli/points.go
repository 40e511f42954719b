package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/pipeline"
	"github.com/roach88/ddt/internal/series"
)

// PointsOptions holds flags for the points command.
type PointsOptions struct {
	*RootOptions
	offsetFlags

	IO      []string
	VFD     []string
	Presets []string
}

func (o *PointsOptions) request() pipeline.PointRequest {
	return pipeline.PointRequest{IO: o.IO, VFD: o.VFD, Presets: o.Presets}
}

// NewPointsCommand creates the points command.
func NewPointsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PointsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "points",
		Short: "Export time series from the merged store",
		Long: `Export IO, drive and preset time series from the merged store, shifted to
machine-local time. Point and preset names come from the config's point
catalog. Inactive points are skipped; a preset stops at its first inactive
point.

Example:
  ddt points --io "Hydraulic Pressure" --vfd "Left Cutter Current"
  ddt points --preset Cutting --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoints(cmd, opts)
		},
	}

	opts.offsetFlags.register(cmd)
	cmd.Flags().StringSliceVar(&opts.IO, "io", nil, "IO point names")
	cmd.Flags().StringSliceVar(&opts.VFD, "vfd", nil, "drive point names")
	cmd.Flags().StringSliceVar(&opts.Presets, "preset", nil, "preset graph names")

	return cmd
}

func runPoints(cmd *cobra.Command, opts *PointsOptions) error {
	req := opts.request()
	if req.Empty() {
		return NewExitError(ExitCommandError, "select at least one --io, --vfd or --preset")
	}

	env, err := opts.openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if err := opts.offsetFlags.apply(cmd, env); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	sel, err := env.pipe.Points(ctx, req)
	if err != nil {
		return failDecode(env.out, err)
	}

	layout := env.cfg.Incidents.TimestampLayout
	return env.out.Success(env.pipe.Session().ID, sel, func(w io.Writer) {
		writeSelection(w, sel, layout)
	})
}

func writeSelection(w io.Writer, sel *series.Selection, layout string) {
	if sel.Len() == 0 {
		fmt.Fprintln(w, "No series found.")
		return
	}
	writeGroup(w, "IO", sel.IO, layout)
	writeGroup(w, "VFD", sel.VFD, layout)
	for _, preset := range sortedKeys(sel.Presets) {
		writeGroup(w, "Preset "+preset, sel.Presets[preset], layout)
	}
}

func writeGroup(w io.Writer, title string, group map[string][]series.Point, layout string) {
	if len(group) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, name := range sortedKeys(group) {
		points := group[name]
		if len(points) == 0 {
			fmt.Fprintf(w, "  %-28s no samples\n", name)
			continue
		}
		lo, hi := points[0].Value, points[0].Value
		for _, p := range points[1:] {
			lo = min(lo, p.Value)
			hi = max(hi, p.Value)
		}
		fmt.Fprintf(w, "  %-28s %6d samples  %s .. %s  min %g max %g\n",
			name, len(points),
			incident.FormatTimestamp(points[0].Timestamp, layout),
			incident.FormatTimestamp(points[len(points)-1].Timestamp, layout),
			lo, hi)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
