package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/pipeline"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	offsetFlags
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the machine and time span of the download",
		Long: `Print the serial number and the first and last sync times recorded in the
merged store, shifted to machine-local time.

Example:
  ddt report
  ddt report --offset -5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// Resolve first so Report never waits on a path that is not running.
			if _, err := env.pipe.Offset(ctx); err != nil {
				return failDecode(env.out, err)
			}
			report, err := env.pipe.Report(ctx)
			if err != nil {
				return failDecode(env.out, err)
			}
			return env.out.Success(env.pipe.Session().ID, report, func(w io.Writer) {
				writeReport(w, report)
			})
		},
	}

	opts.offsetFlags.register(cmd)
	return cmd
}

func writeReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "Serial Number: %s\n", r.SerialNumber)
	if r.Start == "" && r.End == "" {
		fmt.Fprintln(w, "Date: unknown")
		fmt.Fprintln(w, "Time: unknown")
	} else {
		startDate, startTime := splitTimestamp(r.Start)
		endDate, endTime := splitTimestamp(r.End)
		fmt.Fprintf(w, "Date: %s - %s\n", startDate, endDate)
		fmt.Fprintf(w, "Time: %s - %s\n", startTime, endTime)
	}
	fmt.Fprintf(w, "Offset: %s\n", r.OffsetLabel)
}

// splitTimestamp splits a rendered timestamp at its first space.
func splitTimestamp(ts string) (date, clock string) {
	date, clock, _ = strings.Cut(ts, " ")
	return date, clock
}
