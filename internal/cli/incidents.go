package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/pipeline"
	"github.com/roach88/ddt/internal/session"
	"github.com/roach88/ddt/internal/textdict"
)

// IncidentsOptions holds flags for the incidents command.
type IncidentsOptions struct {
	*RootOptions
	offsetFlags

	Search     string
	FailedOnly bool
	Strict     bool
}

// IncidentList is the incidents command's result.
type IncidentList struct {
	Offset    string                     `json:"offset"`
	Total     int                        `json:"total"`
	Decoded   int                        `json:"decoded"`
	Failed    int                        `json:"failed"`
	Anomalies int                        `json:"anomalies"`
	Shown     int                        `json:"shown"`
	Incidents []incident.DecodedIncident `json:"incidents"`
}

// NewIncidentsCommand creates the incidents command.
func NewIncidentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncidentsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Decode the incident log of the merged store",
		Long: `Decode every incident in the merged store with the text dictionary found in
the data directory, shifted to machine-local time.

Search terms must all match; each term matches a word or part of a word.

Example:
  ddt incidents
  ddt incidents --search "motor overload" --offset 8
  ddt incidents --failed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncidents(cmd, opts)
		},
	}

	opts.offsetFlags.register(cmd)
	cmd.Flags().StringVarP(&opts.Search, "search", "s", "", "only show incidents matching all terms")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only show incidents that failed to decode")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit with failure when any incident failed to decode")

	return cmd
}

func runIncidents(cmd *cobra.Command, opts *IncidentsOptions) error {
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

	res, err := env.pipe.Incidents(ctx)
	if err != nil {
		return failDecode(env.out, err)
	}

	list := buildIncidentList(res, opts.Search, opts.FailedOnly)
	if err := env.out.Success(env.pipe.Session().ID, list, func(w io.Writer) {
		writeIncidents(w, list, opts.Verbose)
	}); err != nil {
		return err
	}

	if opts.Strict && list.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d incidents failed to decode", list.Failed))
	}
	return nil
}

// failDecode maps a decode-stage error to its exit code.
func failDecode(out *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, textdict.ErrDictionaryMissing):
		return out.Fail(ExitCommandError, CodeDictionary, "text dictionary not found", err)
	case errors.Is(err, session.ErrNoMergedStore):
		return out.Fail(ExitCommandError, CodeStore, "merged store not found", err)
	default:
		return out.Fail(ExitFailure, CodeStore, "decode failed", err)
	}
}

func buildIncidentList(res *pipeline.IncidentResult, query string, failedOnly bool) *IncidentList {
	b := res.Batch
	list := &IncidentList{
		Offset:    res.Offset.String(),
		Total:     len(b.Incidents),
		Decoded:   b.Decoded,
		Failed:    b.Failed,
		Anomalies: b.Anomalies,
		Incidents: []incident.DecodedIncident{},
	}

	for _, i := range res.Index.Search(query) {
		inc := b.Incidents[i]
		if failedOnly && !inc.Failed() {
			continue
		}
		list.Incidents = append(list.Incidents, inc)
	}
	list.Shown = len(list.Incidents)
	return list
}

func writeIncidents(w io.Writer, list *IncidentList, verbose bool) {
	for _, inc := range list.Incidents {
		marker := " "
		if inc.Failed() {
			marker = "!"
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, inc.Timestamp, inc.Text)
		if inc.HelpText != "" {
			fmt.Fprintf(w, "      %s\n", inc.HelpText)
		}
		if verbose {
			for _, p := range inc.Problems {
				fmt.Fprintf(w, "      [%s] %s\n", p.Code, p.Message)
			}
		}
	}
	fmt.Fprintf(w, "%d of %d incidents shown (%d decoded, %d failed, %d anomalies), offset %s\n",
		list.Shown, list.Total, list.Decoded, list.Failed, list.Anomalies, list.Offset)
}
