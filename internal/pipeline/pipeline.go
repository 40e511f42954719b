// Package pipeline sequences one session's work: merge the source fragments,
// query the merged store, decode incidents, resolve the time zone offset and
// hand finished data to writers.
//
// Every data path shifts timestamps exactly once per fetch. Data returned by
// the pipeline is already shifted; callers must not apply the offset again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ddt/internal/config"
	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/merge"
	"github.com/roach88/ddt/internal/search"
	"github.com/roach88/ddt/internal/series"
	"github.com/roach88/ddt/internal/session"
	"github.com/roach88/ddt/internal/store"
	"github.com/roach88/ddt/internal/textdict"
	"github.com/roach88/ddt/internal/timezone"
	"github.com/roach88/ddt/internal/users"
)

// ErrJobRunning is returned when a merge or decode is already in progress.
var ErrJobRunning = errors.New("a job of this kind is already running")

// Pipeline runs the stages of one session.
//
// At most one merge and one decode run at a time; a second attempt fails
// with ErrJobRunning instead of queueing.
type Pipeline struct {
	sess *session.Session
	cfg  *config.Config

	// Prompter, if set, is asked for the offset when the store has none.
	Prompter timezone.Prompter

	merging  chan struct{}
	decoding chan struct{}
}

// New creates a pipeline over sess.
func New(sess *session.Session) (*Pipeline, error) {
	if sess == nil || sess.Config == nil {
		return nil, errors.New("pipeline needs a configured session")
	}
	if err := sess.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Pipeline{
		sess:     sess,
		cfg:      sess.Config,
		merging:  make(chan struct{}, 1),
		decoding: make(chan struct{}, 1),
	}, nil
}

// Session returns the pipeline's session.
func (p *Pipeline) Session() *session.Session { return p.sess }

func tryAcquire(sem chan struct{}) bool {
	select {
	case sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func release(sem chan struct{}) { <-sem }

// Load replaces the merged store with a merge of paths. With no paths the
// data directory is searched for sources. progress, if non-nil, is called
// after each batch.
func (p *Pipeline) Load(ctx context.Context, paths []string, progress func(merge.BatchEvent)) (*merge.Report, error) {
	if !tryAcquire(p.merging) {
		return nil, fmt.Errorf("merge: %w", ErrJobRunning)
	}
	defer release(p.merging)
	return p.load(ctx, paths, progress)
}

func (p *Pipeline) load(ctx context.Context, paths []string, progress func(merge.BatchEvent)) (*merge.Report, error) {
	log := p.sess.Logger()

	if len(paths) == 0 {
		found, err := merge.DiscoverSources(p.cfg.DataDir, p.cfg.Merge.SourcePattern)
		if err != nil {
			return nil, err
		}
		paths = found
	}

	if err := p.cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := p.sess.DeleteMergedStore(ctx); err != nil {
		return nil, fmt.Errorf("remove previous merged store: %w", err)
	}

	engine, err := merge.New(p.cfg.Merge)
	if err != nil {
		return nil, err
	}
	engine.OnBatch = progress

	log.Info("loading sources", "sources", len(paths))
	report, err := engine.Merge(ctx, p.cfg.MergedStorePath(), paths)
	if err != nil {
		return report, fmt.Errorf("merge: %w", err)
	}
	return report, nil
}

// Offset resolves the session offset: the cached value, then the merged
// store, then the Prompter. An unresolved offset is not an error here; the
// returned Offset reports it.
func (p *Pipeline) Offset(ctx context.Context) (timezone.Offset, error) {
	st, err := p.sess.MergedStore(ctx)
	if err != nil {
		return timezone.Unresolved, err
	}

	lookups := []timezone.Lookup{
		timezone.StoreLookup(st, p.cfg.TimeZone.ParName, p.cfg.TimeZone.FallbackTidx),
	}
	if p.Prompter != nil {
		lookups = append(lookups, timezone.PromptLookup(p.Prompter))
	}

	o, err := p.sess.Resolver.Resolve(ctx, lookups...)
	if errors.Is(err, timezone.ErrOffsetUnresolved) {
		return o, nil
	}
	return o, err
}

// IncidentResult is the decoded incident list of a session.
type IncidentResult struct {
	Batch  *incident.Batch
	Offset timezone.Offset
	Index  *search.Index
}

// Incidents decodes every incident in the merged store and shifts them by
// the session offset. A missing text dictionary fails the whole call.
func (p *Pipeline) Incidents(ctx context.Context) (*IncidentResult, error) {
	if !tryAcquire(p.decoding) {
		return nil, fmt.Errorf("decode: %w", ErrJobRunning)
	}
	defer release(p.decoding)
	return p.incidents(ctx)
}

func (p *Pipeline) incidents(ctx context.Context) (*IncidentResult, error) {
	log := p.sess.Logger()

	dictPath, err := textdict.Find(p.cfg.DataDir, p.cfg.Dictionary.Glob)
	if err != nil {
		return nil, err
	}
	dict, err := textdict.Load(dictPath)
	if err != nil {
		return nil, err
	}
	log.Debug("text dictionary loaded", "path", dictPath, "entries", dict.Len(), "skipped", dict.Skipped())

	st, err := p.sess.MergedStore(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := st.Incidents(ctx)
	if err != nil {
		return nil, err
	}

	dir, closeDir := users.OpenOrEmpty(p.cfg.UserStorePath())
	defer func() {
		if err := closeDir(); err != nil {
			log.Warn("closing user store", "error", err)
		}
	}()

	decoder := incident.NewDecoder(dict, dir, p.decodeOptions())
	batch := decoder.DecodeAll(ctx, entries)

	o, err := p.Offset(ctx)
	if err != nil {
		return nil, err
	}
	timezone.ApplyIncidents(batch.Incidents, o, p.cfg.Incidents.TimestampLayout)

	return &IncidentResult{
		Batch:  batch,
		Offset: o,
		Index:  search.Build(batch.Incidents),
	}, nil
}

func (p *Pipeline) decodeOptions() incident.Options {
	c := p.cfg.Incidents
	return incident.Options{
		TimestampLayout:  c.TimestampLayout,
		DefaultPrecision: c.DefaultPrecision,
		Palette: incident.Palette{
			Clear:     c.Colors.Clear,
			Event:     c.Colors.Event,
			Warning:   c.Colors.Warning,
			Alarm:     c.Colors.Alarm,
			BlackText: c.Colors.BlackText,
		},
	}
}

// PointRequest names the series to export.
type PointRequest struct {
	IO      []string
	VFD     []string
	Presets []string
}

// Empty reports whether nothing was requested.
func (r PointRequest) Empty() bool {
	return len(r.IO) == 0 && len(r.VFD) == 0 && len(r.Presets) == 0
}

// Points fetches the requested series and shifts them by the session offset.
//
// Unknown and inactive points are skipped. A preset stops at its first
// unknown or inactive point, keeping the points before it.
func (p *Pipeline) Points(ctx context.Context, req PointRequest) (*series.Selection, error) {
	st, err := p.sess.MergedStore(ctx)
	if err != nil {
		return nil, err
	}
	log := p.sess.Logger()
	sel := series.NewSelection()

	for _, name := range req.IO {
		points, ok, err := p.ioSeries(ctx, st, name)
		if err != nil {
			return nil, err
		}
		if ok {
			sel.IO[name] = points
		}
	}

	for _, name := range req.VFD {
		points, ok, err := p.vfdSeries(ctx, st, name)
		if err != nil {
			return nil, err
		}
		if ok {
			sel.VFD[name] = points
		}
	}

	for _, preset := range req.Presets {
		members, known := p.cfg.Points.Presets[preset]
		if !known {
			log.Warn("unknown preset", "preset", preset)
			continue
		}
		for _, name := range members {
			fetch := p.ioSeries
			if _, isVFD := p.cfg.Points.VFD[name]; isVFD {
				fetch = p.vfdSeries
			}
			points, ok, err := fetch(ctx, st, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Info("preset stopped at unavailable point", "preset", preset, "point", name)
				break
			}
			sel.AddPreset(preset, name, points)
		}
	}

	o, err := p.Offset(ctx)
	if err != nil {
		return nil, err
	}
	timezone.ApplySeries(sel, o)
	return sel, nil
}

// ioSeries returns the finite samples of an IO point. ok is false when the
// point is unknown, inactive, or of a type with no configured table.
func (p *Pipeline) ioSeries(ctx context.Context, st *store.Store, name string) ([]series.Point, bool, error) {
	info, found, err := st.IOPoint(ctx, name)
	if err != nil {
		if store.IsMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !found || !info.Active {
		slog.Debug("io point skipped", "point", name, "found", found)
		return nil, false, nil
	}

	table, ok := p.cfg.Points.IOTables[info.Type]
	if !ok {
		slog.Warn("no table configured for io type", "point", name, "type", info.Type)
		return nil, false, nil
	}

	values, err := st.IOValues(ctx, table, info.ID)
	if err != nil {
		if store.IsMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return series.Finite(values), true, nil
}

// vfdSeries returns the finite samples of a catalogued drive value.
func (p *Pipeline) vfdSeries(ctx context.Context, st *store.Store, name string) ([]series.Point, bool, error) {
	point, known := p.cfg.Points.VFD[name]
	if !known {
		slog.Warn("unknown vfd point", "point", name)
		return nil, false, nil
	}

	info, found, err := st.VFDPoint(ctx, point.Name)
	if err != nil {
		if store.IsMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !found || !info.Active {
		slog.Debug("vfd point skipped", "point", name, "found", found)
		return nil, false, nil
	}

	values, err := st.VFDValues(ctx, info.ID, point.Type)
	if err != nil {
		if store.IsMissingTable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return series.Finite(values), true, nil
}

// Report describes the machine and time span of the download.
type Report struct {
	MachineID    string          `json:"machine_id"`
	SerialNumber string          `json:"serial_number"`
	Start        string          `json:"start,omitempty"`
	End          string          `json:"end,omitempty"`
	Offset       timezone.Offset `json:"-"`
	OffsetLabel  string          `json:"offset"`
}

// serialPrefix replaces the first three characters of the machine ID.
const serialPrefix = "LWS"

// SerialNumber derives the printed serial number from a machine ID.
func SerialNumber(machineID string) string {
	if len(machineID) <= 3 {
		return serialPrefix + machineID
	}
	return serialPrefix + machineID[3:]
}

// Report builds the download summary.
//
// When no offset has been published and the store has none, Report waits
// for another path (an incident decode and its prompt) to publish one.
func (p *Pipeline) Report(ctx context.Context) (*Report, error) {
	st, err := p.sess.MergedStore(ctx)
	if err != nil {
		return nil, err
	}
	info, err := st.ReportInfo(ctx)
	if err != nil && !store.IsMissingTable(err) {
		return nil, err
	}

	o, err := p.reportOffset(ctx, st)
	if err != nil {
		return nil, err
	}

	r := &Report{
		MachineID:    info.MachineID,
		SerialNumber: SerialNumber(info.MachineID),
		Offset:       o,
		OffsetLabel:  o.String(),
	}
	// No sync rows: leave the span empty rather than render the epoch.
	if info.First != 0 || info.Last != 0 {
		layout := p.cfg.Incidents.TimestampLayout
		r.Start = incident.FormatTimestamp(o.Shift(info.First), layout)
		r.End = incident.FormatTimestamp(o.Shift(info.Last), layout)
	}
	return r, nil
}

func (p *Pipeline) reportOffset(ctx context.Context, st *store.Store) (timezone.Offset, error) {
	if o, ok := p.sess.Resolver.Current(); ok {
		return o, nil
	}

	o, err := timezone.StoreLookup(st, p.cfg.TimeZone.ParName, p.cfg.TimeZone.FallbackTidx)(ctx)
	if err == nil && o.Resolved() {
		p.sess.Resolver.Publish(o)
		cur, _ := p.sess.Resolver.Current()
		return cur, nil
	}
	if err != nil {
		slog.Warn("report offset lookup failed", "error", err)
	}
	return p.sess.Resolver.Wait(ctx)
}

// Analysis is the full output of one session.
type Analysis struct {
	Incidents *IncidentResult
	Points    *series.Selection
	Report    *Report
}

// Analyze decodes incidents and fetches points concurrently, then builds the
// report. The offset is resolved once and shared by both paths.
func (p *Pipeline) Analyze(ctx context.Context, req PointRequest) (*Analysis, error) {
	out := &Analysis{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.Incidents(gctx)
		if err != nil {
			return fmt.Errorf("incidents: %w", err)
		}
		out.Incidents = res
		return nil
	})
	g.Go(func() error {
		sel, err := p.Points(gctx, req)
		if err != nil {
			return fmt.Errorf("points: %w", err)
		}
		out.Points = sel
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report, err := p.Report(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	out.Report = report
	return out, nil
}

// Close releases the session's store handles.
func (p *Pipeline) Close() error {
	return p.sess.Close()
}
