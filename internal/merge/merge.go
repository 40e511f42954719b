// Package merge combines many source store fragments into one merged store.
//
// SQLite bounds how many databases one connection may have attached, so
// sources are merged in batches of Config.BatchSize. Batch 0 writes straight
// into the final target; every later batch writes into a temporary store
// that is then folded into the final target and removed.
//
// Within a batch:
//  1. A target with no tables gets its schema from one reference source.
//  2. Each source is attached alone, every known table is copied with
//     INSERT ... SELECT *, and the source is detached.
//
// A failed table copy or table creation skips only that table/source pair,
// and an unreadable source skips only that source. Both are recorded in the
// Report. The merge fails only when no source is usable or a target cannot
// be opened.
package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/ddt/internal/config"
	"github.com/roach88/ddt/internal/store"
)

var (
	// ErrNoSources is returned when Merge is called with no paths.
	ErrNoSources = errors.New("no source stores to merge")

	// ErrNoUsableSource is returned when no source could be attached.
	ErrNoUsableSource = errors.New("no usable source store")
)

// tempPrefix names temporary batch targets. Such files always qualify as a
// schema reference.
const tempPrefix = "temp_merge_"

// BatchEvent is delivered to Engine.OnBatch after each batch completes.
type BatchEvent struct {
	Batch   int
	Batches int
	Sources int
}

// Engine merges source stores under an attach limit.
type Engine struct {
	cfg config.MergeConfig

	// OnBatch, if set, is called after each batch (including its fold).
	OnBatch func(BatchEvent)
}

// New creates an engine. The batch size plus the target must fit within the
// attach limit.
func New(cfg config.MergeConfig) (*Engine, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BatchSize+1 > cfg.AttachLimit {
		return nil, fmt.Errorf("batch size %d plus target exceeds attach limit %d", cfg.BatchSize, cfg.AttachLimit)
	}
	return &Engine{cfg: cfg}, nil
}

// Merge merges paths into target in order.
//
// The returned report is never nil. Report.OK() is true when at least one
// source was merged; the error is non-nil when no source was usable or a
// target could not be opened.
func (e *Engine) Merge(ctx context.Context, target string, paths []string) (*Report, error) {
	report := newReport(target)
	report.SourcesSeen = len(paths)
	if len(paths) == 0 {
		return report, ErrNoSources
	}

	batches := partition(paths, e.cfg.BatchSize)
	report.Batches = len(batches)
	slog.Info("merge started", "target", target, "sources", len(paths), "batches", len(batches))

	final, err := store.Open(target)
	if err != nil {
		return report, fmt.Errorf("open merge target: %w", err)
	}
	defer final.Close()

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if i == 0 {
			if err := e.mergeBatch(ctx, final, batch, report); err != nil {
				return report, err
			}
		} else if err := e.mergeViaTemp(ctx, final, i, batch, report); err != nil {
			return report, err
		}

		slog.Info("merge batch complete", "batch", i, "sources", len(batch))
		if e.OnBatch != nil {
			e.OnBatch(BatchEvent{Batch: i, Batches: len(batches), Sources: len(batch)})
		}
	}

	if err := final.Checkpoint(ctx); err != nil {
		slog.Warn("merge checkpoint failed", "target", target, "error", err)
	}

	slog.Info("merge finished",
		"merged", report.SourcesMerged,
		"skipped_sources", report.SourcesSkipped,
		"skipped_tables", report.SkippedTables(),
		"rows", report.TotalRows(),
	)

	if !report.OK() {
		return report, ErrNoUsableSource
	}
	return report, nil
}

// mergeViaTemp merges batch i into a fresh temporary store, folds it into
// final and removes it.
func (e *Engine) mergeViaTemp(ctx context.Context, final *store.Store, i int, batch []string, report *Report) error {
	dir := e.cfg.TempDir
	if dir == "" {
		dir = filepath.Dir(final.Path())
	}
	tempPath := filepath.Join(dir, fmt.Sprintf("%s%d.sqlite", tempPrefix, i))
	removeStoreFiles(tempPath)

	temp, err := store.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open temporary target %s: %w", tempPath, err)
	}
	defer removeStoreFiles(tempPath)

	mergeErr := e.mergeBatch(ctx, temp, batch, report)
	if err := temp.Close(); err != nil && mergeErr == nil {
		mergeErr = fmt.Errorf("close temporary target %s: %w", tempPath, err)
	}
	if mergeErr != nil {
		return mergeErr
	}

	return e.fold(ctx, final, tempPath, report)
}

// fold copies every row of a temporary target into final. Schema creation
// runs only if final still has no tables, which happens when no source of
// batch 0 was usable.
func (e *Engine) fold(ctx context.Context, final *store.Store, tempPath string, report *Report) error {
	conn, err := final.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := e.ensureSchema(ctx, conn, []string{tempPath}, report); err != nil {
		return err
	}
	tables, err := store.TableNames(ctx, conn, "main")
	if err != nil {
		return err
	}

	res := copySource(ctx, conn, tempPath, "fold", tables)
	if res.attachErr != nil {
		return fmt.Errorf("fold %s: %w", filepath.Base(tempPath), res.attachErr)
	}
	for _, tc := range res.tables {
		if tc.err != nil {
			if !store.IsMissingTable(tc.err) {
				report.problem(KindSchemaConflict, filepath.Base(tempPath), tc.table, tc.err)
			}
			continue
		}
		report.FoldedRows += tc.rows
	}
	report.Folds++
	return nil
}

// mergeBatch merges the sources of one batch into target. Source results are
// accounted in report.
func (e *Engine) mergeBatch(ctx context.Context, target *store.Store, batch []string, report *Report) error {
	conn, err := target.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := e.ensureSchema(ctx, conn, batch, report); err != nil {
		return err
	}
	tables, err := store.TableNames(ctx, conn, "main")
	if err != nil {
		return err
	}

	for i, src := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(src)

		if _, err := os.Stat(src); err != nil {
			slog.Warn("merge source unavailable", "source", name, "error", err)
			report.SourcesSkipped++
			report.problem(KindSourceUnavailable, name, "", err)
			continue
		}

		res := copySource(ctx, conn, src, fmt.Sprintf("source_%d", i), tables)
		if res.attachErr != nil {
			slog.Warn("merge source unavailable", "source", name, "error", res.attachErr)
			report.SourcesSkipped++
			report.problem(KindSourceUnavailable, name, "", res.attachErr)
			continue
		}

		report.SourcesMerged++
		for _, tc := range res.tables {
			counts := report.table(tc.table)
			if tc.err != nil {
				slog.Debug("merge table skipped", "source", name, "table", tc.table, "error", tc.err)
				counts.Skipped++
				if !store.IsMissingTable(tc.err) {
					report.problem(KindSchemaConflict, name, tc.table, tc.err)
				}
				continue
			}
			counts.Rows += tc.rows
			counts.Sources++
		}
	}
	return nil
}

// ensureSchema seeds an empty target with the tables of one reference source.
// Candidates are tried in preference order until one attaches.
func (e *Engine) ensureSchema(ctx context.Context, conn *sql.Conn, candidates []string, report *Report) error {
	existing, err := store.TableNames(ctx, conn, "main")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	refs, fallback := e.referenceOrder(candidates)
	if len(refs) == 0 {
		slog.Warn("no schema reference source", "patterns", e.cfg.ReferencePatterns)
		return nil
	}

	for _, ref := range refs {
		if _, err := os.Stat(ref); err != nil {
			continue
		}
		defs, err := readSchema(ctx, conn, ref)
		if err != nil {
			slog.Warn("schema reference unreadable", "source", filepath.Base(ref), "error", err)
			continue
		}

		for _, def := range defs {
			if _, err := conn.ExecContext(ctx, def.SQL); err != nil {
				slog.Debug("create table skipped", "table", def.Name, "error", err)
				report.problem(KindSchemaConflict, filepath.Base(ref), def.Name, err)
			}
		}

		report.References = append(report.References, filepath.Base(ref))
		if fallback[ref] {
			report.ReferenceFallback = true
			slog.Warn("schema reference chosen by fallback", "source", filepath.Base(ref))
		}
		slog.Debug("schema created", "reference", filepath.Base(ref), "tables", len(defs))
		return nil
	}

	slog.Warn("no schema reference source could be read")
	return nil
}

// referenceOrder returns the candidates that may serve as schema reference,
// best first. Files matching a configured pattern, or temporary targets,
// come first in pattern order. When FallbackToFirst is set the remaining
// candidates follow in their given order and are marked as fallbacks.
func (e *Engine) referenceOrder(candidates []string) ([]string, map[string]bool) {
	var ordered []string
	taken := map[string]bool{}

	for _, c := range candidates {
		if strings.HasPrefix(filepath.Base(c), tempPrefix) {
			ordered = append(ordered, c)
			taken[c] = true
		}
	}
	for _, pattern := range e.cfg.ReferencePatterns {
		for _, c := range candidates {
			if !taken[c] && strings.Contains(filepath.Base(c), pattern) {
				ordered = append(ordered, c)
				taken[c] = true
			}
		}
	}

	fallback := map[string]bool{}
	if e.cfg.FallbackToFirst {
		for _, c := range candidates {
			if !taken[c] {
				ordered = append(ordered, c)
				fallback[c] = true
			}
		}
	}
	return ordered, fallback
}

func readSchema(ctx context.Context, conn *sql.Conn, path string) ([]store.TableDef, error) {
	const alias = "schema_ref"
	if err := store.Attach(ctx, conn, path, alias); err != nil {
		return nil, err
	}
	defs, err := store.TableDefs(ctx, conn, alias)
	if derr := store.Detach(ctx, conn, alias); derr != nil && err == nil {
		err = derr
	}
	return defs, err
}

type tableCopy struct {
	table string
	rows  int64
	err   error
}

type sourceCopy struct {
	attachErr error
	tables    []tableCopy
}

// copySource attaches path, copies every table in one transaction and
// detaches. Per-table failures are returned, not raised.
func copySource(ctx context.Context, conn *sql.Conn, path, alias string, tables []string) sourceCopy {
	if err := store.Attach(ctx, conn, path, alias); err != nil {
		return sourceCopy{attachErr: err}
	}

	var res sourceCopy
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = store.Detach(ctx, conn, alias)
		return sourceCopy{attachErr: fmt.Errorf("begin copy: %w", err)}
	}

	for _, table := range tables {
		n, err := store.CopyTable(ctx, tx, alias, table)
		res.tables = append(res.tables, tableCopy{table: table, rows: n, err: err})
	}

	if err := tx.Commit(); err != nil {
		res = sourceCopy{attachErr: fmt.Errorf("commit copy: %w", err)}
	}
	if err := store.Detach(ctx, conn, alias); err != nil && res.attachErr == nil {
		slog.Warn("detach failed", "source", filepath.Base(path), "error", err)
	}
	return res
}

// partition splits paths into consecutive batches of at most size.
func partition(paths []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batches = append(batches, paths[start:end])
	}
	return batches
}

// removeStoreFiles deletes a store file and its WAL companions.
func removeStoreFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove temporary store failed", "path", p, "error", err)
		}
	}
}
