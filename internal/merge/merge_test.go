package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ddt/internal/config"
	"github.com/roach88/ddt/internal/testutil"
)

func testConfig() config.MergeConfig {
	cfg := config.Default().Merge
	cfg.AttachLimit = 4
	cfg.BatchSize = 3
	return cfg
}

func newEngine(t *testing.T, cfg config.MergeConfig) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

// writeSources writes k sources FB20.DC.<i>.db where source i holds i+1
// incident rows and i+2 sync rows. It returns the paths and expected totals.
func writeSources(t *testing.T, dir string, k int) ([]string, int64, int64) {
	t.Helper()
	clock := testutil.NewSampleClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Second)

	var paths []string
	var incidents, syncs int64
	for i := 1; i <= k; i++ {
		tables := testutil.SourceStore{}
		for j := 0; j < i+1; j++ {
			tables["IncidentAll@0"] = append(tables["IncidentAll@0"],
				testutil.IncidentSample(clock.Next(), 10, 11, "J_INCIDENT_EVENT", "J_INCIDENT_ONE_SHOT", testutil.LongArg(int64(j))))
		}
		for j := 0; j < i+2; j++ {
			tables["CCUSync@0"] = append(tables["CCUSync@0"],
				testutil.Sample{Timestamp: clock.Next(), Payload: map[string]any{"machineId": "SH-1"}})
		}
		incidents += int64(i + 1)
		syncs += int64(i + 2)

		path := filepath.Join(dir, fmt.Sprintf("FB20.DC.%d.db", i))
		paths = append(paths, testutil.WriteSourceStore(t, path, tables))
	}
	return paths, incidents, syncs
}

func TestNew_ValidatesAttachLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 4
	_, err := New(cfg)
	require.Error(t, err)

	cfg.BatchSize = 0
	_, err = New(cfg)
	require.Error(t, err)
}

func TestMerge_NoSources(t *testing.T) {
	e := newEngine(t, testConfig())
	report, err := e.Merge(context.Background(), filepath.Join(t.TempDir(), "merged.sqlite"), nil)

	require.ErrorIs(t, err, ErrNoSources)
	require.NotNil(t, report)
	assert.False(t, report.OK())
}

func TestMerge_RowCountsAddUp(t *testing.T) {
	for _, k := range []int{1, 3, 4, 7, 10} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			dir := t.TempDir()
			paths, incidents, syncs := writeSources(t, dir, k)
			target := filepath.Join(dir, "merged_db.sqlite")

			report, err := newEngine(t, testConfig()).Merge(context.Background(), target, paths)
			require.NoError(t, err)
			assert.True(t, report.OK())

			assert.Equal(t, incidents, testutil.CountRows(t, target, "IncidentAll@0"))
			assert.Equal(t, syncs, testutil.CountRows(t, target, "CCUSync@0"))

			assert.Equal(t, k, report.SourcesMerged)
			assert.Equal(t, 0, report.SourcesSkipped)
			assert.Equal(t, (k+2)/3, report.Batches)
			assert.Equal(t, report.Batches-1, report.Folds)
			assert.Equal(t, incidents, report.Tables["IncidentAll@0"].Rows)
			assert.Equal(t, incidents+syncs, report.TotalRows())
		})
	}
}

func TestMerge_TemporaryTargetsRemoved(t *testing.T) {
	dir := t.TempDir()
	paths, _, _ := writeSources(t, dir, 7)

	_, err := newEngine(t, testConfig()).Merge(context.Background(), filepath.Join(dir, "merged_db.sqlite"), paths)
	require.NoError(t, err)

	leftovers, err := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestMerge_TempDir(t *testing.T) {
	dir := t.TempDir()
	tempDir := t.TempDir()
	paths, incidents, _ := writeSources(t, dir, 5)

	cfg := testConfig()
	cfg.TempDir = tempDir
	target := filepath.Join(dir, "merged_db.sqlite")

	_, err := newEngine(t, cfg).Merge(context.Background(), target, paths)
	require.NoError(t, err)
	assert.Equal(t, incidents, testutil.CountRows(t, target, "IncidentAll@0"))

	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestMerge_SkipsMissingAndUnreadableSources(t *testing.T) {
	dir := t.TempDir()
	paths, incidents, _ := writeSources(t, dir, 4)

	bogus := filepath.Join(dir, "FB20.DC.99.db")
	require.NoError(t, os.WriteFile(bogus, []byte("not a database at all, only some text to fill the header"), 0644))
	missing := filepath.Join(dir, "FB20.DC.98.db")

	all := append([]string{missing}, paths[:2]...)
	all = append(all, bogus)
	all = append(all, paths[2:]...)

	target := filepath.Join(dir, "merged_db.sqlite")
	report, err := newEngine(t, testConfig()).Merge(context.Background(), target, all)
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 4, report.SourcesMerged)
	assert.Equal(t, 2, report.SourcesSkipped)
	assert.Equal(t, incidents, testutil.CountRows(t, target, "IncidentAll@0"))

	var unavailable []string
	for _, p := range report.Problems {
		if p.Kind == KindSourceUnavailable {
			unavailable = append(unavailable, p.Source)
		}
	}
	assert.ElementsMatch(t, []string{"FB20.DC.98.db", "FB20.DC.99.db"}, unavailable)
}

func TestMerge_NoUsableSource(t *testing.T) {
	dir := t.TempDir()
	report, err := newEngine(t, testConfig()).Merge(context.Background(),
		filepath.Join(dir, "merged_db.sqlite"),
		[]string{filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db")})

	require.ErrorIs(t, err, ErrNoUsableSource)
	assert.False(t, report.OK())
	assert.Equal(t, 2, report.SourcesSkipped)
}

func TestMerge_SourceMissingTable(t *testing.T) {
	dir := t.TempDir()

	ref := testutil.WriteSourceStore(t, filepath.Join(dir, "FB20.DC.1.db"), testutil.SourceStore{
		"IncidentAll@0": {testutil.IncidentSample(1, 1, 2, "J_INCIDENT_EVENT", "J_INCIDENT_SET")},
		"CCUSync@0":     {{Timestamp: 1, Payload: map[string]any{"machineId": "A"}}},
	})
	partial := testutil.WriteSourceStore(t, filepath.Join(dir, "FB20.DC.2.db"), testutil.SourceStore{
		"IncidentAll@0": {testutil.IncidentSample(2, 1, 2, "J_INCIDENT_EVENT", "J_INCIDENT_SET")},
	})

	target := filepath.Join(dir, "merged_db.sqlite")
	report, err := newEngine(t, testConfig()).Merge(context.Background(), target, []string{partial, ref})
	require.NoError(t, err)

	assert.Equal(t, int64(2), testutil.CountRows(t, target, "IncidentAll@0"))
	assert.Equal(t, int64(1), testutil.CountRows(t, target, "CCUSync@0"))
	assert.Equal(t, 1, report.Tables["CCUSync@0"].Skipped)
	assert.Equal(t, []string{"FB20.DC.1.db"}, report.References)
	assert.False(t, report.ReferenceFallback)
}

func TestMerge_ConstraintConflictSkipsPair(t *testing.T) {
	dir := t.TempDir()

	a := testutil.WriteUniqueTable(t, filepath.Join(dir, "FB20.DC.1.db"), "Keyed@0", 1, 2, 3)
	b := testutil.WriteUniqueTable(t, filepath.Join(dir, "FB20.DC.2.db"), "Keyed@0", 3, 4)
	c := testutil.WriteUniqueTable(t, filepath.Join(dir, "FB20.DC.3.db"), "Keyed@0", 5)

	target := filepath.Join(dir, "merged_db.sqlite")
	report, err := newEngine(t, testConfig()).Merge(context.Background(), target, []string{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, int64(4), testutil.CountRows(t, target, "Keyed@0"))
	assert.Equal(t, 3, report.SourcesMerged)
	require.Len(t, report.Problems, 1)
	assert.Equal(t, KindSchemaConflict, report.Problems[0].Kind)
	assert.Equal(t, "FB20.DC.2.db", report.Problems[0].Source)
	assert.Equal(t, "Keyed@0", report.Problems[0].Table)
}

func TestMerge_ReferenceFallback(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteSourceStore(t, filepath.Join(dir, "session-a.db"), testutil.SourceStore{
		"CCUSync@0": {{Timestamp: 1, Payload: map[string]any{"machineId": "A"}}},
	})

	t.Run("enabled", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "merged_db.sqlite")
		report, err := newEngine(t, testConfig()).Merge(context.Background(), target, []string{src})
		require.NoError(t, err)
		assert.True(t, report.ReferenceFallback)
		assert.Equal(t, int64(1), testutil.CountRows(t, target, "CCUSync@0"))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.FallbackToFirst = false
		target := filepath.Join(t.TempDir(), "merged_db.sqlite")

		report, err := newEngine(t, cfg).Merge(context.Background(), target, []string{src})
		require.NoError(t, err)
		assert.Empty(t, report.References)
		assert.Equal(t, int64(0), report.TotalRows())
	})
}

func TestMerge_ReferencePatternOrder(t *testing.T) {
	e := newEngine(t, testConfig())
	e.cfg.ReferencePatterns = []string{"DC.2", "DC.1"}

	order, fallback := e.referenceOrder([]string{"/d/FB20.DC.1.db", "/d/FB20.DC.2.db", "/d/FB20.DC.3.db", "/d/temp_merge_4.sqlite"})
	assert.Equal(t, []string{"/d/temp_merge_4.sqlite", "/d/FB20.DC.2.db", "/d/FB20.DC.1.db", "/d/FB20.DC.3.db"}, order)
	assert.True(t, fallback["/d/FB20.DC.3.db"])
	assert.False(t, fallback["/d/FB20.DC.1.db"])
}

func TestMerge_OnBatch(t *testing.T) {
	dir := t.TempDir()
	paths, _, _ := writeSources(t, dir, 7)

	e := newEngine(t, testConfig())
	var events []BatchEvent
	e.OnBatch = func(ev BatchEvent) { events = append(events, ev) }

	_, err := e.Merge(context.Background(), filepath.Join(dir, "merged_db.sqlite"), paths)
	require.NoError(t, err)
	assert.Equal(t, []BatchEvent{
		{Batch: 0, Batches: 3, Sources: 3},
		{Batch: 1, Batches: 3, Sources: 3},
		{Batch: 2, Batches: 3, Sources: 1},
	}, events)
}

func TestMerge_Cancelled(t *testing.T) {
	dir := t.TempDir()
	paths, _, _ := writeSources(t, dir, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(t, testConfig()).Merge(ctx, filepath.Join(dir, "merged_db.sqlite"), paths)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPartition(t *testing.T) {
	got := partition([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
	assert.Empty(t, partition(nil, 3))
}

func TestDiscoverSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"FB20.DC.2.db", "FB20.DC.1.db", "FB20.DC.1.db-wal", "fbhmi.db",
		"temp_merge_1.sqlite", "notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "FB20.DC.dir"), 0755))

	got, err := DiscoverSources(dir, "FB20.DC")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "FB20.DC.1.db"),
		filepath.Join(dir, "FB20.DC.2.db"),
	}, got)

	_, err = DiscoverSources(filepath.Join(dir, "missing"), "FB20.DC")
	assert.Error(t, err)
}
