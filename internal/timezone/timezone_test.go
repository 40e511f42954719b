package timezone

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/series"
	"github.com/roach88/ddt/internal/store"
	"github.com/roach88/ddt/internal/testutil"
)

const layout = "2006-01-02 15:04:05"

var t0 = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC).UnixNano()

func TestOffset_PlusEightHours(t *testing.T) {
	o := FromHundredths(800)
	assert.Equal(t, t0+8*3600*1_000_000_000, o.Shift(t0))
	assert.Equal(t, 8*time.Hour, o.Duration())
}

func TestOffset_ApplyTwiceShiftsTwice(t *testing.T) {
	ts := []int64{t0}
	o := FromHundredths(800)

	ApplyTimestamps(ts, o)
	ApplyTimestamps(ts, o)

	assert.Equal(t, t0+16*3600*1_000_000_000, ts[0])
}

func TestOffset_FractionalAndNegative(t *testing.T) {
	assert.Equal(t, 5*time.Hour+30*time.Minute, FromHundredths(550).Duration())
	assert.Equal(t, -3*time.Hour-30*time.Minute, FromHundredths(-350).Duration())
	assert.Equal(t, "-3.50h", FromHundredths(-350).String())
	assert.Equal(t, "+8.00h", FromHours(8).String())
}

func TestOffset_UnresolvedIsNotZero(t *testing.T) {
	zero := FromHundredths(0)

	assert.True(t, zero.Resolved())
	assert.False(t, Unresolved.Resolved())
	assert.NotEqual(t, zero, Unresolved)
	assert.Equal(t, "unresolved", Unresolved.String())
}

func TestApply_UnresolvedPassesThrough(t *testing.T) {
	ts := []int64{t0, t0 + 1}
	ApplyTimestamps(ts, Unresolved)
	assert.Equal(t, []int64{t0, t0 + 1}, ts)
}

func TestApplySeries(t *testing.T) {
	sel := series.NewSelection()
	sel.IO["Pressure"] = []series.Point{{Timestamp: t0, Value: 1}}
	sel.VFD["Cutter"] = []series.Point{{Timestamp: t0 + 10, Value: 2}}
	sel.AddPreset("Hydraulics", "Pressure", []series.Point{{Timestamp: t0 + 20, Value: 3}})

	ApplySeries(sel, FromHours(-5))

	shift := int64(-5 * time.Hour)
	assert.Equal(t, t0+shift, sel.IO["Pressure"][0].Timestamp)
	assert.Equal(t, t0+10+shift, sel.VFD["Cutter"][0].Timestamp)
	assert.Equal(t, t0+20+shift, sel.Presets["Hydraulics"]["Pressure"][0].Timestamp)
	assert.Equal(t, 1.0, sel.IO["Pressure"][0].Value)
}

func TestApplyIncidents(t *testing.T) {
	incs := []incident.DecodedIncident{
		{At: t0, Timestamp: incident.FormatTimestamp(t0, layout), Text: "Door open"},
	}

	ApplyIncidents(incs, FromHundredths(800), layout)
	assert.Equal(t, "2024-03-01 14:00:00", incs[0].Timestamp)

	ApplyIncidents(incs, FromHundredths(800), layout)
	assert.Equal(t, "2024-03-01 22:00:00", incs[0].Timestamp)
	assert.Equal(t, "Door open", incs[0].Text)
}

func TestResolver_FirstPublishWins(t *testing.T) {
	r := NewResolver()

	assert.True(t, r.Publish(FromHours(2)))
	assert.False(t, r.Publish(FromHours(3)))

	o, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, FromHours(2), o)
}

func TestResolver_WaitReleasedByPublish(t *testing.T) {
	r := NewResolver()

	var wg sync.WaitGroup
	results := make([]Offset, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := r.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = o
		}(i)
	}

	r.Publish(FromHundredths(800))
	wg.Wait()

	for _, o := range results {
		assert.Equal(t, FromHundredths(800), o)
	}
}

func TestResolver_WaitHonorsContext(t *testing.T) {
	r := NewResolver()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolver_LookupOrder(t *testing.T) {
	var calls []string
	lookup := func(name string, o Offset, err error) Lookup {
		return func(context.Context) (Offset, error) {
			calls = append(calls, name)
			return o, err
		}
	}

	r := NewResolver()
	o, err := r.Resolve(context.Background(),
		lookup("store-error", Unresolved, errors.New("no such table")),
		lookup("store", Unresolved, nil),
		lookup("prompt", FromHours(3), nil),
		lookup("never", FromHours(9), nil),
	)
	require.NoError(t, err)
	assert.Equal(t, FromHours(3), o)
	assert.Equal(t, []string{"store-error", "store", "prompt"}, calls)

	// Cached: lookups are not run again.
	o, err = r.Resolve(context.Background(), lookup("again", FromHours(1), nil))
	require.NoError(t, err)
	assert.Equal(t, FromHours(3), o)
	assert.Len(t, calls, 3)
}

func TestResolver_ZeroOffsetIsResolved(t *testing.T) {
	r := NewResolver()
	o, err := r.Resolve(context.Background(), Fixed(FromHundredths(0)), Fixed(FromHours(5)))
	require.NoError(t, err)
	assert.True(t, o.Resolved())
	assert.Equal(t, int64(0), o.Hundredths())
}

func TestResolver_Unresolved(t *testing.T) {
	r := NewResolver()

	o, err := r.Resolve(context.Background(), Fixed(Unresolved))
	require.ErrorIs(t, err, ErrOffsetUnresolved)
	assert.False(t, o.Resolved())

	// Waiters are released with the unresolved state.
	got, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Resolved())

	_, err = r.Resolve(context.Background(), Fixed(FromHours(1)))
	assert.ErrorIs(t, err, ErrOffsetUnresolved)
}

func TestResolver_Reset(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), Fixed(FromHours(1)))
	require.NoError(t, err)

	r.Reset()
	_, ok := r.Current()
	assert.False(t, ok)

	o, err := r.Resolve(context.Background(), Fixed(FromHours(4)))
	require.NoError(t, err)
	assert.Equal(t, FromHours(4), o)
}

func TestResolver_ConcurrentResolveRunsLookupsOnce(t *testing.T) {
	r := NewResolver()
	var runs atomic.Int32
	release := make(chan struct{})

	slow := func(context.Context) (Offset, error) {
		runs.Add(1)
		<-release
		return FromHours(2), nil
	}

	var wg sync.WaitGroup
	results := make([]Offset, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := r.Resolve(context.Background(), slow)
			assert.NoError(t, err)
			results[i] = o
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, o := range results {
		assert.Equal(t, FromHours(2), o)
	}
}

func TestResolver_CancelledLookupPublishesNothing(t *testing.T) {
	r := NewResolver()
	ctx, cancel := context.WithCancel(context.Background())

	blocking := func(ctx context.Context) (Offset, error) {
		cancel()
		<-ctx.Done()
		return Unresolved, ctx.Err()
	}

	_, err := r.Resolve(ctx, blocking, Fixed(FromHours(5)))
	require.ErrorIs(t, err, context.Canceled)
	_, ok := r.Current()
	assert.False(t, ok)

	o, err := r.Resolve(context.Background(), Fixed(FromHours(3)))
	require.NoError(t, err)
	assert.Equal(t, FromHours(3), o)
}

func TestResolver_WaiterTakesOverAfterCancel(t *testing.T) {
	r := NewResolver()
	ctxA, cancelA := context.WithCancel(context.Background())
	started := make(chan struct{})

	blocking := func(ctx context.Context) (Offset, error) {
		close(started)
		<-ctx.Done()
		return Unresolved, ctx.Err()
	}

	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, blocking)
		errA <- err
	}()
	<-started

	type result struct {
		o   Offset
		err error
	}
	resB := make(chan result, 1)
	go func() {
		o, err := r.Resolve(context.Background(), Fixed(FromHours(3)))
		resB <- result{o, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelA()

	assert.ErrorIs(t, <-errA, context.Canceled)
	got := <-resB
	require.NoError(t, got.err)
	assert.Equal(t, FromHours(3), got.o)

	cur, ok := r.Current()
	assert.True(t, ok)
	assert.Equal(t, FromHours(3), cur)
}

func TestStoreLookup(t *testing.T) {
	path := testutil.WriteSourceStore(t, filepath.Join(t.TempDir(), "merged.db"), testutil.TimeZoneSamples(1, 555, 800))
	st, err := store.OpenReadOnly(path)
	require.NoError(t, err)
	defer st.Close()

	o, err := StoreLookup(st, "TimeZoneOffset", 120184)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FromHundredths(800), o)

	empty := testutil.WriteSourceStore(t, filepath.Join(t.TempDir(), "empty.db"), testutil.SourceStore{})
	st2, err := store.OpenReadOnly(empty)
	require.NoError(t, err)
	defer st2.Close()

	o, err = StoreLookup(st2, "TimeZoneOffset", 120184)(context.Background())
	require.NoError(t, err)
	assert.False(t, o.Resolved())
}

func TestLinePrompter(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		hours  int
		ok     bool
		output string
	}{
		{"valid", "8\n", 8, true, ""},
		{"negative", "-5\n", -5, true, ""},
		{"plus sign", "+3\n", 3, true, ""},
		{"blank declines", "\n", 0, false, ""},
		{"eof declines", "", 0, false, ""},
		{"retry after invalid", "abc\n20\n-2\n", -2, true, "is not a whole number"},
		{"no trailing newline", "4", 4, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewLinePrompter(strings.NewReader(tt.input), &out)

			hours, ok, err := p.PromptOffset(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.hours, hours)
			assert.Contains(t, out.String(), "Enter offset in hours")
			if tt.output != "" {
				assert.Contains(t, out.String(), tt.output)
			}
		})
	}
}

func TestPromptLookup(t *testing.T) {
	p := NewLinePrompter(strings.NewReader("8\n"), &bytes.Buffer{})
	o, err := PromptLookup(p)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FromHundredths(800), o)
}
