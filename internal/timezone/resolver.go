package timezone

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/ddt/internal/store"
)

// Lookup is one way of finding the offset. It returns Unresolved when its
// source has no offset.
type Lookup func(ctx context.Context) (Offset, error)

// Resolver holds the session's offset behind a one-shot publish/wait
// handshake. The first Publish wins; later publishes are ignored until Reset.
type Resolver struct {
	mu        sync.Mutex
	done      chan struct{}
	offset    Offset
	published bool

	// idle is closed when an in-flight Resolve returns; nil when none runs.
	idle chan struct{}
}

// NewResolver returns a resolver with nothing published.
func NewResolver() *Resolver {
	return &Resolver{done: make(chan struct{})}
}

// Publish sets the offset and releases every waiter. It reports whether
// this call was the one that published. Publishing Unresolved also releases
// waiters.
func (r *Resolver) Publish(o Offset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.published {
		return false
	}
	r.offset = o
	r.published = true
	close(r.done)
	return true
}

// Current returns the published offset without blocking.
func (r *Resolver) Current() (Offset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset, r.published
}

// Wait blocks until an offset is published or ctx is done.
func (r *Resolver) Wait(ctx context.Context) (Offset, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		o, _ := r.Current()
		return o, nil
	case <-ctx.Done():
		return Unresolved, ctx.Err()
	}
}

// Resolve returns the session offset, running lookups in order on first use.
// The first lookup that yields a resolved offset publishes it. When none
// does, Unresolved is published and ErrOffsetUnresolved returned.
//
// Only one caller runs the lookups; concurrent callers wait for its result.
// A caller whose ctx ends mid-lookup publishes nothing, and a waiting caller
// takes over with its own lookups.
func (r *Resolver) Resolve(ctx context.Context, lookups ...Lookup) (Offset, error) {
	for {
		r.mu.Lock()
		if r.published {
			o := r.offset
			r.mu.Unlock()
			return o, unresolvedErr(o)
		}
		if r.idle == nil {
			r.idle = make(chan struct{})
			r.mu.Unlock()
			break
		}
		idle, done := r.idle, r.done
		r.mu.Unlock()

		select {
		case <-done:
			o, _ := r.Current()
			return o, unresolvedErr(o)
		case <-idle:
		case <-ctx.Done():
			return Unresolved, ctx.Err()
		}
	}

	defer func() {
		r.mu.Lock()
		close(r.idle)
		r.idle = nil
		r.mu.Unlock()
	}()

	for i, lookup := range lookups {
		if err := ctx.Err(); err != nil {
			return Unresolved, err
		}
		o, err := lookup(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Unresolved, ctxErr
			}
			slog.Warn("time zone lookup failed", "lookup", i, "error", err)
			continue
		}
		if o.Resolved() {
			r.Publish(o)
			slog.Info("time zone offset resolved", "offset", o.String(), "lookup", i)
			cur, _ := r.Current()
			return cur, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Unresolved, err
	}
	slog.Warn("time zone offset unresolved, timestamps will not be shifted")
	r.Publish(Unresolved)
	cur, _ := r.Current()
	return cur, unresolvedErr(cur)
}

// Reset forgets a published offset so the next Resolve runs the lookups
// again. Waiters blocked on an unpublished offset keep waiting.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.published {
		return
	}
	r.done = make(chan struct{})
	r.offset = Unresolved
	r.published = false
}

func unresolvedErr(o Offset) error {
	if o.Resolved() {
		return nil
	}
	return ErrOffsetUnresolved
}

// Fixed returns a lookup that always yields o.
func Fixed(o Offset) Lookup {
	return func(context.Context) (Offset, error) { return o, nil }
}

// StoreLookup reads the offset parameter from the merged store.
func StoreLookup(st *store.Store, parName string, fallbackTidx int64) Lookup {
	return func(ctx context.Context) (Offset, error) {
		h, found, err := st.TimeZoneOffset(ctx, parName, fallbackTidx)
		if err != nil {
			return Unresolved, err
		}
		if !found {
			return Unresolved, nil
		}
		return FromHundredths(h), nil
	}
}

// Prompter asks a person for the offset in whole hours.
// ok is false when the person declines.
type Prompter interface {
	PromptOffset(ctx context.Context) (hours int, ok bool, err error)
}

// PromptLookup asks p for the offset.
func PromptLookup(p Prompter) Lookup {
	return func(ctx context.Context) (Offset, error) {
		hours, ok, err := p.PromptOffset(ctx)
		if err != nil || !ok {
			return Unresolved, err
		}
		return FromHours(hours), nil
	}
}

// Offset bounds accepted from a person, in hours.
const (
	MinHours = -14
	MaxHours = 14
)

// LinePrompter reads the offset from a line-oriented reader.
// A blank line or end of input declines.
type LinePrompter struct {
	Reader *bufio.Reader
	Writer io.Writer
}

// NewLinePrompter creates a prompter over in and out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{Reader: bufio.NewReader(in), Writer: out}
}

// PromptOffset implements Prompter. Invalid input is reported and asked
// again.
func (p *LinePrompter) PromptOffset(ctx context.Context) (int, bool, error) {
	fmt.Fprintln(p.Writer, "No time zone offset parameter was found in the data.")
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		fmt.Fprintf(p.Writer, "Enter offset in hours (%d to %d, blank to skip): ", MinHours, MaxHours)

		line, err := readInput(p.Reader)
		if err == io.EOF && line == "" {
			return 0, false, nil
		}
		if err != nil && err != io.EOF {
			return 0, false, fmt.Errorf("failed to read input: %w", err)
		}
		if line == "" {
			return 0, false, nil
		}

		hours, convErr := strconv.Atoi(strings.TrimPrefix(line, "+"))
		if convErr != nil || hours < MinHours || hours > MaxHours {
			fmt.Fprintf(p.Writer, "%q is not a whole number of hours between %d and %d.\n", line, MinHours, MaxHours)
			if err == io.EOF {
				return 0, false, nil
			}
			continue
		}
		return hours, true, nil
	}
}

func readInput(reader *bufio.Reader) (string, error) {
	input, err := reader.ReadString('\n')
	return strings.TrimSpace(input), err
}
