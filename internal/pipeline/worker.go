package pipeline

import (
	"context"
	"fmt"

	"github.com/roach88/ddt/internal/merge"
)

// JobKind selects the work a background job performs.
type JobKind int

const (
	JobMerge JobKind = iota
	JobDecode
)

func (k JobKind) String() string {
	switch k {
	case JobMerge:
		return "merge"
	case JobDecode:
		return "decode"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// Job describes one background run.
type Job struct {
	Kind JobKind
	// Paths are the merge sources. Empty means discover them.
	Paths []string
}

// Status is a progress or completion message from a background job.
// The final Status of a job has Done set; the channel is closed after it.
type Status struct {
	Kind    JobKind
	Message string

	// Batch is set on merge progress messages.
	Batch *merge.BatchEvent

	Done      bool
	Err       error
	Merge     *merge.Report
	Incidents *IncidentResult
}

// statusBuffer bounds the progress messages queued ahead of the reader.
const statusBuffer = 16

// Start runs job on its own goroutine and returns the channel its Status
// messages arrive on. The caller drains the channel from its own goroutine;
// the worker never touches caller state.
//
// Start fails with ErrJobRunning when a job of the same kind is running.
// Cancelling ctx stops the job; undelivered messages are dropped.
func (p *Pipeline) Start(ctx context.Context, job Job) (<-chan Status, error) {
	sem := p.merging
	if job.Kind == JobDecode {
		sem = p.decoding
	} else if job.Kind != JobMerge {
		return nil, fmt.Errorf("unknown job kind %v", job.Kind)
	}
	if !tryAcquire(sem) {
		return nil, fmt.Errorf("%s: %w", job.Kind, ErrJobRunning)
	}

	out := make(chan Status, statusBuffer)
	send := func(s Status) bool {
		s.Kind = job.Kind
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer release(sem)

		log := p.sess.Logger().With("job", job.Kind.String())
		log.Info("job started")

		final := Status{Done: true}
		switch job.Kind {
		case JobMerge:
			progress := func(ev merge.BatchEvent) {
				send(Status{
					Message: fmt.Sprintf("merged batch %d of %d", ev.Batch+1, ev.Batches),
					Batch:   &ev,
				})
			}
			final.Merge, final.Err = p.load(ctx, job.Paths, progress)
			final.Message = "merge finished"
		case JobDecode:
			final.Incidents, final.Err = p.incidents(ctx)
			final.Message = "decode finished"
		}

		if final.Err != nil {
			log.Error("job failed", "error", final.Err)
			final.Message = final.Err.Error()
		} else {
			log.Info("job finished")
		}
		send(final)
	}()

	return out, nil
}
