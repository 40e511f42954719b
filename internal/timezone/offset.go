// Package timezone shifts device timestamps by the machine's time zone
// offset and resolves that offset once per session.
//
// Device timestamps are recorded without a zone. The offset is stored on the
// controller as hours x 100, so +800 means eight hours ahead.
//
// Applying an offset is not idempotent: every call shifts again. Callers own
// the bookkeeping of which data has already been shifted.
package timezone

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/series"
)

// ErrOffsetUnresolved is returned when no source produced an offset.
// Timestamps then pass through unshifted.
var ErrOffsetUnresolved = errors.New("time zone offset unresolved")

// hundredth is one hundredth of an hour.
const hundredth = 36 * time.Second

// Offset is a resolved or unresolved time zone offset.
// The zero value is Unresolved, which is distinct from a resolved zero.
type Offset struct {
	hundredths int64
	resolved   bool
}

// Unresolved is the offset of a session where no offset could be found.
var Unresolved = Offset{}

// FromHundredths returns a resolved offset of h hundredths of an hour.
func FromHundredths(h int64) Offset {
	return Offset{hundredths: h, resolved: true}
}

// FromHours returns a resolved offset of whole hours.
func FromHours(h int) Offset {
	return FromHundredths(int64(h) * 100)
}

// Resolved reports whether the offset came from a real source.
func (o Offset) Resolved() bool { return o.resolved }

// Hundredths returns the stored representation. It is 0 for Unresolved.
func (o Offset) Hundredths() int64 { return o.hundredths }

// Duration returns the shift. It is 0 for Unresolved.
func (o Offset) Duration() time.Duration {
	return time.Duration(o.hundredths) * hundredth
}

func (o Offset) String() string {
	if !o.resolved {
		return "unresolved"
	}
	sign := "+"
	h := o.hundredths
	if h < 0 {
		sign = "-"
		h = -h
	}
	return fmt.Sprintf("%s%d.%02dh", sign, h/100, h%100)
}

// Shift returns ts moved by the offset.
func (o Offset) Shift(ts int64) int64 {
	return ts + int64(o.Duration())
}

// ApplyTimestamps shifts every timestamp in place.
func ApplyTimestamps(ts []int64, o Offset) {
	if !shouldApply(o, "timestamps") {
		return
	}
	for i := range ts {
		ts[i] = o.Shift(ts[i])
	}
}

// ApplySeries shifts every point of every series in sel in place.
func ApplySeries(sel *series.Selection, o Offset) {
	if sel == nil || !shouldApply(o, "series") {
		return
	}
	sel.Each(func(points []series.Point) {
		for i := range points {
			points[i].Timestamp = o.Shift(points[i].Timestamp)
		}
	})
}

// ApplyIncidents shifts every incident in place and re-renders its
// timestamp with layout.
func ApplyIncidents(incidents []incident.DecodedIncident, o Offset, layout string) {
	if !shouldApply(o, "incidents") {
		return
	}
	for i := range incidents {
		incidents[i].At = o.Shift(incidents[i].At)
		incidents[i].Timestamp = incident.FormatTimestamp(incidents[i].At, layout)
	}
}

// shouldApply reports whether o shifts anything, logging when it does not.
func shouldApply(o Offset, what string) bool {
	if !o.resolved {
		slog.Debug("time zone offset unresolved, timestamps unshifted", "data", what)
		return false
	}
	return true
}
