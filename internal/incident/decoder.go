package incident

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Dictionary resolves template and string indices.
type Dictionary interface {
	Lookup(idx int64) (string, bool)
}

// UserDirectory resolves numeric user IDs to display names.
type UserDirectory interface {
	LookupUser(ctx context.Context, id int64) (string, bool, error)
}

// userRef matches "User" followed by a numeric user ID.
var userRef = regexp.MustCompile(`User\s?(\d+)`)

// Options control rendering.
type Options struct {
	// TimestampLayout is applied to timestamps in UTC.
	TimestampLayout string

	// DefaultPrecision applies to %f tokens without a precision.
	// -1 renders the shortest representation that round-trips.
	DefaultPrecision int

	Palette Palette
}

// DefaultOptions returns the standard rendering options.
func DefaultOptions() Options {
	return Options{
		TimestampLayout:  "2006-01-02 15:04:05",
		DefaultPrecision: -1,
		Palette:          DefaultPalette(),
	}
}

// Decoder turns RawEntry rows into DecodedIncident values.
// A Decoder is safe for concurrent use if its Dictionary and UserDirectory are.
type Decoder struct {
	dict  Dictionary
	users UserDirectory
	opts  Options
}

// NewDecoder creates a decoder. users may be nil, in which case user IDs are
// left as digits.
func NewDecoder(dict Dictionary, users UserDirectory, opts Options) *Decoder {
	if opts.TimestampLayout == "" {
		opts.TimestampLayout = DefaultOptions().TimestampLayout
	}
	return &Decoder{dict: dict, users: users, opts: opts}
}

// Decode renders one entry. It never fails; problems are recorded on the
// returned incident.
func (d *Decoder) Decode(ctx context.Context, e RawEntry) DecodedIncident {
	out := DecodedIncident{
		At:        e.Timestamp,
		Timestamp: FormatTimestamp(e.Timestamp, d.opts.TimestampLayout),
	}
	out.LabelColor, out.TextColor = d.opts.Palette.Colors(e.Type, e.State)

	if e.Malformed != nil {
		out.Problems = append(out.Problems, newMalformed(e.Malformed))
	}

	if help, ok := d.dict.Lookup(e.HelpTidx); ok {
		out.HelpText = HelpText(help)
	} else {
		out.Problems = append(out.Problems, newHelpMiss(e.HelpTidx))
	}

	template, ok := d.dict.Lookup(e.Tidx)
	if !ok {
		out.Text = MissingText(e.Tidx)
		out.Problems = append(out.Problems, newTemplateMiss(e.Tidx))
		return out
	}

	text, problems := d.Substitute(template, NewArgCursor(e.Args))
	out.Problems = append(out.Problems, problems...)
	out.Text = d.resolveUsers(ctx, text)

	return out
}

// Batch is the result of decoding many entries.
type Batch struct {
	Incidents []DecodedIncident

	// Decoded counts incidents without a failure.
	Decoded int
	// Failed counts incidents with at least one failure.
	Failed int
	// Anomalies counts incidents carrying an anomaly, failed or not.
	Anomalies int
}

// DecodeAll decodes entries in order. Every entry produces an incident.
func (d *Decoder) DecodeAll(ctx context.Context, entries []RawEntry) *Batch {
	b := &Batch{Incidents: make([]DecodedIncident, 0, len(entries))}

	for _, e := range entries {
		inc := d.Decode(ctx, e)
		if inc.Failed() {
			b.Failed++
			slog.Debug("incident decode failed",
				"tidx", e.Tidx,
				"timestamp", e.Timestamp,
				"problems", len(inc.Problems),
			)
		} else {
			b.Decoded++
		}
		if inc.HasAnomaly() {
			b.Anomalies++
		}
		b.Incidents = append(b.Incidents, inc)
	}

	slog.Info("incidents decoded",
		"total", len(entries),
		"decoded", b.Decoded,
		"failed", b.Failed,
		"anomalies", b.Anomalies,
	)
	return b
}

// resolveUsers replaces the digits of every "User <id>" reference with the
// user's name. Unknown IDs keep their digits.
func (d *Decoder) resolveUsers(ctx context.Context, text string) string {
	if d.users == nil {
		return text
	}
	matches := userRef.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		digitsStart, digitsEnd := m[2], m[3]
		b.WriteString(text[last:digitsStart])
		last = digitsEnd

		digits := text[digitsStart:digitsEnd]
		id, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			b.WriteString(digits)
			continue
		}
		name, found, err := d.users.LookupUser(ctx, id)
		if err != nil {
			slog.Debug("user lookup failed", "user_id", id, "error", err)
		}
		if err != nil || !found {
			b.WriteString(digits)
			continue
		}
		b.WriteString(name)
	}
	b.WriteString(text[last:])
	return b.String()
}
