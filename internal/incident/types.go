package incident

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is the incident severity class.
type Type int

const (
	TypeUnknown Type = iota
	TypeEvent
	TypeWarning
	TypeAlarm
)

// ParseType maps the controller's type identifiers onto Type.
// Both "J_INCIDENT_ALARM" and "alarm" are accepted.
func ParseType(s string) Type {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "J_INCIDENT_") {
	case "EVENT":
		return TypeEvent
	case "WARNING":
		return TypeWarning
	case "ALARM":
		return TypeAlarm
	}
	return TypeUnknown
}

func (t Type) String() string {
	switch t {
	case TypeEvent:
		return "event"
	case TypeWarning:
		return "warning"
	case TypeAlarm:
		return "alarm"
	}
	return "unknown"
}

// State is the incident lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateOneShot
	StateSet
	StateClear
)

// ParseState maps the controller's state identifiers onto State.
func ParseState(s string) State {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "J_INCIDENT_") {
	case "ONE_SHOT":
		return StateOneShot
	case "SET":
		return StateSet
	case "CLEAR":
		return StateClear
	}
	return StateUnknown
}

func (s State) String() string {
	switch s {
	case StateOneShot:
		return "one_shot"
	case StateSet:
		return "set"
	case StateClear:
		return "clear"
	}
	return "unknown"
}

// Arg is one tagged argument. Exactly one field is expected to be set.
type Arg struct {
	Integer     *int64   `json:"longValue,omitempty"`
	StringIndex *int64   `json:"stringTidxValue,omitempty"`
	Real        *float64 `json:"realValue,omitempty"`
}

// Int returns an integer argument.
func Int(v int64) Arg { return Arg{Integer: &v} }

// StringRef returns a string-index argument.
func StringRef(idx int64) Arg { return Arg{StringIndex: &idx} }

// Real returns a real argument.
func Real(v float64) Arg { return Arg{Real: &v} }

// ParseArgs decodes the JSON argument list stored with an incident row.
// An empty payload yields no arguments.
func ParseArgs(payload string) ([]Arg, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "null" {
		return nil, nil
	}
	var args []Arg
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return nil, fmt.Errorf("parse incident args: %w", err)
	}
	return args, nil
}

// RawEntry is one incident row as read from the merged store.
type RawEntry struct {
	// Timestamp is the source timestamp in nanoseconds since the Unix epoch.
	Timestamp int64
	Tidx      int64
	HelpTidx  int64
	Type      Type
	State     State
	Args      []Arg

	// Malformed is set when the row's argument payload could not be parsed.
	Malformed error
}

// DecodedIncident is the readable form of a RawEntry.
type DecodedIncident struct {
	// At is the timestamp in nanoseconds that Timestamp was rendered from.
	At         int64          `json:"-"`
	Timestamp  string         `json:"timestamp"`
	Text       string         `json:"text"`
	HelpText   string         `json:"help_text"`
	LabelColor string         `json:"label_color"`
	TextColor  string         `json:"text_color"`
	Problems   []*DecodeError `json:"problems,omitempty"`
}

// Failed reports whether any recorded problem is a decode failure.
// Anomalies alone do not fail an incident.
func (d *DecodedIncident) Failed() bool {
	for _, p := range d.Problems {
		if !p.Anomaly() {
			return true
		}
	}
	return false
}

// HasAnomaly reports whether any recorded problem is an anomaly.
func (d *DecodedIncident) HasAnomaly() bool {
	for _, p := range d.Problems {
		if p.Anomaly() {
			return true
		}
	}
	return false
}

// FormatTimestamp renders a nanosecond timestamp in UTC.
func FormatTimestamp(ns int64, layout string) string {
	return time.Unix(0, ns).UTC().Format(layout)
}
