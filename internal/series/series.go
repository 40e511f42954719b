// Package series holds time-series samples handed to chart and CSV writers.
package series

import "math"

// Point is one sample. Timestamp is nanoseconds since the Unix epoch.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Finite returns the points whose value is neither NaN nor infinite.
// The input is not modified.
func Finite(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Selection groups the series chosen for one export.
type Selection struct {
	IO      map[string][]Point            `json:"io"`
	VFD     map[string][]Point            `json:"vfd"`
	Presets map[string]map[string][]Point `json:"preset"`
}

// NewSelection returns an empty selection with all maps allocated.
func NewSelection() *Selection {
	return &Selection{
		IO:      map[string][]Point{},
		VFD:     map[string][]Point{},
		Presets: map[string]map[string][]Point{},
	}
}

// AddPreset records one point's series under a preset.
func (s *Selection) AddPreset(preset, point string, points []Point) {
	if s.Presets[preset] == nil {
		s.Presets[preset] = map[string][]Point{}
	}
	s.Presets[preset][point] = points
}

// Each calls fn for every series in the selection. Points inside the slice
// may be modified by fn.
func (s *Selection) Each(fn func(points []Point)) {
	for _, pts := range s.IO {
		fn(pts)
	}
	for _, pts := range s.VFD {
		fn(pts)
	}
	for _, preset := range s.Presets {
		for _, pts := range preset {
			fn(pts)
		}
	}
}

// Len returns the number of series in the selection.
func (s *Selection) Len() int {
	n := len(s.IO) + len(s.VFD)
	for _, preset := range s.Presets {
		n += len(preset)
	}
	return n
}
