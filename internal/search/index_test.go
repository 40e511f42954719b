package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ddt/internal/incident"
)

func fixture() []incident.DecodedIncident {
	return []incident.DecodedIncident{
		{Timestamp: "2024-03-01 06:00:00", Text: "Motor M1 overload at 12.3 A"},
		{Timestamp: "2024-03-01 06:05:00", Text: "Door 4 open"},
		{Timestamp: "2024-03-02 07:00:00", Text: "Motor M2 started by jsmith"},
		{Timestamp: "2024-03-02 08:00:00", Text: "Café heater fault"},
		{Timestamp: "2024-03-02 09:00:00", Text: "Pressure low, Motor M1 stopped"},
	}
}

func TestSearch(t *testing.T) {
	idx := Build(fixture())

	tests := []struct {
		name  string
		query string
		want  []int
	}{
		{"blank matches all", "  ", []int{0, 1, 2, 3, 4}},
		{"exact word", "door", []int{1}},
		{"case insensitive", "MOTOR", []int{0, 2, 4}},
		{"substring", "load", []int{0}},
		{"all terms required", "motor m1", []int{0, 4}},
		{"terms in any order", "stopped motor", []int{4}},
		{"timestamp date", "2024-03-02", []int{2, 3, 4}},
		{"timestamp time part", "06:0", []int{0, 1}},
		{"no match", "conveyor", []int{}},
		{"one term missing", "door conveyor", []int{}},
		{"punctuation kept in words", "low,", []int{4}},
		{"decomposed query", "cafe\u0301", []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.Search(tt.query))
		})
	}
}

func TestBuild_Counts(t *testing.T) {
	idx := Build(fixture())
	assert.Equal(t, 5, idx.Len())
	assert.Positive(t, idx.Words())

	// Repeated words in one incident are indexed once.
	dup := Build([]incident.DecodedIncident{{Text: "fault fault fault"}})
	assert.Equal(t, []int{0}, dup.words["fault"])
}

func TestSearch_Empty(t *testing.T) {
	idx := Build(nil)
	assert.Equal(t, []int{}, idx.Search(""))
	assert.Equal(t, []int{}, idx.Search("motor"))
}

func TestSearch_Folding(t *testing.T) {
	idx := Build([]incident.DecodedIncident{{Text: "Straße gesperrt"}})
	assert.Equal(t, []int{0}, idx.Search("STRASSE"))
}
