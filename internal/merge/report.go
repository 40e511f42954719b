package merge

import (
	"fmt"
	"sort"
)

// ProblemKind categorizes skipped work.
type ProblemKind string

const (
	// KindSourceUnavailable marks a source that could not be opened or
	// attached. The source is skipped and the batch continues.
	KindSourceUnavailable ProblemKind = "SOURCE_UNAVAILABLE"

	// KindSchemaConflict marks a table that could not be created in, or
	// copied into, the target. Only that table/source pair is skipped.
	KindSchemaConflict ProblemKind = "SCHEMA_CONFLICT"
)

// Problem records one skipped source or table/source pair.
type Problem struct {
	Kind   ProblemKind `json:"kind"`
	Source string      `json:"source"`
	Table  string      `json:"table,omitempty"`
	Err    string      `json:"error"`
}

func (p Problem) String() string {
	if p.Table != "" {
		return fmt.Sprintf("%s: %s table %s: %s", p.Kind, p.Source, p.Table, p.Err)
	}
	return fmt.Sprintf("%s: %s: %s", p.Kind, p.Source, p.Err)
}

// TableCounts aggregates copy results for one table across sources.
type TableCounts struct {
	Rows    int64 `json:"rows"`
	Sources int   `json:"sources"`
	Skipped int   `json:"skipped"`
}

// Report summarizes a merge. Rows copied from sources are counted once,
// when they reach their batch target; folding a temporary target into the
// final store is counted separately in FoldedRows.
type Report struct {
	Target string `json:"target"`

	Batches int `json:"batches"`
	Folds   int `json:"folds"`

	SourcesSeen    int `json:"sources_seen"`
	SourcesMerged  int `json:"sources_merged"`
	SourcesSkipped int `json:"sources_skipped"`

	// References lists the schema reference chosen for each target that
	// needed a schema.
	References []string `json:"references,omitempty"`
	// ReferenceFallback is set when a reference was chosen without matching
	// any configured pattern.
	ReferenceFallback bool `json:"reference_fallback,omitempty"`

	Tables     map[string]*TableCounts `json:"tables"`
	FoldedRows int64                   `json:"folded_rows"`
	Problems   []Problem               `json:"problems,omitempty"`
}

func newReport(target string) *Report {
	return &Report{Target: target, Tables: map[string]*TableCounts{}}
}

// OK reports whether the merged store is usable: at least one source was
// merged. It says nothing about completeness.
func (r *Report) OK() bool {
	return r != nil && r.SourcesMerged > 0
}

// TotalRows returns the number of source rows copied across all tables.
func (r *Report) TotalRows() int64 {
	var n int64
	for _, c := range r.Tables {
		n += c.Rows
	}
	return n
}

// TableNames returns the tables seen, sorted.
func (r *Report) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SkippedTables counts table/source pairs that were skipped.
func (r *Report) SkippedTables() int {
	n := 0
	for _, c := range r.Tables {
		n += c.Skipped
	}
	return n
}

func (r *Report) table(name string) *TableCounts {
	c, ok := r.Tables[name]
	if !ok {
		c = &TableCounts{}
		r.Tables[name] = c
	}
	return c
}

func (r *Report) problem(kind ProblemKind, source, table string, err error) {
	r.Problems = append(r.Problems, Problem{Kind: kind, Source: source, Table: table, Err: err.Error()})
}
