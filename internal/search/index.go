// Package search indexes decoded incidents for incremental text search.
//
// Every word of an incident's text and timestamp is folded and indexed. A
// query matches the incidents that contain all of its terms, where a term
// matches a word exactly or as a substring of it.
package search

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/ddt/internal/incident"
)

// Index maps folded words to the positions of the incidents containing them.
// An Index is immutable after Build and safe for concurrent use.
type Index struct {
	size  int
	words map[string][]int
	// keys is the sorted word list scanned for substring matches.
	keys []string
}

// Build indexes incidents by position.
func Build(incidents []incident.DecodedIncident) *Index {
	idx := &Index{size: len(incidents), words: make(map[string][]int)}
	for i, inc := range incidents {
		for _, w := range terms(inc.Text + " " + inc.Timestamp) {
			postings := idx.words[w]
			if n := len(postings); n > 0 && postings[n-1] == i {
				continue
			}
			idx.words[w] = append(postings, i)
		}
	}

	idx.keys = make([]string, 0, len(idx.words))
	for w := range idx.words {
		idx.keys = append(idx.keys, w)
	}
	sort.Strings(idx.keys)
	return idx
}

// Len returns the number of indexed incidents.
func (x *Index) Len() int { return x.size }

// Words returns the number of distinct indexed words.
func (x *Index) Words() int { return len(x.keys) }

// Search returns the ascending positions of incidents matching every term of
// query. A blank query matches everything.
func (x *Index) Search(query string) []int {
	qs := terms(query)
	if len(qs) == 0 {
		all := make([]int, x.size)
		for i := range all {
			all[i] = i
		}
		return all
	}

	var matched map[int]struct{}
	for _, q := range qs {
		hits := x.match(q)
		if matched == nil {
			matched = hits
		} else {
			for i := range matched {
				if _, ok := hits[i]; !ok {
					delete(matched, i)
				}
			}
		}
		if len(matched) == 0 {
			return []int{}
		}
	}

	out := make([]int, 0, len(matched))
	for i := range matched {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// match collects the incidents holding a word equal to or containing term.
func (x *Index) match(term string) map[int]struct{} {
	hits := make(map[int]struct{})
	for _, i := range x.words[term] {
		hits[i] = struct{}{}
	}
	for _, w := range x.keys {
		if w == term || !strings.Contains(w, term) {
			continue
		}
		for _, i := range x.words[w] {
			hits[i] = struct{}{}
		}
	}
	return hits
}

// terms splits s on white space into normalized, case-folded words.
func terms(s string) []string {
	folder := cases.Fold()
	fields := strings.Fields(norm.NFC.String(s))
	for i, f := range fields {
		fields[i] = norm.NFC.String(folder.String(f))
	}
	return fields
}
