// Package textdict loads the index -> template text dictionary shipped with
// every data download bundle.
//
// The dictionary document is XML with repeated item records anywhere in the
// tree:
//
//	<item><index>1042</index><text>Motor %s tripped</text></item>
//
// Items missing either field, or whose index is not an integer, are skipped.
// Duplicate indices keep the last text seen.
package textdict

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrDictionaryMissing is returned when no dictionary document exists for
// the session. Decoding cannot proceed without one.
var ErrDictionaryMissing = errors.New("text dictionary missing")

// Dictionary is an immutable index -> text mapping.
// A nil *Dictionary is valid and resolves nothing.
type Dictionary struct {
	entries map[int64]string
	skipped int
}

type item struct {
	Index *string `xml:"index"`
	Text  *string `xml:"text"`
}

// New builds a dictionary from an existing map. The map is copied.
func New(entries map[int64]string) *Dictionary {
	d := &Dictionary{entries: make(map[int64]string, len(entries))}
	for k, v := range entries {
		d.entries[k] = norm.NFC.String(v)
	}
	return d
}

// Load parses the dictionary document at path. Either the whole document
// loads or an error is returned; there is no partially valid result.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDictionaryMissing, path)
		}
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}

	slog.Debug("text dictionary loaded", "path", path, "entries", d.Len(), "skipped", d.skipped)
	return d, nil
}

// Parse reads a dictionary document from r.
func Parse(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{entries: make(map[int64]string)}
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "item" {
			continue
		}

		var it item
		if err := dec.DecodeElement(&it, &start); err != nil {
			return nil, err
		}
		if it.Index == nil || it.Text == nil {
			d.skipped++
			continue
		}
		idx, err := strconv.ParseInt(strings.TrimSpace(*it.Index), 10, 64)
		if err != nil {
			d.skipped++
			continue
		}
		d.entries[idx] = norm.NFC.String(*it.Text)
	}

	return d, nil
}

// Find returns the first file in dir matching glob, in lexical order.
func Find(dir, glob string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", fmt.Errorf("find dictionary: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no file matching %q in %s", ErrDictionaryMissing, glob, dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Lookup returns the text for idx. Absence is a normal outcome.
func (d *Dictionary) Lookup(idx int64) (string, bool) {
	if d == nil {
		return "", false
	}
	text, ok := d.entries[idx]
	return text, ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Skipped returns how many item records were ignored while parsing.
func (d *Dictionary) Skipped() int {
	if d == nil {
		return 0
	}
	return d.skipped
}
