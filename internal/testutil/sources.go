package testutil

import (
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Sample is one device row: a source timestamp plus a JSON payload.
type Sample struct {
	Timestamp int64
	Payload   map[string]any
}

// SourceStore describes the tables of a device store fragment.
// Every table has the device layout: SampleInfo_source_timestamp and
// rti_json_sample columns.
type SourceStore map[string][]Sample

// deviceTableSQL is the layout of every device table.
const deviceTableSQL = `CREATE TABLE %s (
	SampleInfo_source_timestamp INTEGER NOT NULL,
	rti_json_sample TEXT NOT NULL
)`

// WriteSourceStore creates a SQLite file at path holding tables.
// Tables are created in name order so fixtures are deterministic.
func WriteSourceStore(t testing.TB, path string, tables SourceStore) string {
	t.Helper()

	db := openRaw(t, path)
	defer db.Close()

	// Writes the file header even when tables is empty.
	mustExec(t, db, "PRAGMA user_version = 1")

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		quoted := quote(name)
		mustExec(t, db, fmt.Sprintf(deviceTableSQL, quoted))
		for _, s := range tables[name] {
			payload, err := json.Marshal(s.Payload)
			if err != nil {
				t.Fatalf("marshal sample for %s: %v", name, err)
			}
			mustExec(t, db,
				"INSERT INTO "+quoted+" (SampleInfo_source_timestamp, rti_json_sample) VALUES (?, ?)",
				s.Timestamp, string(payload))
		}
	}
	return path
}

// WriteUniqueTable creates table with a primary key on id, for exercising
// constraint violations during merges.
func WriteUniqueTable(t testing.TB, path, table string, ids ...int64) string {
	t.Helper()

	db := openRaw(t, path)
	defer db.Close()

	mustExec(t, db, "CREATE TABLE IF NOT EXISTS "+quote(table)+" (id INTEGER PRIMARY KEY, note TEXT)")
	for _, id := range ids {
		mustExec(t, db, "INSERT INTO "+quote(table)+" (id, note) VALUES (?, ?)", id, fmt.Sprintf("row %d", id))
	}
	return path
}

// IncidentSample builds an IncidentAll row. args are tagged values such as
// map[string]any{"longValue": 5}.
func IncidentSample(ts, tidx, helpTidx int64, typ, state string, args ...map[string]any) Sample {
	if args == nil {
		args = []map[string]any{}
	}
	return Sample{
		Timestamp: ts,
		Payload: map[string]any{
			"incidentTidx": tidx,
			"helpTidx":     helpTidx,
			"type":         typ,
			"state":        state,
			"args":         args,
		},
	}
}

// LongArg, StringArg and RealArg build tagged incident arguments.
func LongArg(v int64) map[string]any     { return map[string]any{"longValue": v} }
func StringArg(idx int64) map[string]any { return map[string]any{"stringTidxValue": idx} }
func RealArg(v float64) map[string]any   { return map[string]any{"realValue": v} }

// TimeZoneSamples builds the ParConfig and ParValue rows holding an offset
// in hundredths of an hour.
func TimeZoneSamples(ts, parTidx, hundredths int64) SourceStore {
	return SourceStore{
		"ParConfig@0": {{Timestamp: ts, Payload: map[string]any{
			"parName":     "TimeZoneOffset",
			"parNameTidx": parTidx,
		}}},
		"ParValue@0": {{Timestamp: ts, Payload: map[string]any{
			"parNameTidx": parTidx,
			"value":       map[string]any{"longValue": hundredths},
		}}},
	}
}

// Merge combines table sets. Later sets append to earlier ones.
func (s SourceStore) Merge(others ...SourceStore) SourceStore {
	out := SourceStore{}
	for _, src := range append([]SourceStore{s}, others...) {
		for name, rows := range src {
			out[name] = append(out[name], rows...)
		}
	}
	return out
}

// WriteUserStore creates a user directory store with an fb_users table.
func WriteUserStore(t testing.TB, path string, users map[int64]string) string {
	t.Helper()

	db := openRaw(t, path)
	defer db.Close()

	mustExec(t, db, `CREATE TABLE fb_users (userId INTEGER PRIMARY KEY, loginId TEXT)`)
	for id, name := range users {
		mustExec(t, db, "INSERT INTO fb_users (userId, loginId) VALUES (?, ?)", id, name)
	}
	return path
}

type dictItem struct {
	XMLName xml.Name `xml:"item"`
	Index   int64    `xml:"index"`
	Text    string   `xml:"text"`
}

type dictDoc struct {
	XMLName xml.Name   `xml:"textDictionary"`
	Items   []dictItem `xml:"item"`
}

// WriteDictionary writes a text dictionary document to path. Items are
// written in index order.
func WriteDictionary(t testing.TB, path string, entries map[int64]string) string {
	t.Helper()

	doc := dictDoc{}
	for idx, text := range entries {
		doc.Items = append(doc.Items, dictItem{Index: idx, Text: text})
	}
	sort.Slice(doc.Items, func(i, j int) bool { return doc.Items[i].Index < doc.Items[j].Index })

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("marshal dictionary: %v", err)
	}
	if err := os.WriteFile(path, append([]byte(xml.Header), data...), 0644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}
	return path
}

// CountRows returns the row count of table in the store at path.
func CountRows(t testing.TB, path, table string) int64 {
	t.Helper()

	db := openRaw(t, path)
	defer db.Close()

	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + quote(table)).Scan(&n); err != nil {
		t.Fatalf("count %s in %s: %v", table, filepath.Base(path), err)
	}
	return n
}

func openRaw(t testing.TB, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return db
}

func mustExec(t testing.TB, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
