package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/roach88/ddt/internal/incident"
	"github.com/roach88/ddt/internal/series"
)

// Device table names.
const (
	TableIncidents = "IncidentAll@0"
	TableIOConfig  = "IOConfig@0"
	TableVFDConfig = "VFDConfig@0"
	TableVFDInfo   = "VFDInfo@0"
	TableCCUSync   = "CCUSync@0"
	TableParConfig = "ParConfig@0"
	TableParValue  = "ParValue@0"
	TableUsers     = "fb_users"
)

// fieldName restricts the JSON fields a caller may select by name.
var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IOPointInfo is one row of IOConfig.
type IOPointInfo struct {
	ID     int64
	Type   string
	Active bool
}

// VFDPointInfo is one row of VFDConfig.
type VFDPointInfo struct {
	ID     int64
	Active bool
}

// ReportInfo summarizes the machine and time span covered by a download.
type ReportInfo struct {
	MachineID string
	// First and Last are source timestamps in nanoseconds. Both are zero when
	// the store holds no sync rows.
	First int64
	Last  int64
}

// TableInfo is the row count of one table.
type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// Info describes a store file.
type Info struct {
	Path      string      `json:"path"`
	SizeBytes int64       `json:"size_bytes"`
	Tables    []TableInfo `json:"tables"`
}

// Incidents returns every incident row ordered by source timestamp.
// A row whose arguments cannot be parsed is returned with Malformed set.
func (s *Store) Incidents(ctx context.Context) ([]incident.RawEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			SampleInfo_source_timestamp,
			json_extract(rti_json_sample, '$.incidentTidx'),
			json_extract(rti_json_sample, '$.helpTidx'),
			json_extract(rti_json_sample, '$.type'),
			json_extract(rti_json_sample, '$.state'),
			json_extract(rti_json_sample, '$.args')
		FROM `+QuoteIdent(TableIncidents)+`
		ORDER BY SampleInfo_source_timestamp
	`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	entries := []incident.RawEntry{}
	for rows.Next() {
		var (
			ts             sql.NullInt64
			tidx, helpTidx sql.NullInt64
			typ, state     sql.NullString
			args           sql.NullString
		)
		if err := rows.Scan(&ts, &tidx, &helpTidx, &typ, &state, &args); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}

		e := incident.RawEntry{
			Timestamp: ts.Int64,
			Tidx:      tidx.Int64,
			HelpTidx:  helpTidx.Int64,
			Type:      incident.ParseType(typ.String),
			State:     incident.ParseState(state.String),
		}
		if !tidx.Valid {
			e.Malformed = errors.New("incident row has no incidentTidx")
		}
		parsed, err := incident.ParseArgs(args.String)
		if err != nil && e.Malformed == nil {
			e.Malformed = err
		}
		e.Args = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return entries, nil
}

// IOPoint looks up an IO point by its readable name.
func (s *Store) IOPoint(ctx context.Context, name string) (IOPointInfo, bool, error) {
	var (
		id     sql.NullInt64
		typ    sql.NullString
		active sql.NullBool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			json_extract(rti_json_sample, '$.ioId'),
			json_extract(rti_json_sample, '$.ioType'),
			json_extract(rti_json_sample, '$.active')
		FROM `+QuoteIdent(TableIOConfig)+`
		WHERE json_extract(rti_json_sample, '$.ioName') = ?
		ORDER BY SampleInfo_source_timestamp DESC
		LIMIT 1
	`, name).Scan(&id, &typ, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return IOPointInfo{}, false, nil
	}
	if err != nil {
		return IOPointInfo{}, false, fmt.Errorf("query io point %q: %w", name, err)
	}
	if !id.Valid {
		return IOPointInfo{}, false, nil
	}
	return IOPointInfo{ID: id.Int64, Type: typ.String, Active: active.Bool}, true, nil
}

// IOValues returns the samples of one IO point from table, ordered by time.
func (s *Store) IOValues(ctx context.Context, table string, ioID int64) ([]series.Point, error) {
	return s.points(ctx, `
		SELECT SampleInfo_source_timestamp, json_extract(rti_json_sample, '$.value')
		FROM `+QuoteIdent(table)+`
		WHERE json_extract(rti_json_sample, '$.ioId') = ?
		ORDER BY SampleInfo_source_timestamp
	`, ioID)
}

// VFDPoint looks up a drive by its device name.
func (s *Store) VFDPoint(ctx context.Context, vfdName string) (VFDPointInfo, bool, error) {
	var (
		id     sql.NullInt64
		active sql.NullBool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			json_extract(rti_json_sample, '$.vfdId'),
			json_extract(rti_json_sample, '$.active')
		FROM `+QuoteIdent(TableVFDConfig)+`
		WHERE json_extract(rti_json_sample, '$.vfdName') = ?
		ORDER BY SampleInfo_source_timestamp DESC
		LIMIT 1
	`, vfdName).Scan(&id, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return VFDPointInfo{}, false, nil
	}
	if err != nil {
		return VFDPointInfo{}, false, fmt.Errorf("query vfd point %q: %w", vfdName, err)
	}
	if !id.Valid {
		return VFDPointInfo{}, false, nil
	}
	return VFDPointInfo{ID: id.Int64, Active: active.Bool}, true, nil
}

// VFDValues returns one field of a drive's samples, ordered by time.
func (s *Store) VFDValues(ctx context.Context, vfdID int64, field string) ([]series.Point, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("invalid vfd field %q", field)
	}
	return s.points(ctx, `
		SELECT SampleInfo_source_timestamp, json_extract(rti_json_sample, ?)
		FROM `+QuoteIdent(TableVFDInfo)+`
		WHERE json_extract(rti_json_sample, '$.vfdId') = ?
		ORDER BY SampleInfo_source_timestamp
	`, "$."+field, vfdID)
}

// points scans (timestamp, value) rows. Rows without a numeric value are
// dropped.
func (s *Store) points(ctx context.Context, query string, args ...any) ([]series.Point, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	points := []series.Point{}
	for rows.Next() {
		var (
			ts    sql.NullInt64
			value sql.NullFloat64
		)
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if !ts.Valid || !value.Valid {
			continue
		}
		points = append(points, series.Point{Timestamp: ts.Int64, Value: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}
	return points, nil
}

// ReportInfo returns the machine ID and the first and last sync timestamps.
func (s *Store) ReportInfo(ctx context.Context) (ReportInfo, error) {
	var (
		machine     sql.NullString
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			json_extract(rti_json_sample, '$.machineId'),
			MIN(SampleInfo_source_timestamp),
			MAX(SampleInfo_source_timestamp)
		FROM `+QuoteIdent(TableCCUSync)+`
	`).Scan(&machine, &first, &last)
	if err != nil {
		return ReportInfo{}, fmt.Errorf("query report info: %w", err)
	}
	return ReportInfo{MachineID: machine.String, First: first.Int64, Last: last.Int64}, nil
}

// TimeZoneOffset returns the configured offset in hundredths of an hour.
//
// The parameter's tidx is looked up by name in ParConfig; fallbackTidx is
// used when ParConfig has no such row. found is false when ParValue holds
// no value for the parameter.
func (s *Store) TimeZoneOffset(ctx context.Context, parName string, fallbackTidx int64) (offset int64, found bool, err error) {
	tidx := fallbackTidx
	var configured sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT json_extract(rti_json_sample, '$.parNameTidx')
		FROM `+QuoteIdent(TableParConfig)+`
		WHERE json_extract(rti_json_sample, '$.parName') = ?
		ORDER BY SampleInfo_source_timestamp
		LIMIT 1
	`, parName).Scan(&configured)
	switch {
	case err == nil && configured.Valid:
		tidx = configured.Int64
	case err == nil, errors.Is(err, sql.ErrNoRows), isNoSuchTable(err):
	default:
		return 0, false, fmt.Errorf("query parameter %q: %w", parName, err)
	}

	var value sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT json_extract(rti_json_sample, '$.value.longValue')
		FROM `+QuoteIdent(TableParValue)+`
		WHERE json_extract(rti_json_sample, '$.parNameTidx') = ?
		ORDER BY SampleInfo_source_timestamp
		LIMIT 1
	`, tidx).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || isNoSuchTable(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query parameter value %d: %w", tidx, err)
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Int64, true, nil
}

// UserName returns the login name of a user ID from the fb_users table.
func (s *Store) UserName(ctx context.Context, userID int64) (string, bool, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT loginId FROM "+QuoteIdent(TableUsers)+" WHERE userId = ?", userID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query user %d: %w", userID, err)
	}
	if !name.Valid {
		return "", false, nil
	}
	return name.String, true, nil
}

// Tables returns the store's table names, ordered by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	return TableNames(ctx, s.db, "main")
}

// RowCount returns the number of rows in table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Info returns the file size and per-table row counts.
func (s *Store) Info(ctx context.Context) (*Info, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{Path: s.path, Tables: make([]TableInfo, 0, len(tables))}
	for _, t := range tables {
		n, err := s.RowCount(ctx, t)
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, TableInfo{Name: t, Rows: n})
	}

	if fi, err := os.Stat(s.path); err == nil {
		info.SizeBytes = fi.Size()
	}
	return info, nil
}
