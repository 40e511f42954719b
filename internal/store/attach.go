package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Execer is satisfied by *sql.Conn, *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.Conn, *sql.Tx and *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableDef is one CREATE TABLE statement from a store's catalog.
type TableDef struct {
	Name string
	SQL  string
}

// QuoteIdent quotes an SQLite identifier. Table names in device stores
// carry characters such as '@' that are not valid bare identifiers.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Attach binds the store file at path to conn under alias.
// ATTACH cannot run inside a transaction.
func Attach(ctx context.Context, conn *sql.Conn, path, alias string) error {
	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+QuoteIdent(alias), path); err != nil {
		return fmt.Errorf("attach %s as %s: %w", path, alias, err)
	}
	// SQLite attaches lazily; reading the catalog surfaces unreadable files
	// here instead of on the first copy.
	var n int
	q := "SELECT COUNT(*) FROM " + QuoteIdent(alias) + ".sqlite_master"
	if err := conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		_ = Detach(ctx, conn, alias)
		return fmt.Errorf("read catalog of %s: %w", path, err)
	}
	return nil
}

// Detach unbinds alias from conn.
func Detach(ctx context.Context, conn *sql.Conn, alias string) error {
	if _, err := conn.ExecContext(ctx, "DETACH DATABASE "+QuoteIdent(alias)); err != nil {
		return fmt.Errorf("detach %s: %w", alias, err)
	}
	return nil
}

// TableDefs returns the CREATE TABLE statements of the schema named schema
// ("main" or an attached alias), ordered by table name. Internal sqlite_
// tables are excluded.
func TableDefs(ctx context.Context, q Querier, schema string) ([]TableDef, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name, sql FROM "+QuoteIdent(schema)+".sqlite_master "+
			"WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' AND sql IS NOT NULL "+
			"ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query %s catalog: %w", schema, err)
	}
	defer rows.Close()

	var defs []TableDef
	for rows.Next() {
		var d TableDef
		if err := rows.Scan(&d.Name, &d.SQL); err != nil {
			return nil, fmt.Errorf("scan %s catalog: %w", schema, err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s catalog: %w", schema, err)
	}
	return defs, nil
}

// TableNames returns the table names of schema, ordered by name.
func TableNames(ctx context.Context, q Querier, schema string) ([]string, error) {
	defs, err := TableDefs(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names, nil
}

// CopyTable appends every row of alias.table to main.table and returns the
// number of rows copied.
func CopyTable(ctx context.Context, ex Execer, alias, table string) (int64, error) {
	q := "INSERT INTO main." + QuoteIdent(table) +
		" SELECT * FROM " + QuoteIdent(alias) + "." + QuoteIdent(table)
	res, err := ex.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("copy %s from %s: %w", table, alias, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("copy %s from %s: rows affected: %w", table, alias, err)
	}
	return n, nil
}

// IsMissingTable reports whether err came from a table absent in a source.
func IsMissingTable(err error) bool {
	return isNoSuchTable(err)
}
