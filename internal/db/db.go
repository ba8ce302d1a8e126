// Package db wraps the two database handles under comparison together with
// the SQL dialect used to introspect and call their routines.
package db

import (
	"context"
	"database/sql"
	"strings"

	"shadowcheck/internal/config"
	"shadowcheck/internal/procedure"

	"github.com/pkg/errors"
)

// DB is one store: a single-connection pool plus its dialect.
type DB struct {
	*sql.DB
	Label   string
	Schema  string
	Dialect Dialect
	// Validate, when set, checks generated SQL before it reaches the driver.
	Validate func(sql string) error
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Call is a routine invocation: statements that prepare session state, then
// the statement whose first result set is compared.
type Call struct {
	Setup []Statement
	Query Statement
}

// Statement is SQL text with its driver arguments.
type Statement struct {
	SQL  string
	Args []any
}

// String renders the call for verbose logs.
func (c Call) String() string {
	parts := make([]string, 0, len(c.Setup)+1)
	for _, s := range c.Setup {
		parts = append(parts, s.SQL)
	}
	parts = append(parts, c.Query.SQL)
	return strings.Join(parts, "; ")
}

// Dialect is the engine-specific SQL surface.
type Dialect interface {
	Name() string
	DriverName() string
	// CatalogQuery lists routines and their parameters in schema, one row per
	// parameter (routines without parameters yield one row with ordinal 0).
	CatalogQuery(schema string) Statement
	BuildCall(schema string, test procedure.Test) Call
	QuoteIdent(name string) string
	// Rebind rewrites ?-style placeholders into the engine's own form.
	Rebind(query string) string
}

// DialectFor returns the dialect for a configured driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverMySQL:
		return MySQL{}, nil
	case config.DriverPostgres:
		return Postgres{}, nil
	}
	return nil, errors.Errorf("unsupported driver %q", driver)
}

// Open connects to a configured store. The pool is capped at one open
// connection so calls against a store never overlap and session variables
// survive between statements.
func Open(cfg config.StoreConfig) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Label)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return &DB{DB: conn, Label: cfg.Label, Schema: cfg.Catalog(), Dialect: dialect}, nil
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "ping %s", d.Label)
	}
	return nil
}

// BuildCall renders the invocation of test against this store.
func (d *DB) BuildCall(test procedure.Test) (Call, error) {
	call := d.Dialect.BuildCall(d.Schema, test)
	if d.Validate != nil {
		if err := d.Validate(call.Query.SQL); err != nil {
			return Call{}, errors.Wrapf(err, "invalid call for %s", test.Name)
		}
	}
	return call, nil
}

// CatalogRow is one routine parameter as listed by the catalog.
type CatalogRow struct {
	Routine      string
	SpecificName string
	RoutineType  string
	Ordinal      int
	ParamName    string
	Mode         string
	DataType     string
	MaxLength    int64
	HasDefault   bool
}

// Routines reads the routine catalog of the store's schema.
func (d *DB) Routines(ctx context.Context) ([]CatalogRow, error) {
	stmt := d.Dialect.CatalogQuery(d.Schema)
	rows, err := d.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s catalog", d.Label)
	}
	defer rows.Close()
	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.Routine, &r.SpecificName, &r.RoutineType, &r.Ordinal, &r.ParamName,
			&r.Mode, &r.DataType, &r.MaxLength, &r.HasDefault); err != nil {
			return nil, errors.Wrapf(err, "scan %s catalog", d.Label)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s catalog", d.Label)
	}
	return out, nil
}

// Rebind adapts a configured query to the store's placeholder style.
func (d *DB) Rebind(query string) string {
	if d.Dialect == nil {
		return query
	}
	return d.Dialect.Rebind(query)
}

// QueryIdentifier runs query and returns the first column of its first row
// as text. It reports false when the query returns no rows. ? placeholders
// are rebound for the store's dialect.
func (d *DB) QueryIdentifier(ctx context.Context, query string, args ...any) (string, bool, error) {
	var v sql.NullString
	err := d.QueryRowContext(ctx, d.Rebind(query), args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "query %s", d.Label)
	}
	return v.String, v.Valid, nil
}
