package db

import (
	"fmt"
	"strconv"
	"strings"

	"shadowcheck/internal/procedure"

	_ "github.com/lib/pq" // Register the postgres driver.
)

// Postgres selects from set-returning functions and CALLs procedures.
// Arguments carry explicit casts so overloaded and polymorphic signatures
// resolve the way the catalog declared them.
type Postgres struct{}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// DriverName implements Dialect.
func (Postgres) DriverName() string { return "postgres" }

// QuoteIdent implements Dialect.
func (Postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Rebind implements Dialect.
func (Postgres) Rebind(query string) string { return DollarPlaceholders(query) }

// DollarPlaceholders numbers each ? outside quoted text as $1, $2, ...
func DollarPlaceholders(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

const postgresCatalogQuery = `SELECT r.routine_name, r.specific_name, r.routine_type,
  COALESCE(p.ordinal_position, 0), COALESCE(p.parameter_name, ''), COALESCE(p.parameter_mode, ''),
  COALESCE(p.udt_name, ''), COALESCE(p.character_maximum_length, 0), p.parameter_default IS NOT NULL
FROM information_schema.routines r
LEFT JOIN information_schema.parameters p
  ON p.specific_schema = r.specific_schema AND p.specific_name = r.specific_name
WHERE r.routine_schema = $1
  AND r.routine_type IN ('PROCEDURE', 'FUNCTION')
  AND COALESCE(r.data_type, '') <> 'trigger'
ORDER BY r.routine_name, r.specific_name, p.ordinal_position`

// CatalogQuery implements Dialect.
func (Postgres) CatalogQuery(schema string) Statement {
	return Statement{SQL: postgresCatalogQuery, Args: []any{schema}}
}

// BuildCall implements Dialect. Functions drop their OUT parameters, which
// come back as result columns; procedures receive NULL in each OUT slot.
func (d Postgres) BuildCall(schema string, test procedure.Test) Call {
	target := d.QuoteIdent(test.Name)
	if schema != "" {
		target = d.QuoteIdent(schema) + "." + target
	}
	var call Call
	args := make([]string, 0, len(test.Params))
	for _, p := range test.Params {
		if p.Direction == procedure.DirectionOut {
			if !test.IsFunction() {
				args = append(args, "NULL"+pgCast(p.DataType))
			}
			continue
		}
		call.Query.Args = append(call.Query.Args, p.Arg())
		args = append(args, fmt.Sprintf("$%d%s", len(call.Query.Args), pgCast(p.DataType)))
	}
	if test.IsFunction() {
		call.Query.SQL = fmt.Sprintf("SELECT * FROM %s(%s)", target, strings.Join(args, ", "))
		return call
	}
	call.Query.SQL = fmt.Sprintf("CALL %s(%s)", target, strings.Join(args, ", "))
	return call
}

func pgCast(udt string) string {
	udt = strings.TrimSpace(udt)
	if udt == "" || strings.ContainsAny(udt, ` ;"'()`) {
		return ""
	}
	return "::" + udt
}
