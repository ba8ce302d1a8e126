package db

import (
	"fmt"
	"strings"

	"shadowcheck/internal/procedure"

	_ "github.com/go-sql-driver/mysql" // Register the mysql driver.
)

// MySQL calls procedures with CALL, binding OUT and INOUT parameters to
// session variables.
type MySQL struct{}

// Name implements Dialect.
func (MySQL) Name() string { return "mysql" }

// DriverName implements Dialect.
func (MySQL) DriverName() string { return "mysql" }

// QuoteIdent implements Dialect.
func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Rebind implements Dialect. MySQL already uses ?.
func (MySQL) Rebind(query string) string { return query }

const mysqlCatalogQuery = `SELECT r.ROUTINE_NAME, r.SPECIFIC_NAME, r.ROUTINE_TYPE,
  COALESCE(p.ORDINAL_POSITION, 0), COALESCE(p.PARAMETER_NAME, ''), COALESCE(p.PARAMETER_MODE, ''),
  COALESCE(p.DTD_IDENTIFIER, ''), COALESCE(p.CHARACTER_MAXIMUM_LENGTH, 0), 0
FROM information_schema.ROUTINES r
LEFT JOIN information_schema.PARAMETERS p
  ON p.SPECIFIC_SCHEMA = r.ROUTINE_SCHEMA AND p.SPECIFIC_NAME = r.SPECIFIC_NAME AND p.ORDINAL_POSITION > 0
WHERE r.ROUTINE_SCHEMA = ? AND r.ROUTINE_TYPE IN ('PROCEDURE', 'FUNCTION')
ORDER BY r.ROUTINE_NAME, p.ORDINAL_POSITION`

// CatalogQuery implements Dialect. MySQL has no parameter defaults and no
// overloading, so has_default is constant and each routine has one
// specific name.
func (MySQL) CatalogQuery(schema string) Statement {
	return Statement{SQL: mysqlCatalogQuery, Args: []any{schema}}
}

// BuildCall implements Dialect.
func (d MySQL) BuildCall(schema string, test procedure.Test) Call {
	target := d.QuoteIdent(test.Name)
	if schema != "" {
		target = d.QuoteIdent(schema) + "." + target
	}
	var call Call
	args := make([]string, 0, len(test.Params))
	for _, p := range test.Params {
		switch {
		case test.IsFunction():
			args = append(args, "?")
			call.Query.Args = append(call.Query.Args, p.Arg())
		case p.Direction == procedure.DirectionOut:
			args = append(args, sessionVar(p.Name))
			call.Setup = append(call.Setup, Statement{SQL: fmt.Sprintf("SET %s = NULL", sessionVar(p.Name))})
		case p.InOut:
			args = append(args, sessionVar(p.Name))
			call.Setup = append(call.Setup, Statement{SQL: fmt.Sprintf("SET %s = ?", sessionVar(p.Name)), Args: []any{p.Arg()}})
		default:
			args = append(args, "?")
			call.Query.Args = append(call.Query.Args, p.Arg())
		}
	}
	if test.IsFunction() {
		call.Query.SQL = fmt.Sprintf("SELECT %s(%s) AS %s", target, strings.Join(args, ", "), d.QuoteIdent("result"))
		return call
	}
	call.Query.SQL = fmt.Sprintf("CALL %s(%s)", target, strings.Join(args, ", "))
	return call
}

func sessionVar(param string) string {
	var b strings.Builder
	b.WriteString("@shadowcheck_")
	for _, r := range strings.ToLower(param) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
