// Package validator checks generated MySQL-dialect statements with the TiDB
// parser before they are sent to a live server.
package validator

import (
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver" // Register TiDB parser driver.
	"github.com/pkg/errors"
)

// Validator wraps the TiDB parser for SQL validation.
type Validator struct {
	parser *parser.Parser
}

// New returns a Validator instance.
func New() *Validator {
	return &Validator{parser: parser.New()}
}

// Validate accepts a single CALL or SELECT statement.
func (v *Validator) Validate(sql string) error {
	stmts, _, err := v.parser.Parse(sql, "", "")
	if err != nil {
		return err
	}
	if len(stmts) != 1 {
		return errors.Errorf("expected one statement, got %d", len(stmts))
	}
	switch stmts[0].(type) {
	case *ast.CallStmt, *ast.SelectStmt:
		return nil
	}
	return errors.Errorf("unexpected statement type %T", stmts[0])
}
