package rowset

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column describes one result column.
type Column struct {
	Name   string
	DBType string
}

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []Column
	Rows    [][]Value
	// Count is the number of rows the driver returned; it exceeds len(Rows)
	// when Truncated is set.
	Count     int
	Truncated bool
}

// RowCount returns the driver row count.
func (rs *ResultSet) RowCount() int {
	if rs == nil {
		return 0
	}
	return rs.Count
}

// ColumnNames returns the column names in result order.
func (rs *ResultSet) ColumnNames() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		out[i] = c.Name
	}
	return out
}

// Scan materializes the first result set of rows, keeping at most maxRows
// rows (0 means unbounded) while still counting the rest. Remaining result
// sets, as produced by stored procedure calls, are drained.
func Scan(rows *sql.Rows, maxRows int) (*ResultSet, error) {
	rs := &ResultSet{}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	for _, ct := range types {
		rs.Columns = append(rs.Columns, Column{Name: ct.Name(), DBType: strings.ToUpper(ct.DatabaseTypeName())})
	}
	if len(rs.Columns) > 0 {
		values := make([]any, len(rs.Columns))
		scanArgs := make([]any, len(values))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		for rows.Next() {
			if err := rows.Scan(scanArgs...); err != nil {
				return nil, err
			}
			rs.Count++
			if maxRows > 0 && len(rs.Rows) >= maxRows {
				rs.Truncated = true
				continue
			}
			row := make([]Value, len(values))
			for i, v := range values {
				row[i] = FromDriver(v, rs.Columns[i].DBType)
			}
			rs.Rows = append(rs.Rows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for rows.NextResultSet() {
		for rows.Next() {
		}
	}
	return rs, rows.Err()
}

// FromDriver converts a driver value. Engines that transmit everything as
// text (the MySQL text protocol, PostgreSQL NUMERIC) are decoded using the
// declared column type.
func FromDriver(src any, dbType string) Value {
	switch v := src.(type) {
	case nil:
		return Null()
	case int64:
		return Int(v)
	case int32:
		return Int(int64(v))
	case int:
		return Int(int64(v))
	case uint64:
		return Float(float64(v))
	case float64:
		return Float(v)
	case float32:
		return Float(float64(v))
	case bool:
		return Bool(v)
	case time.Time:
		return Time(v)
	case string:
		return fromText(v, dbType)
	case []byte:
		if isBinaryType(dbType) {
			return Bytes(v)
		}
		return fromText(string(v), dbType)
	}
	return Text(fmt.Sprint(src))
}

func fromText(s string, dbType string) Value {
	switch {
	case isIntegerType(dbType):
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return Int(n)
		}
	case isDecimalType(dbType):
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return Float(f)
		}
	case isBoolType(dbType):
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "t", "true", "1", "\x01":
			return Bool(true)
		case "f", "false", "0", "\x00":
			return Bool(false)
		}
	case isTimeType(dbType):
		if t, ok := parseTime(s); ok {
			return Time(t)
		}
	}
	return Text(s)
}

func baseType(dbType string) string {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = t[:idx]
	}
	return t
}

func isIntegerType(dbType string) bool {
	switch baseType(dbType) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return true
	}
	return false
}

func isDecimalType(dbType string) bool {
	switch baseType(dbType) {
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "MONEY":
		return true
	}
	return false
}

func isBoolType(dbType string) bool {
	switch baseType(dbType) {
	case "BOOL", "BOOLEAN", "BIT":
		return true
	}
	return false
}

func isTimeType(dbType string) bool {
	switch baseType(dbType) {
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIME", "TIMETZ":
		return true
	}
	return false
}

func isBinaryType(dbType string) bool {
	switch baseType(dbType) {
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BYTEA", "GEOMETRY":
		return true
	}
	return false
}
