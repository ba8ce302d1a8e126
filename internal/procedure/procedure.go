// Package procedure defines the callable test definitions shared by discovery,
// synthesis and execution.
package procedure

import (
	"fmt"
	"strings"
	"time"
)

// ParamType is the scalar family a declared parameter type belongs to.
type ParamType int

const (
	TypeUnknown ParamType = iota
	TypeInteger
	TypeDecimal
	TypeBoolean
	TypeText
	TypeDateTime
	TypeBinary
	TypeIdentifier
)

var paramTypeNames = map[ParamType]string{
	TypeUnknown:    "unknown",
	TypeInteger:    "integer",
	TypeDecimal:    "decimal",
	TypeBoolean:    "boolean",
	TypeText:       "text",
	TypeDateTime:   "datetime",
	TypeBinary:     "binary",
	TypeIdentifier: "identifier",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseParamType maps a catalog data type (MySQL DATA_TYPE or PostgreSQL
// data_type / udt_name) onto a ParamType.
func ParseParamType(dataType string) ParamType {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	if strings.HasPrefix(dt, "tinyint(1)") {
		return TypeBoolean
	}
	if idx := strings.IndexByte(dt, '('); idx >= 0 {
		dt = strings.TrimSpace(dt[:idx])
	}
	dt = strings.TrimSuffix(dt, " unsigned")
	switch dt {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"int2", "int4", "int8", "serial", "bigserial", "smallserial", "year":
		return TypeInteger
	case "decimal", "numeric", "float", "double", "double precision", "real",
		"float4", "float8", "money":
		return TypeDecimal
	case "bool", "boolean", "bit":
		return TypeBoolean
	case "char", "varchar", "character", "character varying", "text", "tinytext",
		"mediumtext", "longtext", "enum", "set", "bpchar", "citext", "name", "json", "jsonb":
		return TypeText
	case "date", "datetime", "timestamp", "time", "timestamp without time zone",
		"timestamp with time zone", "timestamptz", "time without time zone",
		"time with time zone", "timetz", "interval":
		return TypeDateTime
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob", "bytea":
		return TypeBinary
	case "uuid", "uniqueidentifier":
		return TypeIdentifier
	}
	return TypeUnknown
}

// Direction is the parameter passing direction.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// ParseDirection maps a catalog parameter mode. INOUT parameters carry a
// caller-supplied value and are treated as inputs.
func ParseDirection(mode string) Direction {
	if strings.EqualFold(strings.TrimSpace(mode), "OUT") {
		return DirectionOut
	}
	return DirectionIn
}

type marker string

func (m marker) String() string { return string(m) }

const (
	// Null is the synthesized value for an explicit SQL NULL argument.
	Null marker = "NULL"
	// Absent marks an output parameter that never carries a value.
	Absent marker = "<absent>"
)

// IsNull reports whether v is the Null marker or a Go nil.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	m, ok := v.(marker)
	return ok && m == Null
}

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v any) bool {
	m, ok := v.(marker)
	return ok && m == Absent
}

// ParameterSpec is one declared parameter with its synthesized value.
type ParameterSpec struct {
	Name       string
	Type       ParamType
	DataType   string
	Direction  Direction
	Value      any
	Size       int
	Nullable   bool
	HasDefault bool
	// InOut marks an INOUT parameter; it is synthesized as an input but some
	// engines only accept a variable in its position.
	InOut bool
}

// Arg returns the driver argument for an input parameter.
func (p ParameterSpec) Arg() any {
	if IsNull(p.Value) || IsAbsent(p.Value) {
		return nil
	}
	return p.Value
}

// Mode selects how a procedure is executed.
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeMutating
)

func (m Mode) String() string {
	if m == ModeMutating {
		return "mutating"
	}
	return "read-only"
}

// Routine kinds as reported by the catalog.
const (
	RoutineProcedure = "PROCEDURE"
	RoutineFunction  = "FUNCTION"
)

// Test is a callable test definition for one procedure.
type Test struct {
	Name    string
	Routine string
	Mode    Mode
	Params  []ParameterSpec
}

// IsFunction reports whether the routine is invoked as a function.
func (t Test) IsFunction() bool {
	return strings.EqualFold(t.Routine, RoutineFunction)
}

// Inputs returns the input parameters in declaration order.
func (t Test) Inputs() []ParameterSpec {
	out := make([]ParameterSpec, 0, len(t.Params))
	for _, p := range t.Params {
		if p.Direction == DirectionIn {
			out = append(out, p)
		}
	}
	return out
}

// Describe renders the synthesized arguments for diagnostics.
func (t Test) Describe() string {
	if len(t.Params) == 0 {
		return t.Name + "()"
	}
	parts := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		parts = append(parts, fmt.Sprintf("%s %s=%s", p.Direction, p.Name, FormatValue(p.Value)))
	}
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(parts, ", "))
}

// FormatValue renders a synthesized value for logs and reports.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case marker:
		return val.String()
	case string:
		return fmt.Sprintf("%q", val)
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
