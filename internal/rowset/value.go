// Package rowset holds driver-independent result sets and the tolerant value
// semantics used to compare them across storage engines.
package rowset

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/tidb/pkg/types"
)

// Kind is the normalized family of a cell value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindTime
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	}
	return "unknown"
}

// Value is one cell.
type Value struct {
	Kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    time.Time
	raw  []byte
}

// Null returns the SQL NULL cell.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an integer cell.
func Int(v int64) Value { return Value{Kind: KindInt, i: v} }

// Float returns a floating point or decimal cell.
func Float(v float64) Value { return Value{Kind: KindFloat, f: v} }

// Bool returns a boolean cell.
func Bool(v bool) Value { return Value{Kind: KindBool, b: v} }

// Text returns a character cell.
func Text(v string) Value { return Value{Kind: KindText, s: v} }

// Time returns a temporal cell.
func Time(v time.Time) Value { return Value{Kind: KindTime, t: v} }

// Bytes returns a binary cell.
func Bytes(v []byte) Value { return Value{Kind: KindBytes, raw: append([]byte(nil), v...)} }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) isNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat || v.Kind == KindBool
}

// Number returns v as a float64. Text is parsed; booleans map to 0/1.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// TimeValue returns v as a time. Text is parsed with the layouts both
// engines commonly emit.
func (v Value) TimeValue() (time.Time, bool) {
	switch v.Kind {
	case KindTime:
		return v.t, true
	case KindText:
		return parseTime(v.s)
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// String renders v for reports.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.s
	case KindTime:
		return v.t.Format("2006-01-02 15:04:05.000000")
	case KindBytes:
		return "0x" + hex.EncodeToString(v.raw)
	}
	return ""
}

// Tolerance bounds the equality used by TolerantEqual.
type Tolerance struct {
	Time    time.Duration
	Numeric float64
}

// DefaultTolerance absorbs timestamp precision and decimal scale drift
// between storage engines.
var DefaultTolerance = Tolerance{Time: time.Second, Numeric: 0.01}

// TolerantEqual compares two cells. It is symmetric: every branch is chosen
// by a condition on both sides and applies the same conversion to both.
func TolerantEqual(a, b Value, tol Tolerance) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	if a.Kind == KindText && b.Kind == KindText {
		return strings.EqualFold(strings.TrimSpace(a.s), strings.TrimSpace(b.s))
	}
	if a.Kind == KindTime || b.Kind == KindTime {
		at, aok := a.TimeValue()
		bt, bok := b.TimeValue()
		if aok && bok {
			d := at.Sub(bt)
			if d < 0 {
				d = -d
			}
			return d < tol.Time
		}
	}
	if a.isNumeric() || b.isNumeric() {
		if eq, ok := decimalWithin(a, b, tol.Numeric); ok {
			return eq
		}
		an, aok := a.Number()
		bn, bok := b.Number()
		if aok && bok {
			return an == bn || math.Abs(an-bn) < tol.Numeric
		}
	}
	if a.Kind == KindBytes && b.Kind == KindBytes {
		return bytes.Equal(a.raw, b.raw)
	}
	return a.String() == b.String()
}

// decimal returns v as an exact decimal. Floats go through their shortest
// text form, so Float(40.01) is 40.01 and not the nearest binary fraction.
func (v Value) decimal() (*types.MyDecimal, bool) {
	d := new(types.MyDecimal)
	switch v.Kind {
	case KindInt:
		d.FromInt(v.i)
	case KindBool:
		if v.b {
			d.FromInt(1)
		} else {
			d.FromInt(0)
		}
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return nil, false
		}
		if err := d.FromFloat64(v.f); err != nil {
			return nil, false
		}
	case KindText:
		s := strings.TrimSpace(v.s)
		if s == "" {
			return nil, false
		}
		if err := d.FromString([]byte(s)); err != nil {
			return nil, false
		}
	default:
		return nil, false
	}
	return d, true
}

// decimalWithin reports whether |a-b| < tol using decimal arithmetic. A zero
// tolerance means exact equality. ok is false when either side has no exact
// decimal form; callers fall back to float comparison then.
func decimalWithin(a, b Value, tol float64) (equal, ok bool) {
	ad, aok := a.decimal()
	bd, bok := b.decimal()
	if !aok || !bok {
		return false, false
	}
	diff := new(types.MyDecimal)
	if err := types.DecimalSub(ad, bd, diff); err != nil {
		return false, false
	}
	if diff.IsNegative() {
		diff = types.DecimalNeg(diff)
	}
	if tol <= 0 {
		return diff.IsZero(), true
	}
	td := new(types.MyDecimal)
	if err := td.FromFloat64(tol); err != nil {
		return false, false
	}
	return diff.Compare(td) < 0, true
}

// Canonical is the normalized text used in row signatures: trimmed lower
// case text, times truncated to the second in UTC, numbers rounded to the
// numeric tolerance scale.
func (v Value) Canonical(scale int) string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindText:
		return strings.ToLower(strings.TrimSpace(v.s))
	case KindTime:
		return v.t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05")
	case KindInt, KindFloat, KindBool:
		n, _ := v.Number()
		return formatRounded(n, scale)
	}
	return v.String()
}

func formatRounded(val float64, scale int) string {
	if scale <= 0 {
		return strconv.FormatFloat(math.Round(val), 'f', 0, 64)
	}
	pow := math.Pow10(scale)
	val = math.Round(val*pow) / pow
	if val == 0 {
		// drop negative zero
		val = 0
	}
	return strconv.FormatFloat(val, 'f', scale, 64)
}
