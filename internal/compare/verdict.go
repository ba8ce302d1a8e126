// Package compare turns a pair of execution outcomes into a verdict.
package compare

import (
	"time"

	"shadowcheck/internal/executor"
)

// Verdict is the tri-state result for one procedure.
type Verdict int

const (
	Passed Verdict = iota
	Failed
	NeedsInvestigation
)

func (v Verdict) String() string {
	switch v {
	case Passed:
		return "PASSED"
	case Failed:
		return "FAILED"
	case NeedsInvestigation:
		return "NEEDS_INVESTIGATION"
	}
	return "UNKNOWN"
}

// Marker is the short console tag for v.
func (v Verdict) Marker() string {
	switch v {
	case Passed:
		return "PASS"
	case Failed:
		return "FAIL"
	}
	return "INVESTIGATE"
}

// MarshalText encodes v by name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a verdict name.
func (v *Verdict) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PASSED":
		*v = Passed
	case "FAILED":
		*v = Failed
	default:
		*v = NeedsInvestigation
	}
	return nil
}

// Case is one row of the outcome table.
type Case int

const (
	CaseBothFailed Case = iota
	CaseLegacyFailed
	CaseShadowFailed
	CaseBothSucceeded
)

// Classify places a read-only outcome pair in the outcome table.
func Classify(legacy, shadow executor.Outcome) Case {
	switch {
	case !legacy.OK && !shadow.OK:
		return CaseBothFailed
	case !legacy.OK:
		return CaseLegacyFailed
	case !shadow.OK:
		return CaseShadowFailed
	}
	return CaseBothSucceeded
}

// Verdict resolves the case; only CaseBothSucceeded depends on the number of
// row differences.
func (c Case) Verdict(differences int) Verdict {
	switch c {
	case CaseBothFailed, CaseLegacyFailed:
		return NeedsInvestigation
	case CaseShadowFailed:
		return Failed
	}
	if differences > 0 {
		return Failed
	}
	return Passed
}

// Difference is one verdict-determining discrepancy.
type Difference struct {
	Kind    string `json:"kind"`
	Row     int    `json:"row,omitempty"`
	Column  string `json:"column,omitempty"`
	Legacy  string `json:"legacy,omitempty"`
	Shadow  string `json:"shadow,omitempty"`
	Message string `json:"message,omitempty"`
}

// Difference kinds.
const (
	KindShadowError  = "shadow_error"
	KindRowCount     = "row_count"
	KindValue        = "value"
	KindMissingRow   = "missing_in_shadow"
	KindExtraRow     = "extra_in_shadow"
	KindDuplicateRow = "duplicate_count"
)

// Result is the comparison outcome for one procedure.
type Result struct {
	Procedure     string        `json:"procedure"`
	Mode          string        `json:"mode"`
	Verdict       Verdict       `json:"verdict"`
	Arguments     string        `json:"arguments,omitempty"`
	LegacySkipped bool          `json:"legacy_skipped,omitempty"`
	LegacyRows    int           `json:"legacy_rows"`
	ShadowRows    int           `json:"shadow_rows"`
	LegacyElapsed time.Duration `json:"legacy_elapsed_ns"`
	ShadowElapsed time.Duration `json:"shadow_elapsed_ns"`
	LegacyError   string        `json:"legacy_error,omitempty"`
	ShadowError   string        `json:"shadow_error,omitempty"`
	ErrorReason   string        `json:"error_reason,omitempty"`
	Differences   []Difference  `json:"differences,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}
