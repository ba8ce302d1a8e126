package executor

import (
	"time"

	"shadowcheck/internal/db"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/rowset"
)

// Stage names the step at which a call failed.
type Stage string

const (
	StageNone  Stage = ""
	StageBegin Stage = "begin"
	StageBuild Stage = "build"
	StageSetup Stage = "setup"
	StageCall  Stage = "call"
	StageScan  Stage = "scan"
)

// Outcome is the result of one call against one store: either rows or the
// cause of failure, never both.
type Outcome struct {
	OK      bool
	Rows    *rowset.ResultSet
	Err     error
	Stage   Stage
	Reason  string
	Elapsed time.Duration
	SQL     string
	// Skipped marks a store that was intentionally not called.
	Skipped bool
}

// Success builds a successful outcome.
func Success(rows *rowset.ResultSet, elapsed time.Duration) Outcome {
	if rows == nil {
		rows = &rowset.ResultSet{}
	}
	return Outcome{OK: true, Rows: rows, Elapsed: elapsed}
}

// Failure builds a failed outcome.
func Failure(stage Stage, err error, elapsed time.Duration) Outcome {
	return Outcome{Err: err, Stage: stage, Reason: db.ErrorReason(err), Elapsed: elapsed}
}

// RowCount returns the number of rows a successful call produced.
func (o Outcome) RowCount() int {
	if !o.OK {
		return 0
	}
	return o.Rows.RowCount()
}

// Error returns the failure text, or "" for a success.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Pair holds the two outcomes for one test. Legacy is Skipped for mutating
// tests.
type Pair struct {
	Test   procedure.Test
	Legacy Outcome
	Shadow Outcome
}
