package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shadowcheck/internal/compare"
	"shadowcheck/internal/report"

	"github.com/google/go-cmp/cmp"
)

func writeSummary(t *testing.T, name string, rep report.VerificationReport) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func runReport(id string, verdicts map[string]compare.Verdict) report.VerificationReport {
	var results []compare.Result
	for name, v := range verdicts {
		results = append(results, compare.Result{Procedure: name, Verdict: v})
	}
	rep := report.Aggregate(report.Meta{}, results)
	rep.RunID = id
	return rep
}

func TestDiffReports(t *testing.T) {
	baseline := runReport("a", map[string]compare.Verdict{
		"GetHours":   compare.Passed,
		"GetPerson":  compare.Failed,
		"ListPeople": compare.NeedsInvestigation,
		"OldProc":    compare.Passed,
		"Stable":     compare.Passed,
	})
	current := runReport("b", map[string]compare.Verdict{
		"GetHours":   compare.Failed,
		"GetPerson":  compare.Passed,
		"ListPeople": compare.Failed,
		"NewProc":    compare.NeedsInvestigation,
		"Stable":     compare.Passed,
	})
	d := diffReports(baseline, current)
	want := []Change{
		{Procedure: "GetHours", Kind: ChangeRegressed, Baseline: "PASSED", Current: "FAILED"},
		{Procedure: "GetPerson", Kind: ChangeFixed, Baseline: "FAILED", Current: "PASSED"},
		{Procedure: "ListPeople", Kind: ChangeRegressed, Baseline: "NEEDS_INVESTIGATION", Current: "FAILED"},
		{Procedure: "NewProc", Kind: ChangeRegressed, Current: "NEEDS_INVESTIGATION"},
		{Procedure: "OldProc", Kind: ChangeRemoved, Baseline: "PASSED"},
	}
	if diff := cmp.Diff(want, d.Changes); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}
	if d.Regressions != 3 {
		t.Fatalf("regressions=%d", d.Regressions)
	}
}

func TestExecuteExitCodes(t *testing.T) {
	base := writeSummary(t, "base.json", runReport("a", map[string]compare.Verdict{"P": compare.Passed}))
	same := writeSummary(t, "same.json", runReport("b", map[string]compare.Verdict{"P": compare.Passed}))
	worse := writeSummary(t, "worse.json", runReport("c", map[string]compare.Verdict{"P": compare.Failed}))

	var out bytes.Buffer
	code, err := execute([]string{base, same}, &out)
	if err != nil || code != 0 || !strings.Contains(out.String(), "no verdict changes") {
		t.Fatalf("unchanged: code=%d err=%v out=%s", code, err, out.String())
	}
	out.Reset()
	code, err = execute([]string{base, worse}, &out)
	if err != nil || code != 1 || !strings.Contains(out.String(), "REGRESSED  P: PASSED -> FAILED") {
		t.Fatalf("regressed: code=%d err=%v out=%s", code, err, out.String())
	}
	out.Reset()
	code, err = execute([]string{"--json", base, worse}, &out)
	if err != nil || code != 1 {
		t.Fatalf("json: code=%d err=%v", code, err)
	}
	var d Diff
	if err := json.Unmarshal(out.Bytes(), &d); err != nil || d.Regressions != 1 {
		t.Fatalf("json output %s: %v", out.String(), err)
	}
}

func TestExecuteMissingFile(t *testing.T) {
	var out bytes.Buffer
	if code, err := execute([]string{"missing-a.json", "missing-b.json"}, &out); err == nil || code != 1 {
		t.Fatalf("expected error, got code=%d err=%v", code, err)
	}
}
