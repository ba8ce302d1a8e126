package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"shadowcheck/internal/compare"
	"shadowcheck/internal/report"

	"github.com/spf13/cobra"
)

// Change kinds between two runs.
const (
	ChangeRegressed = "regressed"
	ChangeFixed     = "fixed"
	ChangeChanged   = "changed"
	ChangeAdded     = "added"
	ChangeRemoved   = "removed"
)

// Change is a verdict movement for one procedure.
type Change struct {
	Procedure string `json:"procedure"`
	Kind      string `json:"kind"`
	Baseline  string `json:"baseline,omitempty"`
	Current   string `json:"current,omitempty"`
}

// Diff is the outcome of comparing two summaries.
type Diff struct {
	BaselineRun string   `json:"baseline_run"`
	CurrentRun  string   `json:"current_run"`
	Changes     []Change `json:"changes"`
	Regressions int      `json:"regressions"`
}

func main() {
	code, err := execute(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowcheck-diff: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func execute(args []string, out io.Writer) (int, error) {
	var (
		asJSON bool
		code   int
	)
	cmd := &cobra.Command{
		Use:           "shadowcheck-diff BASELINE CURRENT",
		Short:         "List verdict changes between two summary.json files",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, paths []string) error {
			baseline, err := report.ReadSummary(paths[0])
			if err != nil {
				return err
			}
			current, err := report.ReadSummary(paths[1])
			if err != nil {
				return err
			}
			d := diffReports(baseline, current)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(d); err != nil {
					return err
				}
			} else {
				writeText(out, d)
			}
			if d.Regressions > 0 {
				code = 1
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	cmd.SetArgs(args)
	cmd.SetOut(out)
	if err := cmd.Execute(); err != nil {
		return 1, err
	}
	return code, nil
}

// severity orders verdicts from best to worst.
func severity(v compare.Verdict) int {
	switch v {
	case compare.Passed:
		return 0
	case compare.NeedsInvestigation:
		return 1
	}
	return 2
}

func diffReports(baseline, current report.VerificationReport) Diff {
	before := indexResults(baseline)
	after := indexResults(current)
	names := make([]string, 0, len(before)+len(after))
	for name := range before {
		names = append(names, name)
	}
	for name := range after {
		if _, ok := before[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	d := Diff{BaselineRun: baseline.RunID, CurrentRun: current.RunID}
	for _, key := range names {
		b, hadBefore := before[key]
		a, hasAfter := after[key]
		var c Change
		switch {
		case !hasAfter:
			c = Change{Procedure: b.Procedure, Kind: ChangeRemoved, Baseline: b.Verdict.String()}
		case !hadBefore:
			c = Change{Procedure: a.Procedure, Kind: ChangeAdded, Current: a.Verdict.String()}
			if a.Verdict != compare.Passed {
				c.Kind = ChangeRegressed
			}
		case a.Verdict == b.Verdict:
			continue
		default:
			c = Change{Procedure: a.Procedure, Kind: ChangeChanged, Baseline: b.Verdict.String(), Current: a.Verdict.String()}
			switch {
			case severity(a.Verdict) > severity(b.Verdict):
				c.Kind = ChangeRegressed
			case a.Verdict == compare.Passed:
				c.Kind = ChangeFixed
			}
		}
		if c.Kind == ChangeRegressed {
			d.Regressions++
		}
		d.Changes = append(d.Changes, c)
	}
	return d
}

func indexResults(rep report.VerificationReport) map[string]compare.Result {
	out := make(map[string]compare.Result, len(rep.Results))
	for _, res := range rep.Results {
		out[strings.ToLower(res.Procedure)] = res
	}
	return out
}

func writeText(w io.Writer, d Diff) {
	fmt.Fprintf(w, "baseline=%s current=%s\n", d.BaselineRun, d.CurrentRun)
	if len(d.Changes) == 0 {
		fmt.Fprintln(w, "no verdict changes")
		return
	}
	for _, c := range d.Changes {
		switch {
		case c.Baseline != "" && c.Current != "":
			fmt.Fprintf(w, "%-10s %s: %s -> %s\n", strings.ToUpper(c.Kind), c.Procedure, c.Baseline, c.Current)
		case c.Current != "":
			fmt.Fprintf(w, "%-10s %s: %s\n", strings.ToUpper(c.Kind), c.Procedure, c.Current)
		default:
			fmt.Fprintf(w, "%-10s %s (was %s)\n", strings.ToUpper(c.Kind), c.Procedure, c.Baseline)
		}
	}
	fmt.Fprintf(w, "%d regression(s)\n", d.Regressions)
}
