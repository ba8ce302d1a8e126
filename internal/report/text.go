package report

import (
	"fmt"
	"strings"
	"time"

	"shadowcheck/internal/compare"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Render formats rep as the human-readable report.txt.
func Render(rep VerificationReport) string {
	var b strings.Builder
	writeHeader(&b, rep)
	writeSummary(&b, rep)
	writeInvestigations(&b, rep.ByVerdict(compare.NeedsInvestigation))
	writeDefects(&b, rep.ByVerdict(compare.Failed))
	writeWarnings(&b, rep)
	writeAppendix(&b, rep)
	return b.String()
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

func writeHeader(b *strings.Builder, rep VerificationReport) {
	title := "SHADOWCHECK VERIFICATION REPORT"
	fmt.Fprintf(b, "%s\n%s\n", title, strings.Repeat("=", len(title)))
	fmt.Fprintf(b, "Run:            %s\n", rep.RunID)
	fmt.Fprintf(b, "Started:        %s\n", formatTime(rep.StartedAt))
	fmt.Fprintf(b, "Finished:       %s\n", formatTime(rep.FinishedAt))
	fmt.Fprintf(b, "Legacy store:   %s\n", rep.Legacy)
	fmt.Fprintf(b, "Shadow store:   %s\n", rep.Shadow)
	fmt.Fprintf(b, "Representative: %s\n", rep.RepresentativeID)
	fmt.Fprintf(b, "Environment:    %s\n", rep.RunInfo.Summary())
}

func writeSummary(b *strings.Builder, rep VerificationReport) {
	section(b, "SUMMARY")
	fmt.Fprintf(b, "Procedures tested:    %d\n", rep.Total)
	fmt.Fprintf(b, "Passed:               %d\n", rep.Passed)
	fmt.Fprintf(b, "Failed:               %d\n", rep.Failed)
	fmt.Fprintf(b, "Needs investigation:  %d\n", rep.NeedsInvestigation)
	fmt.Fprintf(b, "Excluded:             %d\n", rep.Excluded)
	outcome := "PASS"
	if !rep.Succeeded() {
		outcome = "FAIL"
	}
	fmt.Fprintf(b, "Outcome:              %s\n", outcome)
}

func writeInvestigations(b *strings.Builder, results []compare.Result) {
	section(b, fmt.Sprintf("NEEDS INVESTIGATION (%d)", len(results)))
	if len(results) == 0 {
		b.WriteString("none\n")
		return
	}
	for _, res := range results {
		fmt.Fprintf(b, "* %s [%s]", res.Procedure, res.Mode)
		if res.ErrorReason != "" {
			fmt.Fprintf(b, " reason=%s", res.ErrorReason)
		}
		b.WriteString("\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(b, "    - %s\n", w)
		}
	}
}

func writeDefects(b *strings.Builder, results []compare.Result) {
	section(b, fmt.Sprintf("DEFECTS (%d)", len(results)))
	if len(results) == 0 {
		b.WriteString("none\n")
		return
	}
	for _, res := range results {
		fmt.Fprintf(b, "* %s [%s] %d difference(s)\n", res.Procedure, res.Mode, len(res.Differences))
		for _, d := range res.Differences {
			fmt.Fprintf(b, "    - %s\n", describeDifference(d))
		}
	}
}

func writeWarnings(b *strings.Builder, rep VerificationReport) {
	section(b, "WARNINGS")
	empty := true
	for _, w := range rep.DiscoveryWarnings {
		fmt.Fprintf(b, "* discovery: %s\n", w)
		empty = false
	}
	for _, res := range rep.ByVerdict(compare.Passed) {
		for _, w := range res.Warnings {
			fmt.Fprintf(b, "* %s: %s\n", res.Procedure, w)
			empty = false
		}
	}
	if empty {
		b.WriteString("none\n")
	}
}

func writeAppendix(b *strings.Builder, rep VerificationReport) {
	section(b, "APPENDIX")
	for _, res := range rep.Results {
		fmt.Fprintf(b, "\n%s  %s  [%s]\n", res.Verdict.Marker(), res.Procedure, res.Mode)
		if res.Arguments != "" {
			fmt.Fprintf(b, "  arguments: %s\n", res.Arguments)
		}
		if res.LegacySkipped {
			fmt.Fprintf(b, "  legacy: not executed (%s)\n", res.Mode)
		} else {
			fmt.Fprintf(b, "  legacy: %s\n", side(res.LegacyRows, res.LegacyElapsed, res.LegacyError))
		}
		fmt.Fprintf(b, "  shadow: %s\n", side(res.ShadowRows, res.ShadowElapsed, res.ShadowError))
		if res.ErrorReason != "" {
			fmt.Fprintf(b, "  error_reason: %s\n", res.ErrorReason)
		}
		for _, d := range res.Differences {
			fmt.Fprintf(b, "  difference: %s\n", describeDifference(d))
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(b, "  warning: %s\n", w)
		}
	}
}

func side(rows int, elapsed time.Duration, errText string) string {
	if errText != "" {
		return fmt.Sprintf("error after %s: %s", elapsed.Round(time.Millisecond), errText)
	}
	return fmt.Sprintf("%d rows in %s", rows, elapsed.Round(time.Millisecond))
}

func describeDifference(d compare.Difference) string {
	switch d.Kind {
	case compare.KindValue:
		return fmt.Sprintf("row %d, column %s: legacy=%q shadow=%q", d.Row, d.Column, d.Legacy, d.Shadow)
	case compare.KindMissingRow, compare.KindDuplicateRow:
		return fmt.Sprintf("%s: %s", d.Message, d.Legacy)
	case compare.KindExtraRow:
		return fmt.Sprintf("%s: %s", d.Message, d.Shadow)
	}
	if d.Message != "" {
		return d.Message
	}
	return d.Kind
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}
