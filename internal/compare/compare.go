package compare

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"shadowcheck/internal/executor"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/rowset"
)

const (
	defaultMaxRows        = 100
	defaultMaxDifferences = 50
	signatureSeparator    = "|"
)

// WarningMutatingUnchecked is attached to every passing mutating test.
const WarningMutatingUnchecked = "mutating procedure: only crash-safety verified, result content not compared (changes rolled back)"

// WarningUnconfirmed accompanies a legacy failure next to a shadow success.
const WarningUnconfirmed = "legacy failed; shadow correctness cannot be confirmed"

// Options bounds a comparison.
type Options struct {
	MaxRows        int
	MaxDifferences int
	Tolerance      rowset.Tolerance
	// UnorderedAsSet compares order-insensitive results as sets, ignoring
	// how often a row repeats.
	UnorderedAsSet bool
}

// Comparator produces per-procedure results. It holds no mutable state.
type Comparator struct {
	opts  Options
	reg   *registry.Registry
	scale int
}

// New returns a comparator; zero options take the defaults.
func New(opts Options, reg *registry.Registry) *Comparator {
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaultMaxRows
	}
	if opts.MaxDifferences <= 0 {
		opts.MaxDifferences = defaultMaxDifferences
	}
	if opts.Tolerance.Time <= 0 {
		opts.Tolerance.Time = rowset.DefaultTolerance.Time
	}
	if opts.Tolerance.Numeric <= 0 {
		opts.Tolerance.Numeric = rowset.DefaultTolerance.Numeric
	}
	if reg == nil {
		reg = registry.Empty()
	}
	return &Comparator{opts: opts, reg: reg, scale: scaleFor(opts.Tolerance.Numeric)}
}

// scaleFor is the number of decimals signatures keep for a numeric
// tolerance, e.g. 2 for 0.01.
func scaleFor(tol float64) int {
	s := int(math.Ceil(-math.Log10(tol) - 1e-9))
	return min(max(s, 0), 9)
}

// Compare evaluates one executed test.
func (c *Comparator) Compare(pair executor.Pair) Result {
	test := pair.Test
	res := Result{
		Procedure:     test.Name,
		Mode:          test.Mode.String(),
		Arguments:     test.Describe(),
		LegacySkipped: pair.Legacy.Skipped,
		LegacyRows:    pair.Legacy.RowCount(),
		ShadowRows:    pair.Shadow.RowCount(),
		LegacyElapsed: pair.Legacy.Elapsed,
		ShadowElapsed: pair.Shadow.Elapsed,
		LegacyError:   pair.Legacy.Error(),
		ShadowError:   pair.Shadow.Error(),
	}
	if test.Mode == procedure.ModeMutating {
		c.compareMutating(&res, pair.Shadow)
		return res
	}
	switch cs := Classify(pair.Legacy, pair.Shadow); cs {
	case CaseBothFailed:
		res.Verdict = cs.Verdict(0)
		res.ErrorReason = pair.Shadow.Reason
		res.Warnings = append(res.Warnings,
			"legacy failed: "+pair.Legacy.Error(),
			"shadow failed: "+pair.Shadow.Error())
	case CaseLegacyFailed:
		res.Verdict = cs.Verdict(0)
		res.ErrorReason = pair.Legacy.Reason
		res.Warnings = append(res.Warnings, "legacy failed: "+pair.Legacy.Error(), WarningUnconfirmed)
	case CaseShadowFailed:
		res.ErrorReason = pair.Shadow.Reason
		res.Differences = append(res.Differences, Difference{
			Kind:    KindShadowError,
			Shadow:  pair.Shadow.Error(),
			Message: fmt.Sprintf("shadow raised %q; legacy succeeded with %d rows", pair.Shadow.Error(), pair.Legacy.RowCount()),
		})
		res.Verdict = cs.Verdict(len(res.Differences))
	case CaseBothSucceeded:
		diffs, warnings := c.CompareRows(test.Name, pair.Legacy.Rows, pair.Shadow.Rows)
		res.Differences = diffs
		res.Warnings = append(res.Warnings, warnings...)
		res.Verdict = cs.Verdict(len(diffs))
	}
	return res
}

func (c *Comparator) compareMutating(res *Result, shadow executor.Outcome) {
	switch {
	case shadow.OK:
		res.Verdict = Passed
		res.Warnings = append(res.Warnings, WarningMutatingUnchecked)
	case shadow.Stage == executor.StageBegin:
		res.Verdict = NeedsInvestigation
		res.ErrorReason = shadow.Reason
		res.Warnings = append(res.Warnings, "transaction could not be opened on shadow: "+shadow.Error())
	default:
		res.Verdict = Failed
		res.ErrorReason = shadow.Reason
		res.Differences = append(res.Differences, Difference{
			Kind:    KindShadowError,
			Shadow:  shadow.Error(),
			Message: fmt.Sprintf("shadow raised %q inside a rolled-back transaction", shadow.Error()),
		})
	}
}

type columnPair struct {
	name   string
	legacy int
	shadow int
}

// CompareRows compares two successful result sets for procedure name.
func (c *Comparator) CompareRows(name string, legacy, shadow *rowset.ResultSet) ([]Difference, []string) {
	if legacy == nil {
		legacy = &rowset.ResultSet{}
	}
	if shadow == nil {
		shadow = &rowset.ResultSet{}
	}
	cols, warnings := mapColumns(legacy.Columns, shadow.Columns)
	if legacy.RowCount() != shadow.RowCount() {
		return []Difference{{
			Kind:    KindRowCount,
			Legacy:  fmt.Sprint(legacy.RowCount()),
			Shadow:  fmt.Sprint(shadow.RowCount()),
			Message: fmt.Sprintf("row count differs: legacy=%d shadow=%d", legacy.RowCount(), shadow.RowCount()),
		}}, warnings
	}
	compared := cols[:0:0]
	for _, col := range cols {
		if c.reg.IgnoredColumn(name, col.name) {
			continue
		}
		compared = append(compared, col)
	}
	if c.reg.OrderInsensitive(name) {
		diffs, more := c.compareUnordered(compared, legacy, shadow)
		return diffs, append(warnings, more...)
	}
	diffs, more := c.compareOrdered(compared, legacy, shadow)
	return diffs, append(warnings, more...)
}

func mapColumns(legacy, shadow []rowset.Column) ([]columnPair, []string) {
	shadowIdx := make(map[string]int, len(shadow))
	for i, col := range shadow {
		key := strings.ToLower(col.Name)
		if _, ok := shadowIdx[key]; !ok {
			shadowIdx[key] = i
		}
	}
	var (
		pairs    []columnPair
		warnings []string
		matched  = make(map[int]bool, len(shadow))
	)
	for i, col := range legacy {
		j, ok := shadowIdx[strings.ToLower(col.Name)]
		if !ok || matched[j] {
			warnings = append(warnings, fmt.Sprintf("column %s is only returned by legacy", col.Name))
			continue
		}
		matched[j] = true
		pairs = append(pairs, columnPair{name: col.Name, legacy: i, shadow: j})
	}
	for j, col := range shadow {
		if !matched[j] {
			warnings = append(warnings, fmt.Sprintf("column %s is only returned by shadow", col.Name))
		}
	}
	return pairs, warnings
}

func (c *Comparator) compareOrdered(cols []columnPair, legacy, shadow *rowset.ResultSet) ([]Difference, []string) {
	var (
		diffs    []Difference
		warnings []string
	)
	n := min(len(legacy.Rows), len(shadow.Rows), c.opts.MaxRows)
	if legacy.RowCount() > n {
		warnings = append(warnings, fmt.Sprintf("compared the first %d of %d rows", n, legacy.RowCount()))
	}
	for i := 0; i < n; i++ {
		for _, col := range cols {
			a := legacy.Rows[i][col.legacy]
			b := shadow.Rows[i][col.shadow]
			if rowset.TolerantEqual(a, b, c.opts.Tolerance) {
				continue
			}
			if len(diffs) == c.opts.MaxDifferences {
				return diffs, append(warnings, fmt.Sprintf("difference limit of %d reached; remaining rows not compared", c.opts.MaxDifferences))
			}
			diffs = append(diffs, Difference{
				Kind:   KindValue,
				Row:    i + 1,
				Column: col.name,
				Legacy: a.String(),
				Shadow: b.String(),
			})
		}
	}
	return diffs, warnings
}

func (c *Comparator) compareUnordered(cols []columnPair, legacy, shadow *rowset.ResultSet) ([]Difference, []string) {
	var warnings []string
	if legacy.Truncated || shadow.Truncated {
		warnings = append(warnings, fmt.Sprintf("unordered comparison covers the first %d materialized rows only", min(len(legacy.Rows), len(shadow.Rows))))
	}
	sorted := append([]columnPair(nil), cols...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].name) < strings.ToLower(sorted[j].name)
	})
	left := c.signatures(sorted, legacy, true)
	right := c.signatures(sorted, shadow, false)

	keys := make([]string, 0, len(left)+len(right))
	for sig := range left {
		keys = append(keys, sig)
	}
	for sig := range right {
		if _, ok := left[sig]; !ok {
			keys = append(keys, sig)
		}
	}
	sort.Strings(keys)

	var diffs []Difference
	duplicates := 0
	for _, sig := range keys {
		l, r := left[sig], right[sig]
		var d Difference
		switch {
		case l == r:
			continue
		case r == 0:
			d = Difference{Kind: KindMissingRow, Legacy: sig, Message: fmt.Sprintf("row present in legacy only (x%d)", l)}
		case l == 0:
			d = Difference{Kind: KindExtraRow, Shadow: sig, Message: fmt.Sprintf("row present in shadow only (x%d)", r)}
		case c.opts.UnorderedAsSet:
			duplicates++
			continue
		default:
			d = Difference{Kind: KindDuplicateRow, Legacy: sig, Shadow: sig, Message: fmt.Sprintf("row repeats %d times in legacy and %d times in shadow", l, r)}
		}
		if len(diffs) == c.opts.MaxDifferences {
			warnings = append(warnings, fmt.Sprintf("difference limit of %d reached", c.opts.MaxDifferences))
			break
		}
		diffs = append(diffs, d)
	}
	if duplicates > 0 {
		warnings = append(warnings, fmt.Sprintf("%d rows repeat a different number of times; ignored under set comparison", duplicates))
	}
	return diffs, warnings
}

// signatureEscaper keeps separators inside values from merging distinct rows.
var signatureEscaper = strings.NewReplacer(`\`, `\\`, signatureSeparator, `\`+signatureSeparator, "=", `\=`)

// signatures counts canonical row signatures. A signature joins
// name=value pairs over the compared columns in name order.
func (c *Comparator) signatures(cols []columnPair, rs *rowset.ResultSet, legacySide bool) map[string]int {
	out := make(map[string]int, len(rs.Rows))
	parts := make([]string, len(cols))
	for _, row := range rs.Rows {
		for i, col := range cols {
			idx := col.shadow
			if legacySide {
				idx = col.legacy
			}
			parts[i] = signatureEscaper.Replace(strings.ToLower(col.name)) + "=" + signatureEscaper.Replace(row[idx].Canonical(c.scale))
		}
		out[strings.Join(parts, signatureSeparator)]++
	}
	return out
}
