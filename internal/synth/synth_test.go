package synth

import (
	"testing"
	"time"

	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"

	"github.com/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 15, 9, 30, 0, 0, time.UTC)

func newTestSynth(t *testing.T, f registry.File, opts Options) *Synthesizer {
	t.Helper()
	reg, err := registry.New(f)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s := New(opts, reg)
	s.Now = func() time.Time { return fixedNow }
	return s
}

func param(name string, typ procedure.ParamType) procedure.ParameterSpec {
	return procedure.ParameterSpec{Name: name, Type: typ, Direction: procedure.DirectionIn}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"@EmployeeID":     "employeeid",
		"p_employee_id":   "employeeid",
		"in_employeeId":   "employeeid",
		"start_date":      "startdate",
		"p_":              "p",
		" @IsActive ":     "isactive",
		"i_week_ending":   "weekending",
		"DEPARTMENT_CODE": "departmentcode",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestRuleCascade(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{DepartmentCode: "OPS"})
	rc := RunContext{RepresentativeID: "1042"}
	cases := []struct {
		name   string
		typ    procedure.ParamType
		want   any
		source string
	}{
		{"p_employee_id", procedure.TypeInteger, "1042", "rule:representative-id"},
		{"@ClosedBy", procedure.TypeText, "1042", "rule:representative-id"},
		{"p_dept_code", procedure.TypeText, "OPS", "rule:department-code"},
		{"p_is_active", procedure.TypeBoolean, false, "rule:boolean-flag"},
		{"include_inactive", procedure.TypeInteger, false, "rule:boolean-flag"},
		{"p_issue_id", procedure.TypeInteger, 1, "type:integer"},
		{"p_week_ending", procedure.TypeDateTime, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), "rule:week-ending"},
		{"period_end", procedure.TypeDateTime, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), "rule:period-end"},
		{"p_start_date", procedure.TypeDateTime, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), "rule:range-start"},
		{"p_end_date", procedure.TypeDateTime, fixedNow, "rule:range-end"},
		{"p_year", procedure.TypeInteger, 2024, "rule:year"},
		{"p_month", procedure.TypeInteger, 5, "rule:month"},
		{"page_size", procedure.TypeInteger, 10, "rule:page-size"},
		{"p_page", procedure.TypeInteger, 1, "rule:page-number"},
		{"p_offset", procedure.TypeInteger, 0, "rule:page-offset"},
		{"p_email", procedure.TypeText, "verify@example.com", "rule:email"},
		{"p_search", procedure.TypeText, "", "rule:search-text"},
		{"p_hours", procedure.TypeDecimal, 8, "rule:hours"},
		{"p_notes", procedure.TypeText, "test", "type:text"},
		{"p_flag_bits", procedure.TypeBinary, procedure.Null, "type:binary"},
		{"p_ref", procedure.TypeIdentifier, procedure.Null, "type:identifier"},
		{"p_amount", procedure.TypeDecimal, procedure.Null, "type:decimal"},
		{"p_when", procedure.TypeDateTime, fixedNow, "type:datetime"},
		{"p_enabled", procedure.TypeBoolean, false, "rule:boolean-flag"},
		{"p_mystery", procedure.TypeUnknown, procedure.Null, "type:unknown"},
	}
	for _, c := range cases {
		res, err := s.Resolve("get_timesheet", param(c.name, c.typ), rc)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if res.Source != c.source {
			t.Fatalf("%s: source=%s, want %s", c.name, res.Source, c.source)
		}
		if tv, ok := c.want.(time.Time); ok {
			got, ok := res.Value.(time.Time)
			if !ok || !got.Equal(tv) {
				t.Fatalf("%s: value=%v, want %v", c.name, res.Value, tv)
			}
			continue
		}
		if res.Value != c.want {
			t.Fatalf("%s: value=%#v, want %#v", c.name, res.Value, c.want)
		}
	}
}

func TestDepartmentRuleRequiresConfiguredCode(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{})
	res, err := s.Resolve("get_department", param("p_dept_code", procedure.TypeText), RunContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Source != "type:text" {
		t.Fatalf("expected type default without department code, got %s", res.Source)
	}
}

func TestOutputParameterIsAbsent(t *testing.T) {
	s := newTestSynth(t, registry.File{
		ParamOverrides: map[string]map[string]any{"close_period": {"p_result": 5}},
	}, Options{})
	p := param("p_result", procedure.TypeInteger)
	p.Direction = procedure.DirectionOut
	v, err := s.Synthesize("close_period", p, RunContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !procedure.IsAbsent(v) {
		t.Fatalf("expected absent marker for output parameter, got %v", v)
	}
}

func TestMissingRepresentativeIsFatal(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{})
	_, err := s.Synthesize("get_timesheet", param("p_employee_id", procedure.TypeInteger), RunContext{})
	if !errors.Is(err, ErrMissingRepresentative) {
		t.Fatalf("expected ErrMissingRepresentative, got %v", err)
	}
}

func TestOptionalParametersDefaultToNull(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{})
	p := param("p_notes", procedure.TypeText)
	p.HasDefault = true
	v, err := s.Synthesize("get_notes", p, RunContext{})
	if err != nil || v != procedure.Null {
		t.Fatalf("expected null for defaulted parameter, got %v err=%v", v, err)
	}
	p = param("p_is_active", procedure.TypeBoolean)
	p.Nullable = true
	v, err = s.Synthesize("get_notes", p, RunContext{})
	if err != nil || v != false {
		t.Fatalf("expected name rule to override optionality, got %v err=%v", v, err)
	}
}

func TestOverridesTakePriority(t *testing.T) {
	s := newTestSynth(t, registry.File{
		ParamOverrides: map[string]map[string]any{
			"get_week_summary": {"p_start_date": "2019-01-07", "p_employee_id": nil},
		},
		Rules: []registry.RuleSpec{{Name: "region", Pattern: "^region$", Value: "NORTH"}},
	}, Options{})
	v, err := s.Synthesize("GET_WEEK_SUMMARY", param("p_start_date", procedure.TypeDateTime), RunContext{})
	if err != nil || v != "2019-01-07" {
		t.Fatalf("expected override literal, got %v err=%v", v, err)
	}
	v, err = s.Synthesize("get_week_summary", param("p_employee_id", procedure.TypeInteger), RunContext{})
	if err != nil || v != procedure.Null {
		t.Fatalf("expected null override to bypass representative rule, got %v err=%v", v, err)
	}
	v, err = s.Synthesize("get_other", param("p_start_date", procedure.TypeDateTime), RunContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.(time.Time); !ok {
		t.Fatalf("override must not leak into other procedures, got %v", v)
	}
	res, err := s.Resolve("get_other", param("p_region", procedure.TypeText), RunContext{})
	if err != nil || res.Value != "NORTH" || res.Source != "rule:region" {
		t.Fatalf("expected configured rule, got %+v err=%v", res, err)
	}
}

func TestCustomRuleOrder(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{})
	first := Rule{
		Name:    "first",
		Match:   func(name string, _ procedure.ParameterSpec) bool { return name == "code" },
		Produce: literal("A"),
	}
	second := Rule{
		Name:    "second",
		Match:   func(name string, _ procedure.ParameterSpec) bool { return true },
		Produce: literal("B"),
	}
	v, _ := s.WithRules([]Rule{first, second}).Synthesize("x", param("code", procedure.TypeText), RunContext{})
	if v != "A" {
		t.Fatalf("expected first matching rule to win, got %v", v)
	}
	v, _ = s.WithRules([]Rule{second, first}).Synthesize("x", param("code", procedure.TypeText), RunContext{})
	if v != "B" {
		t.Fatalf("expected reordered cascade to change winner, got %v", v)
	}
}

func TestFillKeepsOrder(t *testing.T) {
	s := newTestSynth(t, registry.File{}, Options{})
	out := procedure.ParameterSpec{Name: "p_total", Type: procedure.TypeInteger, Direction: procedure.DirectionOut}
	params := []procedure.ParameterSpec{param("p_employee_id", procedure.TypeInteger), param("p_year", procedure.TypeInteger), out}
	got, err := s.Fill("get_totals", params, RunContext{RepresentativeID: "7"})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(got) != 3 || got[0].Value != "7" || got[1].Value != 2024 || !procedure.IsAbsent(got[2].Value) {
		t.Fatalf("unexpected fill result: %+v", got)
	}
	if params[0].Value != nil {
		t.Fatalf("fill must not mutate its input")
	}
}
