package discover

import (
	"context"
	"strings"
	"testing"

	"shadowcheck/internal/db"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/synth"

	"github.com/pkg/errors"
)

type fakeCatalog struct {
	rows []db.CatalogRow
	err  error
}

func (f fakeCatalog) Routines(context.Context) ([]db.CatalogRow, error) {
	return f.rows, f.err
}

func catalogRows() []db.CatalogRow {
	return []db.CatalogRow{
		{Routine: "update_timesheet", SpecificName: "update_timesheet", RoutineType: "PROCEDURE", Ordinal: 2, ParamName: "p_hours", Mode: "IN", DataType: "decimal(5,2)"},
		{Routine: "update_timesheet", SpecificName: "update_timesheet", RoutineType: "PROCEDURE", Ordinal: 1, ParamName: "p_employee_id", Mode: "IN", DataType: "int"},
		{Routine: "Get_Employees", SpecificName: "Get_Employees", RoutineType: "PROCEDURE"},
		{Routine: "debug_dump", SpecificName: "debug_dump", RoutineType: "PROCEDURE"},
		{Routine: "fn_total", SpecificName: "fn_total_1", RoutineType: "function", Ordinal: 1, ParamName: "p_year", Mode: "IN", DataType: "int4"},
		{Routine: "fn_total", SpecificName: "fn_total_1", RoutineType: "function", Ordinal: 2, ParamName: "total", Mode: "OUT", DataType: "numeric"},
		{Routine: "fn_total", SpecificName: "fn_total_2", RoutineType: "function", Ordinal: 1, ParamName: "p_name", Mode: "IN", DataType: "text"},
		{Routine: "get_balance", SpecificName: "get_balance", RoutineType: "PROCEDURE", Ordinal: 1, ParamName: "p_amount", Mode: "INOUT", DataType: "int"},
	}
}

func newOptions(t *testing.T, f registry.File) Options {
	t.Helper()
	reg, err := registry.New(f)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return Options{
		Registry:    reg,
		Classifier:  NewClassifier([]string{"create", "update", "delete"}, reg),
		Synthesizer: synth.New(synth.Options{}, reg),
		Run:         synth.RunContext{RepresentativeID: "1042"},
	}
}

func names(tests []procedure.Test) []string {
	out := make([]string, len(tests))
	for i, tc := range tests {
		out[i] = tc.Name
	}
	return out
}

func TestDiscoverGroupsSortsAndClassifies(t *testing.T) {
	opts := newOptions(t, registry.File{})
	got, err := Discover(context.Background(), fakeCatalog{rows: catalogRows()}, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if strings.Join(names(got.Tests), ",") != "debug_dump,fn_total,get_balance,Get_Employees,update_timesheet" {
		t.Fatalf("unexpected order: %v", names(got.Tests))
	}
	upd := got.Tests[4]
	if upd.Mode != procedure.ModeMutating || upd.Routine != procedure.RoutineProcedure {
		t.Fatalf("unexpected update test: %+v", upd)
	}
	if len(upd.Params) != 2 || upd.Params[0].Name != "p_employee_id" || upd.Params[0].Value != "1042" {
		t.Fatalf("parameters not in declaration order: %+v", upd.Params)
	}
	if upd.Params[1].Type != procedure.TypeDecimal {
		t.Fatalf("unexpected type: %v", upd.Params[1].Type)
	}
	fn := got.Tests[1]
	if !fn.IsFunction() || len(fn.Params) != 2 || !procedure.IsAbsent(fn.Params[1].Value) {
		t.Fatalf("unexpected function test: %+v", fn)
	}
	bal := got.Tests[2]
	if !bal.Params[0].InOut || bal.Params[0].Direction != procedure.DirectionIn {
		t.Fatalf("INOUT parameter must be an input: %+v", bal.Params[0])
	}
	if len(got.Warnings) != 1 || !strings.Contains(got.Warnings[0], "fn_total is overloaded") {
		t.Fatalf("expected overload warning, got %v", got.Warnings)
	}
}

func TestDiscoverEnforcesExclusions(t *testing.T) {
	opts := newOptions(t, registry.File{Exclusions: map[string]string{
		"DEBUG_DUMP":        "obsolete tooling artifact",
		"legacy_sync_queue": "confirmed dead code",
	}})
	got, err := Discover(context.Background(), fakeCatalog{rows: catalogRows()}, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	for _, excluded := range opts.Registry.ExcludedNames() {
		for _, tc := range got.Tests {
			if strings.EqualFold(tc.Name, excluded) {
				t.Fatalf("excluded procedure %s was discovered", tc.Name)
			}
		}
	}
	found := false
	for _, w := range got.Warnings {
		if strings.Contains(w, "debug_dump") && strings.Contains(w, "obsolete tooling artifact") {
			found = true
		}
	}
	if !found || got.Excluded != 1 {
		t.Fatalf("expected drift warning with reason, got %v (excluded=%d)", got.Warnings, got.Excluded)
	}
}

func TestDiscoverOnly(t *testing.T) {
	opts := newOptions(t, registry.File{})
	opts.Only = []string{"get_employees"}
	got, err := Discover(context.Background(), fakeCatalog{rows: catalogRows()}, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got.Tests) != 1 || got.Tests[0].Name != "Get_Employees" {
		t.Fatalf("unexpected tests: %v", names(got.Tests))
	}
}

func TestDiscoverCatalogFailureIsFatal(t *testing.T) {
	cause := errors.New("connection refused")
	_, err := Discover(context.Background(), fakeCatalog{err: cause}, newOptions(t, registry.File{}))
	if !errors.Is(err, ErrCatalogUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped catalog error, got %v", err)
	}
	if got := err.Error(); got != "catalog unavailable: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDiscoverMissingRepresentativeIsFatal(t *testing.T) {
	opts := newOptions(t, registry.File{})
	opts.Run = synth.RunContext{}
	_, err := Discover(context.Background(), fakeCatalog{rows: catalogRows()}, opts)
	if !errors.Is(err, synth.ErrMissingRepresentative) {
		t.Fatalf("expected missing representative error, got %v", err)
	}
}

func TestClassifier(t *testing.T) {
	reg, err := registry.New(registry.File{
		ForceReadOnly: []string{"get_open_periods"},
		ForceMutating: []string{"recalc_totals"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	c := NewClassifier([]string{"Create", "update", "delete", "close", "open", "reopen", "verify"}, reg)
	cases := map[string]procedure.Mode{
		"CreateTimesheet":  procedure.ModeMutating,
		"reopen_period":    procedure.ModeMutating,
		"verify_entry":     procedure.ModeMutating,
		"get_timesheet":    procedure.ModeReadOnly,
		"get_open_periods": procedure.ModeReadOnly,
		"recalc_totals":    procedure.ModeMutating,
		"list_closed":      procedure.ModeMutating,
	}
	for name, want := range cases {
		if got := c.Classify(name); got != want {
			t.Fatalf("Classify(%s)=%s, want %s", name, got, want)
		}
	}
}
