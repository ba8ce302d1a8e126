package runner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"shadowcheck/internal/compare"
	"shadowcheck/internal/config"
	"shadowcheck/internal/db"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/report"
	"shadowcheck/internal/util"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// testDialect reads the catalog from a plain table and maps each routine to
// fixed SQL, since SQLite has no stored procedures.
type testDialect struct {
	reverse bool
	// dollar numbers placeholders the way Postgres expects.
	dollar bool
}

func (testDialect) Name() string { return "sqlite" }

func (testDialect) DriverName() string { return "sqlite" }

func (testDialect) QuoteIdent(name string) string { return `"` + name + `"` }

func (d testDialect) Rebind(query string) string {
	if d.dollar {
		return db.DollarPlaceholders(query)
	}
	return query
}

func (testDialect) CatalogQuery(schema string) db.Statement {
	return db.Statement{SQL: `SELECT routine, specific, kind, ordinal, name, mode, dtype, maxlen, has_default
FROM catalog WHERE schema_name = ? ORDER BY routine, ordinal`, Args: []any{schema}}
}

func (d testDialect) BuildCall(_ string, test procedure.Test) db.Call {
	var args []any
	for _, p := range test.Inputs() {
		args = append(args, p.Arg())
	}
	switch test.Name {
	case "get_person_by_id":
		return db.Call{Query: db.Statement{SQL: "SELECT id, name FROM person WHERE id = CAST(? AS INTEGER)", Args: args}}
	case "get_hours":
		return db.Call{Query: db.Statement{SQL: "SELECT person_id, week, hours FROM hours ORDER BY person_id"}}
	case "list_people":
		order := "ASC"
		if d.reverse {
			order = "DESC"
		}
		return db.Call{Query: db.Statement{SQL: "SELECT id, name FROM person ORDER BY id " + order}}
	case "create_person":
		return db.Call{
			Setup: []db.Statement{{SQL: "INSERT INTO person(name) VALUES ('Temp')"}},
			Query: db.Statement{SQL: "SELECT COUNT(*) AS n FROM person"},
		}
	case "legacy_gap":
		return db.Call{Query: db.Statement{SQL: "SELECT id, action FROM audit ORDER BY id"}}
	}
	return db.Call{Query: db.Statement{SQL: "SELECT 1"}}
}

var commonSchema = []string{
	"CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)",
	"INSERT INTO person(name) VALUES ('Smith'), ('Jones')",
	"CREATE TABLE hours (person_id INTEGER, week TEXT, hours INTEGER)",
}

var shadowCatalog = []string{
	`CREATE TABLE catalog (schema_name TEXT, routine TEXT, specific TEXT, kind TEXT, ordinal INTEGER,
		name TEXT, mode TEXT, dtype TEXT, maxlen INTEGER, has_default INTEGER)`,
	`INSERT INTO catalog VALUES ('hr', 'get_person_by_id', 'get_person_by_id_1', 'FUNCTION', 1, 'p_person_id', 'IN', 'int', 0, 0)`,
	`INSERT INTO catalog VALUES ('hr', 'get_hours', 'get_hours_1', 'PROCEDURE', 0, '', '', '', 0, 0)`,
	`INSERT INTO catalog VALUES ('hr', 'list_people', 'list_people_1', 'PROCEDURE', 0, '', '', '', 0, 0)`,
	`INSERT INTO catalog VALUES ('hr', 'create_person', 'create_person_1', 'PROCEDURE', 0, '', '', '', 0, 0)`,
	`INSERT INTO catalog VALUES ('hr', 'legacy_gap', 'legacy_gap_1', 'PROCEDURE', 0, '', '', '', 0, 0)`,
	`INSERT INTO catalog VALUES ('hr', 'debug_dump', 'debug_dump_1', 'PROCEDURE', 0, '', '', '', 0, 0)`,
	"CREATE TABLE audit (id INTEGER, action TEXT)",
	"INSERT INTO audit VALUES (1, 'login')",
}

func openStore(t *testing.T, label string, dialect testDialect, stmts ...[]string) *db.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", storeDSN(t, label))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	for _, group := range stmts {
		for _, stmt := range group {
			if _, err := conn.Exec(stmt); err != nil {
				t.Fatalf("exec %q on %s: %v", stmt, label, err)
			}
		}
	}
	return &db.DB{DB: conn, Label: label, Schema: "hr", Dialect: dialect}
}

func storeDSN(t *testing.T, label string) string {
	return fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", t.Name(), label)
}

// dollarOnlyDriver refuses ? placeholders like lib/pq does.
type dollarOnlyDriver struct{ driver.Driver }

func (d dollarOnlyDriver) Open(name string) (driver.Conn, error) {
	c, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	return dollarOnlyConn{c}, nil
}

type dollarOnlyConn struct{ driver.Conn }

func (c dollarOnlyConn) Prepare(query string) (driver.Stmt, error) {
	if strings.Contains(query, "?") {
		return nil, errors.Errorf("syntax error at or near \"?\": %s", query)
	}
	return c.Conn.Prepare(query)
}

var registerDollarOnly sync.Once

// dollarOnlyStore opens a second handle on an existing store's database
// through dollarOnlyDriver.
func dollarOnlyStore(t *testing.T, label string, dialect testDialect) *db.DB {
	t.Helper()
	registerDollarOnly.Do(func() {
		base, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		sql.Register("sqlite-dollar-only", dollarOnlyDriver{base.Driver()})
		base.Close()
	})
	conn, err := sql.Open("sqlite-dollar-only", storeDSN(t, label))
	if err != nil {
		t.Fatalf("open %s: %v", label, err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return &db.DB{DB: conn, Label: label, Schema: "hr", Dialect: dialect}
}

func testStores(t *testing.T) (*db.DB, *db.DB) {
	legacy := openStore(t, "legacy", testDialect{}, commonSchema, []string{
		"INSERT INTO hours VALUES (1, '2024-W09', 40), (2, '2024-W09', 38)",
	})
	shadow := openStore(t, "shadow", testDialect{reverse: true}, commonSchema, shadowCatalog, []string{
		"INSERT INTO hours VALUES (1, '2024-W09', 40), (2, '2024-W09', 41)",
	})
	return legacy, shadow
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.File{
		Exclusions:       map[string]string{"debug_dump": "tooling artifact"},
		OrderInsensitive: []string{"list_people"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		StatementTimeoutMs: 5000,
		Report:             config.ReportConfig{OutputDir: t.TempDir(), Archive: true},
		Representative: config.RepresentativeConfig{
			Query:       "SELECT MIN(id) FROM person",
			ExistsQuery: "SELECT id FROM person WHERE id = CAST(? AS INTEGER)",
		},
		Classifier: config.ClassifierConfig{MutationVerbs: config.DefaultMutationVerbs},
	}
}

type recordingUploader struct {
	dirs []string
}

func (u *recordingUploader) Enabled() bool { return true }

func (u *recordingUploader) UploadDir(_ context.Context, dir string) (string, error) {
	u.dirs = append(u.dirs, dir)
	return "s3://reports/" + filepath.Base(dir) + "/", nil
}

func verdicts(rep report.VerificationReport) map[string]compare.Verdict {
	out := make(map[string]compare.Verdict, len(rep.Results))
	for _, res := range rep.Results {
		out[res.Procedure] = res.Verdict
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	legacy, shadow := testStores(t)
	up := &recordingUploader{}
	cfg := testConfig(t)
	r := New(cfg, legacy, shadow, testRegistry(t), Options{Uploader: up})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]compare.Verdict{
		"create_person":    compare.Passed,
		"get_hours":        compare.Failed,
		"get_person_by_id": compare.Passed,
		"legacy_gap":       compare.NeedsInvestigation,
		"list_people":      compare.Passed,
	}
	if diff := cmp.Diff(want, verdicts(rep)); diff != "" {
		t.Fatalf("verdicts (-want +got):\n%s", diff)
	}
	if rep.Total != 5 || rep.Excluded != 1 || rep.RepresentativeID != "1" {
		t.Fatalf("unexpected report header: total=%d excluded=%d rep=%q", rep.Total, rep.Excluded, rep.RepresentativeID)
	}
	if report.ExitCode(rep) != 1 {
		t.Fatalf("expected failing exit code")
	}
	for _, res := range rep.Results {
		if res.Procedure != "get_hours" {
			continue
		}
		wantDiff := []compare.Difference{{Kind: compare.KindValue, Row: 2, Column: "hours", Legacy: "38", Shadow: "41"}}
		if diff := cmp.Diff(wantDiff, res.Differences); diff != "" {
			t.Fatalf("get_hours differences (-want +got):\n%s", diff)
		}
	}

	var n int
	if err := shadow.QueryRow("SELECT COUNT(*) FROM person").Scan(&n); err != nil || n != 2 {
		t.Fatalf("mutating test leaked rows: n=%d err=%v", n, err)
	}

	if len(up.dirs) != 1 || rep.UploadLocation == "" || rep.ArchiveName != report.ArchiveName {
		t.Fatalf("unexpected publish state: dirs=%v location=%q archive=%q", up.dirs, rep.UploadLocation, rep.ArchiveName)
	}
	dir := up.dirs[0]
	for _, name := range []string{report.TextName, report.SummaryName, report.ArchiveName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	saved, err := report.ReadSummary(filepath.Join(dir, report.SummaryName))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if saved.UploadLocation != rep.UploadLocation || saved.RunID != rep.RunID {
		t.Fatalf("summary not refreshed after upload: %+v", saved)
	}
}

func TestRunOnlyFilter(t *testing.T) {
	legacy, shadow := testStores(t)
	r := New(testConfig(t), legacy, shadow, testRegistry(t), Options{Only: []string{"LIST_PEOPLE"}})
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Total != 1 || rep.Passed != 1 || report.ExitCode(rep) != 0 {
		t.Fatalf("unexpected filtered report: %+v", rep)
	}
}

func TestRepresentativeMissingIsFatal(t *testing.T) {
	legacy, shadow := testStores(t)
	r := New(testConfig(t), legacy, shadow, testRegistry(t), Options{RepresentativeID: "999"})
	_, err := r.Run(context.Background())
	if !errors.Is(err, ErrRepresentativeMissing) {
		t.Fatalf("expected missing representative, got %v", err)
	}
}

func TestRepresentativeNotFoundIsFatal(t *testing.T) {
	legacy, shadow := testStores(t)
	cfg := testConfig(t)
	cfg.Representative.Query = "SELECT id FROM person WHERE name = 'Nobody'"
	r := New(cfg, legacy, shadow, testRegistry(t), Options{})
	_, err := r.Run(context.Background())
	if !errors.Is(err, ErrNoRepresentative) {
		t.Fatalf("expected no representative, got %v", err)
	}
}

func TestRepresentativeOverride(t *testing.T) {
	legacy, shadow := testStores(t)
	r := New(testConfig(t), legacy, shadow, testRegistry(t), Options{RepresentativeID: " 2 "})
	id, err := r.representative(context.Background())
	if err != nil || id != "2" {
		t.Fatalf("representative=%q err=%v", id, err)
	}
}

func TestRepresentativeUnconfiguredWarns(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "run.log")
	if err := util.InitLogging(util.LogOptions{File: logFile, NoColor: true}); err != nil {
		t.Fatalf("init logging: %v", err)
	}
	t.Cleanup(func() { _ = util.InitLogging(util.LogOptions{}) })

	legacy, shadow := testStores(t)
	cfg := testConfig(t)
	cfg.Representative.Query = ""
	r := New(cfg, legacy, shadow, testRegistry(t), Options{})
	id, err := r.representative(context.Background())
	if err != nil || id != "" {
		t.Fatalf("representative=%q err=%v", id, err)
	}
	util.SyncLogging()
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "no representative id") {
		t.Fatalf("expected a startup warning, log was:\n%s", data)
	}
}

func TestRepresentativeRebindsPlaceholders(t *testing.T) {
	openStore(t, "legacy", testDialect{}, commonSchema)
	openStore(t, "shadow", testDialect{}, commonSchema)
	cfg := testConfig(t)
	cfg.Representative.Query = "SELECT MIN(id) FROM person WHERE ? IS NOT NULL"
	cfg.Representative.WindowDays = 30

	legacy := dollarOnlyStore(t, "legacy", testDialect{dollar: true})
	shadow := dollarOnlyStore(t, "shadow", testDialect{dollar: true})
	r := New(cfg, legacy, shadow, testRegistry(t), Options{})
	id, err := r.representative(context.Background())
	if err != nil || id != "1" {
		t.Fatalf("representative=%q err=%v", id, err)
	}

	plain := dollarOnlyStore(t, "shadow", testDialect{})
	r = New(cfg, legacy, plain, testRegistry(t), Options{})
	if _, err := r.representative(context.Background()); err == nil {
		t.Fatalf("expected the unrebound exists query to be rejected")
	}
}

func TestCatalogUnavailableIsFatal(t *testing.T) {
	legacy := openStore(t, "legacy", testDialect{}, commonSchema)
	shadow := openStore(t, "shadow", testDialect{}, commonSchema)
	r := New(testConfig(t), legacy, shadow, testRegistry(t), Options{})
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected catalog failure")
	}
}
