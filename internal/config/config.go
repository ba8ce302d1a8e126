package config

import (
	"os"
	"strings"

	"shadowcheck/internal/runinfo"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DriverMySQL selects the MySQL dialect.
	DriverMySQL = "mysql"
	// DriverPostgres selects the PostgreSQL dialect.
	DriverPostgres = "postgres"
)

// Config captures all runtime options for a verification run.
type Config struct {
	Legacy             StoreConfig          `yaml:"legacy"`
	Shadow             StoreConfig          `yaml:"shadow"`
	StatementTimeoutMs int                  `yaml:"statement_timeout_ms"`
	RegistryFile       string               `yaml:"registry_file"`
	Report             ReportConfig         `yaml:"report"`
	Storage            StorageConfig        `yaml:"storage"`
	Logging            Logging              `yaml:"logging"`
	Representative     RepresentativeConfig `yaml:"representative"`
	Synth              SynthConfig          `yaml:"synth"`
	Comparison         ComparisonConfig     `yaml:"comparison"`
	Classifier         ClassifierConfig     `yaml:"classifier"`
	RunInfo            *runinfo.BasicInfo   `yaml:"-"`
}

// StoreConfig describes one of the two databases under comparison.
type StoreConfig struct {
	Label  string `yaml:"label"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Database is the MySQL schema; it is injected into the DSN when the DSN
	// path is empty.
	Database string `yaml:"database"`
	// Schema is the PostgreSQL namespace holding the procedures.
	Schema string `yaml:"schema"`
}

// Catalog returns the namespace procedures are discovered in.
func (s StoreConfig) Catalog() string {
	if s.Driver == DriverPostgres {
		return s.Schema
	}
	return s.Database
}

// ReportConfig controls the report directory.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
	Archive   bool   `yaml:"archive"`
}

// Logging controls console and file logging.
type Logging struct {
	Verbose    bool   `yaml:"verbose"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	NoColor    bool   `yaml:"no_color"`
}

// RepresentativeConfig selects the identifier used for person-scoped
// parameters when none is passed on the command line.
type RepresentativeConfig struct {
	// Query runs on the legacy store and returns one identifier. A single
	// placeholder, when present, receives the start of the recent data window.
	Query string `yaml:"query"`
	// ExistsQuery runs on both stores with the identifier as its only
	// argument and must return at least one row.
	ExistsQuery string `yaml:"exists_query"`
	WindowDays  int    `yaml:"window_days"`
}

// SynthConfig tunes parameter synthesis.
type SynthConfig struct {
	DepartmentCode  string `yaml:"department_code"`
	DateWindowDays  int    `yaml:"date_window_days"`
	TextPlaceholder string `yaml:"text_placeholder"`
}

// ComparisonConfig bounds the row-set comparison.
type ComparisonConfig struct {
	MaxRows              int     `yaml:"max_rows"`
	MaxDifferences       int     `yaml:"max_differences"`
	TimestampToleranceMs int     `yaml:"timestamp_tolerance_ms"`
	NumericTolerance     float64 `yaml:"numeric_tolerance"`
	UnorderedAsSet       bool    `yaml:"unordered_as_set"`
}

// ClassifierConfig drives the read-only/mutating split.
type ClassifierConfig struct {
	MutationVerbs []string `yaml:"mutation_verbs"`
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (AWS and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultMutationVerbs are the name fragments that mark a procedure as
// state-changing.
var DefaultMutationVerbs = []string{"create", "update", "delete", "close", "open", "reopen", "verify"}

const (
	statementTimeoutMsDefault   = 30000
	maxRowsDefault              = 100
	maxDifferencesDefault       = 50
	timestampToleranceMsDefault = 1000
	numericToleranceDefault     = 0.01
	windowDaysDefault           = 30
	logMaxSizeMBDefault         = 64
	logMaxBackupsDefault        = 3
)

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := normalizeConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RunInfo = runinfo.FromEnv()
	return cfg, nil
}

func normalizeConfig(cfg *Config) error {
	if err := normalizeStore(&cfg.Legacy, "legacy"); err != nil {
		return err
	}
	if err := normalizeStore(&cfg.Shadow, "shadow"); err != nil {
		return err
	}
	if cfg.StatementTimeoutMs <= 0 {
		cfg.StatementTimeoutMs = statementTimeoutMsDefault
	}
	if cfg.Comparison.MaxRows <= 0 {
		cfg.Comparison.MaxRows = maxRowsDefault
	}
	if cfg.Comparison.MaxDifferences <= 0 {
		cfg.Comparison.MaxDifferences = maxDifferencesDefault
	}
	if cfg.Comparison.TimestampToleranceMs <= 0 {
		cfg.Comparison.TimestampToleranceMs = timestampToleranceMsDefault
	}
	if cfg.Comparison.NumericTolerance <= 0 {
		cfg.Comparison.NumericTolerance = numericToleranceDefault
	}
	if cfg.Representative.WindowDays <= 0 {
		cfg.Representative.WindowDays = windowDaysDefault
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = logMaxSizeMBDefault
	}
	if cfg.Logging.MaxBackups < 0 {
		cfg.Logging.MaxBackups = logMaxBackupsDefault
	}
	verbs := cfg.Classifier.MutationVerbs[:0]
	for _, v := range cfg.Classifier.MutationVerbs {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			verbs = append(verbs, v)
		}
	}
	if len(verbs) == 0 {
		verbs = append([]string(nil), DefaultMutationVerbs...)
	}
	cfg.Classifier.MutationVerbs = verbs
	if strings.TrimSpace(cfg.Report.OutputDir) == "" {
		cfg.Report.OutputDir = "reports"
	}
	return nil
}

func normalizeStore(s *StoreConfig, name string) error {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case "", DriverMySQL, "tidb":
		s.Driver = DriverMySQL
	case DriverPostgres, "postgresql", "pg":
		s.Driver = DriverPostgres
	default:
		return errors.Errorf("%s: unsupported driver %q", name, s.Driver)
	}
	if strings.TrimSpace(s.DSN) == "" {
		return errors.Errorf("%s: dsn is required", name)
	}
	if s.Label == "" {
		s.Label = name
	}
	if s.Driver == DriverMySQL {
		dsn, err := normalizeMySQLDSN(s.DSN, s.Database)
		if err != nil {
			return errors.Wrapf(err, "%s: invalid dsn", name)
		}
		s.DSN = dsn
		if s.Database == "" {
			if parsed, err := mysql.ParseDSN(dsn); err == nil {
				s.Database = parsed.DBName
			}
		}
	}
	if s.Driver == DriverPostgres && s.Schema == "" {
		s.Schema = "public"
	}
	return nil
}

// normalizeMySQLDSN injects the database when the DSN path is empty and
// forces parseTime so temporal columns scan as time.Time.
func normalizeMySQLDSN(dsn string, dbName string) (string, error) {
	parsed, err := mysql.ParseDSN(ensureDatabaseInDSN(dsn, dbName))
	if err != nil {
		return "", err
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

func ensureDatabaseInDSN(dsn string, dbName string) string {
	if dsn == "" || dbName == "" {
		return dsn
	}
	slash := strings.Index(dsn, "/")
	if slash < 0 {
		return dsn
	}
	query := strings.Index(dsn[slash+1:], "?")
	if query >= 0 {
		query = slash + 1 + query
	}
	afterSlash := dsn[slash+1:]
	if query >= 0 {
		afterSlash = dsn[slash+1 : query]
	}
	if strings.TrimSpace(afterSlash) != "" {
		return dsn
	}
	if query >= 0 {
		return dsn[:slash+1] + dbName + dsn[query:]
	}
	return dsn + dbName
}

func defaultConfig() Config {
	return Config{
		StatementTimeoutMs: statementTimeoutMsDefault,
		Report: ReportConfig{
			OutputDir: "reports",
		},
		Logging: Logging{
			LogFile:    "logs/shadowcheck.log",
			MaxSizeMB:  logMaxSizeMBDefault,
			MaxBackups: logMaxBackupsDefault,
		},
		Representative: RepresentativeConfig{
			WindowDays: windowDaysDefault,
		},
		Comparison: ComparisonConfig{
			MaxRows:              maxRowsDefault,
			MaxDifferences:       maxDifferencesDefault,
			TimestampToleranceMs: timestampToleranceMsDefault,
			NumericTolerance:     numericToleranceDefault,
		},
	}
}
