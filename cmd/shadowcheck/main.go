package main

import (
	"context"
	"os"
	"strings"

	"shadowcheck/internal/config"
	"shadowcheck/internal/db"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/report"
	"shadowcheck/internal/runner"
	"shadowcheck/internal/uploader"
	"shadowcheck/internal/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type cliOptions struct {
	configPath       string
	verbose          bool
	representativeID string
	output           string
	only             []string
}

func main() {
	code, err := execute(os.Args[1:])
	if err != nil {
		util.Errorf("run failed: %v", err)
		util.SyncLogging()
		os.Exit(1)
	}
	util.SyncLogging()
	os.Exit(code)
}

func execute(args []string) (int, error) {
	var (
		opts cliOptions
		code int
	)
	cmd := &cobra.Command{
		Use:           "shadowcheck",
		Short:         "Verify that a migrated procedure catalog behaves like the legacy one",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			code = report.ExitCode(rep)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "echo synthesized arguments and generated SQL")
	flags.StringVar(&opts.representativeID, "representative-id", "", "use this identifier instead of selecting one")
	flags.StringVar(&opts.output, "output", "", "report output directory (overrides report.output_dir)")
	flags.StringSliceVar(&opts.only, "only", nil, "verify only these procedures (comma separated)")
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1, err
	}
	return code, nil
}

func run(ctx context.Context, opts cliOptions) (report.VerificationReport, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return report.VerificationReport{}, errors.Wrap(err, "load config")
	}
	if opts.verbose {
		cfg.Logging.Verbose = true
	}
	if strings.TrimSpace(opts.output) != "" {
		cfg.Report.OutputDir = opts.output
	}
	if err := util.InitLogging(util.LogOptions{
		Verbose:    cfg.Logging.Verbose,
		File:       cfg.Logging.LogFile,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		NoColor:    cfg.Logging.NoColor,
	}); err != nil {
		return report.VerificationReport{}, errors.Wrap(err, "init logging")
	}
	if cfg.Logging.Verbose {
		if data, err := yaml.Marshal(redacted(cfg)); err == nil {
			util.Detailf("config:\n%s", string(data))
		}
	}

	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		return report.VerificationReport{}, err
	}
	up, err := uploader.New(cfg.Storage)
	if err != nil {
		return report.VerificationReport{}, err
	}
	legacy, err := db.Open(cfg.Legacy)
	if err != nil {
		return report.VerificationReport{}, err
	}
	defer util.CloseWithErr(legacy, "legacy store")
	shadow, err := db.Open(cfg.Shadow)
	if err != nil {
		return report.VerificationReport{}, err
	}
	defer util.CloseWithErr(shadow, "shadow store")

	r := runner.New(cfg, legacy, shadow, reg, runner.Options{
		RepresentativeID: opts.representativeID,
		Only:             opts.only,
		Uploader:         up,
	})
	return r.Run(ctx)
}

// redacted hides credentials before the config is echoed.
func redacted(cfg config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return s
		}
		return "***"
	}
	cfg.Legacy.DSN = mask(cfg.Legacy.DSN)
	cfg.Shadow.DSN = mask(cfg.Shadow.DSN)
	cfg.Storage.S3.SecretAccessKey = mask(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.S3.SessionToken = mask(cfg.Storage.S3.SessionToken)
	return cfg
}
