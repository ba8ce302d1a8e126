// Package runner drives one verification run: discovery, dual execution,
// comparison and reporting.
package runner

import (
	"context"
	"strings"
	"time"

	"shadowcheck/internal/compare"
	"shadowcheck/internal/config"
	"shadowcheck/internal/db"
	"shadowcheck/internal/discover"
	"shadowcheck/internal/executor"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/report"
	"shadowcheck/internal/rowset"
	"shadowcheck/internal/synth"
	"shadowcheck/internal/uploader"
	"shadowcheck/internal/util"
	"shadowcheck/internal/validator"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Options carries per-invocation overrides from the command line.
type Options struct {
	// RepresentativeID skips automatic selection when set.
	RepresentativeID string
	// Only restricts the run to these procedure names.
	Only     []string
	Uploader uploader.Uploader
}

// Runner orchestrates a single verification pass.
type Runner struct {
	cfg        config.Config
	opts       Options
	legacy     *db.DB
	shadow     *db.DB
	reg        *registry.Registry
	synth      *synth.Synthesizer
	classifier *discover.Classifier
	exec       *executor.Executor
	comparator *compare.Comparator
	reporter   *report.Reporter
	uploader   uploader.Uploader
	tracer     trace.Tracer
	now        func() time.Time
}

// New wires a runner over two open stores. MySQL stores get their generated
// calls checked by the TiDB parser.
func New(cfg config.Config, legacy, shadow *db.DB, reg *registry.Registry, opts Options) *Runner {
	if reg == nil {
		reg = registry.Empty()
	}
	v := validator.New()
	for _, store := range []*db.DB{legacy, shadow} {
		if store.Validate == nil && store.Dialect != nil && store.Dialect.Name() == config.DriverMySQL {
			store.Validate = v.Validate
		}
	}
	up := opts.Uploader
	if up == nil {
		up = uploader.NoopUploader{}
	}
	return &Runner{
		cfg:        cfg,
		opts:       opts,
		legacy:     legacy,
		shadow:     shadow,
		reg:        reg,
		synth:      synth.New(synthOptions(cfg.Synth), reg),
		classifier: discover.NewClassifier(cfg.Classifier.MutationVerbs, reg),
		exec: executor.New(legacy, shadow, executor.Options{
			Timeout: time.Duration(cfg.StatementTimeoutMs) * time.Millisecond,
		}),
		comparator: compare.New(compareOptions(cfg.Comparison), reg),
		reporter:   report.New(cfg.Report.OutputDir),
		uploader:   up,
		tracer:     otel.Tracer("shadowcheck/runner"),
		now:        time.Now,
	}
}

func synthOptions(c config.SynthConfig) synth.Options {
	return synth.Options{
		DepartmentCode:  c.DepartmentCode,
		DateWindowDays:  c.DateWindowDays,
		TextPlaceholder: c.TextPlaceholder,
	}
}

func compareOptions(c config.ComparisonConfig) compare.Options {
	return compare.Options{
		MaxRows:        c.MaxRows,
		MaxDifferences: c.MaxDifferences,
		Tolerance: rowset.Tolerance{
			Time:    time.Duration(c.TimestampToleranceMs) * time.Millisecond,
			Numeric: c.NumericTolerance,
		},
		UnorderedAsSet: c.UnorderedAsSet,
	}
}

// Run verifies every discovered procedure and writes the report. The
// returned error is reserved for run-aborting failures; procedure failures
// live in the report.
func (r *Runner) Run(ctx context.Context) (report.VerificationReport, error) {
	started := r.now()
	util.Infof("verification start legacy=%s shadow=%s", describeStore(r.legacy), describeStore(r.shadow))
	if err := r.ping(ctx); err != nil {
		return report.VerificationReport{}, err
	}
	repID, err := r.representative(ctx)
	if err != nil {
		return report.VerificationReport{}, err
	}
	if repID != "" {
		util.Infof("representative id=%s", repID)
	}
	found, err := discover.Discover(ctx, r.shadow, discover.Options{
		Registry:    r.reg,
		Classifier:  r.classifier,
		Synthesizer: r.synth,
		Run:         synth.RunContext{RepresentativeID: repID},
		Only:        r.opts.Only,
	})
	if err != nil {
		return report.VerificationReport{}, err
	}
	for _, w := range found.Warnings {
		util.Warnf("discovery: %s", w)
	}
	util.Infof("discovered %d procedure(s), %d excluded", len(found.Tests), found.Excluded)

	results := make([]compare.Result, 0, len(found.Tests))
	for i, test := range found.Tests {
		res := r.verify(ctx, test)
		logResult(i+1, len(found.Tests), res)
		results = append(results, res)
	}

	rep := report.Aggregate(report.Meta{
		StartedAt:         started,
		FinishedAt:        r.now(),
		Legacy:            describeStore(r.legacy),
		Shadow:            describeStore(r.shadow),
		RepresentativeID:  repID,
		RunInfo:           r.cfg.RunInfo,
		DiscoveryWarnings: found.Warnings,
		Excluded:          found.Excluded,
	}, results)
	rep, err = r.publish(ctx, started, rep)
	if err != nil {
		return rep, err
	}
	util.Highlightf("verification done total=%d passed=%d failed=%d needs_investigation=%d",
		rep.Total, rep.Passed, rep.Failed, rep.NeedsInvestigation)
	return rep, nil
}

// ping checks both stores concurrently before any procedure is tested.
func (r *Runner) ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, store := range []*db.DB{r.legacy, r.shadow} {
		g.Go(func() error {
			return store.Ping(gctx)
		})
	}
	return g.Wait()
}

// verify runs and compares one test.
func (r *Runner) verify(ctx context.Context, test procedure.Test) compare.Result {
	ctx, span := r.tracer.Start(ctx, "shadowcheck.procedure", trace.WithAttributes(
		attribute.String("procedure", test.Name),
		attribute.String("mode", test.Mode.String()),
	))
	defer span.End()
	util.Detailf("%s args: %s", test.Name, test.Describe())
	res := r.comparator.Compare(r.exec.Execute(ctx, test))
	span.SetAttributes(attribute.String("verdict", res.Verdict.String()))
	if res.ErrorReason != "" {
		span.SetAttributes(attribute.String("error_reason", res.ErrorReason))
	}
	return res
}

func logResult(n, total int, res compare.Result) {
	line := "[%d/%d] %-11s %s [%s] legacy=%d shadow=%d"
	args := []any{n, total, res.Verdict.Marker(), res.Procedure, res.Mode, res.LegacyRows, res.ShadowRows}
	switch res.Verdict {
	case compare.Passed:
		util.Infof(line, args...)
	case compare.Failed:
		util.Errorf(line+" differences=%d", append(args, len(res.Differences))...)
	default:
		util.Warnf(line+" reason=%s", append(args, res.ErrorReason)...)
	}
}

// publish writes the report directory, archives and uploads it.
func (r *Runner) publish(ctx context.Context, started time.Time, rep report.VerificationReport) (report.VerificationReport, error) {
	run, err := r.reporter.NewRun(started)
	if err != nil {
		return rep, err
	}
	rep.RunID = run.ID
	if err := r.reporter.Write(run, rep); err != nil {
		return rep, err
	}
	if r.cfg.Report.Archive {
		name, codec, err := r.reporter.WriteArchive(run)
		if err != nil {
			util.Warnf("report archive failed dir=%s err=%v", run.Dir, err)
		} else {
			rep.ArchiveName, rep.ArchiveCodec = name, codec
		}
	}
	if r.uploader.Enabled() {
		location, err := r.uploader.UploadDir(ctx, run.Dir)
		if err != nil {
			util.Warnf("report upload failed dir=%s err=%v", run.Dir, err)
		} else {
			rep.UploadLocation = location
			util.Infof("report uploaded to %s", location)
		}
	}
	if rep.ArchiveName != "" || rep.UploadLocation != "" {
		if err := r.reporter.WriteSummary(run, rep); err != nil {
			return rep, errors.Wrap(err, "rewrite summary")
		}
	}
	util.Infof("report written to %s", run.Dir)
	return rep, nil
}

func describeStore(d *db.DB) string {
	parts := []string{d.Label}
	if d.Dialect != nil {
		parts = append(parts, d.Dialect.Name())
	}
	if d.Schema != "" {
		parts = append(parts, d.Schema)
	}
	return strings.Join(parts, " ")
}
