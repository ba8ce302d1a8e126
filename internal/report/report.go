// Package report aggregates per-procedure results into a run-level report
// and persists it as text, JSON and an optional compressed archive.
package report

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"shadowcheck/internal/compare"
	"shadowcheck/internal/runinfo"
	"shadowcheck/internal/util"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	TextName     = "report.txt"
	SummaryName  = "summary.json"
	ArchiveName  = "report.tar.zst"
	ArchiveCodec = "zstd"
)

// Meta is the run-level context captured before aggregation.
type Meta struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	Legacy            string
	Shadow            string
	RepresentativeID  string
	RunInfo           *runinfo.BasicInfo
	DiscoveryWarnings []string
	Excluded          int
}

// VerificationReport is the immutable outcome of one run. It doubles as the
// summary.json document.
type VerificationReport struct {
	RunID              string             `json:"run_id"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
	Legacy             string             `json:"legacy"`
	Shadow             string             `json:"shadow"`
	RepresentativeID   string             `json:"representative_id"`
	RunInfo            *runinfo.BasicInfo `json:"run_info,omitempty"`
	Total              int                `json:"total"`
	Passed             int                `json:"passed"`
	Failed             int                `json:"failed"`
	NeedsInvestigation int                `json:"needs_investigation"`
	Excluded           int                `json:"excluded"`
	ErrorReasons       map[string]int     `json:"error_reasons,omitempty"`
	DiscoveryWarnings  []string           `json:"discovery_warnings,omitempty"`
	Results            []compare.Result   `json:"results"`
	ArchiveName        string             `json:"archive_name,omitempty"`
	ArchiveCodec       string             `json:"archive_codec,omitempty"`
	UploadLocation     string             `json:"upload_location,omitempty"`
}

// Aggregate counts verdicts. Results keep the order they were produced in.
func Aggregate(meta Meta, results []compare.Result) VerificationReport {
	r := VerificationReport{
		RunID:             meta.RunID,
		StartedAt:         meta.StartedAt,
		FinishedAt:        meta.FinishedAt,
		Legacy:            meta.Legacy,
		Shadow:            meta.Shadow,
		RepresentativeID:  meta.RepresentativeID,
		RunInfo:           meta.RunInfo,
		Excluded:          meta.Excluded,
		DiscoveryWarnings: append([]string(nil), meta.DiscoveryWarnings...),
		Results:           append([]compare.Result(nil), results...),
		Total:             len(results),
	}
	for _, res := range results {
		switch res.Verdict {
		case compare.Passed:
			r.Passed++
		case compare.Failed:
			r.Failed++
		default:
			r.NeedsInvestigation++
		}
		if res.ErrorReason != "" {
			if r.ErrorReasons == nil {
				r.ErrorReasons = make(map[string]int)
			}
			r.ErrorReasons[res.ErrorReason]++
		}
	}
	return r
}

// Succeeded reports whether the run may gate a cut-over.
func (r VerificationReport) Succeeded() bool {
	return r.Failed == 0 && r.NeedsInvestigation == 0
}

// ExitCode is the process status for r: 0 only when nothing failed and
// nothing needs investigation.
func ExitCode(r VerificationReport) int {
	if r.Succeeded() {
		return 0
	}
	return 1
}

// ByVerdict returns the results with verdict v, sorted by procedure name.
func (r VerificationReport) ByVerdict(v compare.Verdict) []compare.Result {
	var out []compare.Result
	for _, res := range r.Results {
		if res.Verdict == v {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Procedure) < strings.ToLower(out[j].Procedure)
	})
	return out
}

// Reporter writes run artifacts below OutputDir.
type Reporter struct {
	OutputDir string
}

// Run is an allocated report directory.
type Run struct {
	ID  string
	Dir string
}

// New creates a reporter that writes to outputDir.
func New(outputDir string) *Reporter {
	return &Reporter{OutputDir: outputDir}
}

// NewRun allocates run_<timestamp>_<id> below the output directory.
func (r *Reporter) NewRun(startedAt time.Time) (Run, error) {
	runID := uuid.New().String()
	if v7, err := uuid.NewV7(); err == nil {
		runID = v7.String()
	}
	dir := filepath.Join(r.OutputDir, fmt.Sprintf("run_%s_%s", startedAt.UTC().Format("20060102T150405Z"), runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, errors.Wrap(err, "create report directory")
	}
	return Run{ID: runID, Dir: dir}, nil
}

// Write persists report.txt and summary.json.
func (r *Reporter) Write(run Run, rep VerificationReport) error {
	if err := r.WriteText(run, TextName, Render(rep)); err != nil {
		return err
	}
	return r.WriteSummary(run, rep)
}

// WriteSummary writes summary.json into the run directory.
func (r *Reporter) WriteSummary(run Run, rep VerificationReport) error {
	f, err := os.Create(filepath.Join(run.Dir, SummaryName))
	if err != nil {
		return errors.Wrap(err, "create summary")
	}
	defer util.CloseWithErr(f, "summary output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return errors.Wrap(enc.Encode(rep), "encode summary")
}

// WriteText writes raw text content into the run directory.
func (r *Reporter) WriteText(run Run, name string, content string) error {
	path := filepath.Join(run.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, []byte(content), 0o644), "write %s", name)
}

// ReadSummary loads a summary.json written by WriteSummary.
func ReadSummary(path string) (VerificationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VerificationReport{}, errors.Wrapf(err, "read summary %s", path)
	}
	var rep VerificationReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return VerificationReport{}, errors.Wrapf(err, "parse summary %s", path)
	}
	return rep, nil
}

// WriteArchive packs the run directory into a zstd-compressed tarball
// inside it.
func (r *Reporter) WriteArchive(run Run) (name string, codec string, err error) {
	archivePath := filepath.Join(run.Dir, ArchiveName)
	if removeErr := os.Remove(archivePath); removeErr != nil && !os.IsNotExist(removeErr) {
		return "", "", removeErr
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archivePath)
		}
	}()
	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer util.CloseWithErr(file, "archive output")

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if closeErr := zw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	tw := tar.NewWriter(zw)
	defer func() {
		if closeErr := tw.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	walkErr := filepath.WalkDir(run.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path == archivePath {
			return nil
		}
		return addToArchive(tw, run.Dir, path, d)
	})
	if walkErr != nil {
		return "", "", walkErr
	}
	return ArchiveName, ArchiveCodec, nil
}

func addToArchive(tw *tar.Writer, root, path string, d fs.DirEntry) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	info, err := d.Info()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(src, "archive source")
	_, err = io.Copy(tw, src)
	return err
}
