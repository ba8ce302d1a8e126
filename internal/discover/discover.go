// Package discover enumerates the shadow catalog's routines and turns each
// into a callable test definition with synthesized arguments.
package discover

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"shadowcheck/internal/db"
	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
	"shadowcheck/internal/synth"

	"github.com/pkg/errors"
)

// ErrCatalogUnavailable is returned when the catalog cannot be queried.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// catalogError matches ErrCatalogUnavailable while keeping the driver cause
// reachable through Unwrap.
type catalogError struct{ cause error }

func (e *catalogError) Error() string {
	return ErrCatalogUnavailable.Error() + ": " + e.cause.Error()
}

func (e *catalogError) Unwrap() error { return e.cause }

func (e *catalogError) Is(target error) bool { return target == ErrCatalogUnavailable }

// CatalogSource lists routine parameters; *db.DB implements it.
type CatalogSource interface {
	Routines(ctx context.Context) ([]db.CatalogRow, error)
}

// Options configures a discovery pass.
type Options struct {
	Registry    *registry.Registry
	Classifier  *Classifier
	Synthesizer *synth.Synthesizer
	Run         synth.RunContext
	// Only, when non-empty, restricts discovery to these procedure names.
	Only []string
}

// Discovery is the ordered test plan plus discovery-time warnings.
type Discovery struct {
	Tests    []procedure.Test
	Warnings []string
	Excluded int
}

type routine struct {
	name     string
	kind     string
	specific string
	rows     []db.CatalogRow
	params   []procedure.ParameterSpec
	overload bool
}

// Discover reads the catalog, drops excluded procedures with a warning and
// synthesizes arguments for the rest. The result is sorted by name.
func Discover(ctx context.Context, src CatalogSource, opts Options) (Discovery, error) {
	reg := opts.Registry
	if reg == nil {
		reg = registry.Empty()
	}
	cls := opts.Classifier
	if cls == nil {
		cls = NewClassifier(nil, reg)
	}
	s := opts.Synthesizer
	if s == nil {
		s = synth.New(synth.Options{}, reg)
	}
	rows, err := src.Routines(ctx)
	if err != nil {
		return Discovery{}, errors.WithStack(&catalogError{cause: err})
	}
	routines := group(rows)
	only := make(map[string]struct{}, len(opts.Only))
	for _, n := range opts.Only {
		only[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	var out Discovery
	for _, r := range routines {
		if len(only) > 0 {
			if _, ok := only[strings.ToLower(r.name)]; !ok {
				continue
			}
		}
		if reason, ok := reg.Excluded(r.name); ok {
			out.Excluded++
			out.Warnings = append(out.Warnings, fmt.Sprintf("excluded procedure %s is present in the shadow catalog: %s", r.name, reason))
			continue
		}
		if r.overload {
			out.Warnings = append(out.Warnings, fmt.Sprintf("procedure %s is overloaded; verifying signature %s only", r.name, r.specific))
		}
		params, err := s.Fill(r.name, r.params, opts.Run)
		if err != nil {
			return Discovery{}, errors.Wrapf(err, "synthesize %s", r.name)
		}
		out.Tests = append(out.Tests, procedure.Test{
			Name:    r.name,
			Routine: r.kind,
			Mode:    cls.Classify(r.name),
			Params:  params,
		})
	}
	sort.SliceStable(out.Tests, func(i, j int) bool {
		return strings.ToLower(out.Tests[i].Name) < strings.ToLower(out.Tests[j].Name)
	})
	return out, nil
}

// group folds catalog rows into routines, keeping parameters in ordinal
// order. Only the first specific signature of an overloaded name is kept.
func group(rows []db.CatalogRow) []*routine {
	byName := make(map[string]*routine)
	var order []*routine
	for _, row := range rows {
		r, ok := byName[row.Routine]
		if !ok {
			r = &routine{name: row.Routine, kind: strings.ToUpper(row.RoutineType), specific: row.SpecificName}
			byName[row.Routine] = r
			order = append(order, r)
		}
		if row.SpecificName != r.specific {
			r.overload = true
			continue
		}
		if row.Ordinal <= 0 {
			continue
		}
		r.rows = append(r.rows, row)
	}
	for _, r := range order {
		sort.SliceStable(r.rows, func(i, j int) bool { return r.rows[i].Ordinal < r.rows[j].Ordinal })
		for _, row := range r.rows {
			r.params = append(r.params, paramFromRow(row))
		}
	}
	return order
}

func paramFromRow(row db.CatalogRow) procedure.ParameterSpec {
	name := row.ParamName
	if name == "" {
		name = fmt.Sprintf("$%d", row.Ordinal)
	}
	return procedure.ParameterSpec{
		Name:       name,
		Type:       procedure.ParseParamType(row.DataType),
		DataType:   row.DataType,
		Direction:  procedure.ParseDirection(row.Mode),
		Size:       int(row.MaxLength),
		HasDefault: row.HasDefault,
		InOut:      strings.EqualFold(strings.TrimSpace(row.Mode), "INOUT"),
	}
}
