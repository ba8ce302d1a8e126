// Package synth turns declared procedure parameters into concrete test
// values without hand-written fixtures.
package synth

import (
	"time"

	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
)

const (
	defaultDateWindowDays  = 30
	defaultTextPlaceholder = "test"
)

// Options tunes the built-in rules.
type Options struct {
	DepartmentCode  string
	DateWindowDays  int
	TextPlaceholder string
}

// RunContext is the caller-supplied state shared by the whole run.
type RunContext struct {
	RepresentativeID string
}

// Resolution is a synthesized value and the source that produced it.
type Resolution struct {
	Value  any
	Source string
}

// Synthesizer evaluates, in order: output direction, per-procedure
// overrides, the rule cascade, optionality and finally the type default.
type Synthesizer struct {
	Now   func() time.Time
	opts  Options
	rules []Rule
	reg   *registry.Registry
}

// New builds a synthesizer whose cascade is the registry's pattern rules
// followed by DefaultRules.
func New(opts Options, reg *registry.Registry) *Synthesizer {
	if opts.DateWindowDays <= 0 {
		opts.DateWindowDays = defaultDateWindowDays
	}
	if opts.TextPlaceholder == "" {
		opts.TextPlaceholder = defaultTextPlaceholder
	}
	if reg == nil {
		reg = registry.Empty()
	}
	var rules []Rule
	for _, pr := range reg.PatternRules() {
		rules = append(rules, patternRule(pr.Name, pr.Pattern, pr.Value))
	}
	rules = append(rules, DefaultRules(opts)...)
	return &Synthesizer{Now: time.Now, opts: opts, rules: rules, reg: reg}
}

// WithRules returns a copy of s that evaluates rules instead of its own
// cascade.
func (s *Synthesizer) WithRules(rules []Rule) *Synthesizer {
	cp := *s
	cp.rules = append([]Rule(nil), rules...)
	return &cp
}

// Rules returns the cascade in evaluation order.
func (s *Synthesizer) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Synthesize returns the test value for one parameter of proc.
func (s *Synthesizer) Synthesize(proc string, p procedure.ParameterSpec, rc RunContext) (any, error) {
	res, err := s.Resolve(proc, p, rc)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Resolve is Synthesize with the deciding source attached.
func (s *Synthesizer) Resolve(proc string, p procedure.ParameterSpec, rc RunContext) (Resolution, error) {
	if p.Direction == procedure.DirectionOut {
		return Resolution{Value: procedure.Absent, Source: "output"}, nil
	}
	if v, ok := s.reg.ParamOverride(proc, p.Name); ok {
		return Resolution{Value: overrideValue(v), Source: "override"}, nil
	}
	now := s.Now()
	name := NormalizeName(p.Name)
	for _, rule := range s.rules {
		if !rule.Match(name, p) {
			continue
		}
		v, err := rule.Produce(Input{Procedure: proc, Param: p, Run: rc, Now: now, Options: s.opts})
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Value: v, Source: "rule:" + rule.Name}, nil
	}
	if p.Nullable || p.HasDefault {
		return Resolution{Value: procedure.Null, Source: "optional"}, nil
	}
	return Resolution{Value: typeDefault(p, now, s.opts), Source: "type:" + p.Type.String()}, nil
}

// Fill synthesizes every parameter of proc, keeping declaration order.
func (s *Synthesizer) Fill(proc string, params []procedure.ParameterSpec, rc RunContext) ([]procedure.ParameterSpec, error) {
	out := make([]procedure.ParameterSpec, len(params))
	for i, p := range params {
		v, err := s.Synthesize(proc, p, rc)
		if err != nil {
			return nil, err
		}
		p.Value = v
		out[i] = p
	}
	return out, nil
}
