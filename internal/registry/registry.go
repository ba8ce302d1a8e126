// Package registry holds the static, per-procedure configuration that is
// edited between runs: exclusions, comparison overrides and synthesis
// overrides. A Registry is immutable once loaded.
package registry

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML layout.
type File struct {
	Exclusions       map[string]string         `yaml:"exclusions"`
	OrderInsensitive []string                  `yaml:"order_insensitive"`
	IgnoreColumns    map[string][]string       `yaml:"ignore_columns"`
	ParamOverrides   map[string]map[string]any `yaml:"param_overrides"`
	Rules            []RuleSpec                `yaml:"rules"`
	ForceReadOnly    []string                  `yaml:"force_read_only"`
	ForceMutating    []string                  `yaml:"force_mutating"`
}

// RuleSpec is a configured name-pattern synthesis rule.
type RuleSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Value   any    `yaml:"value"`
}

// PatternRule is a compiled RuleSpec.
type PatternRule struct {
	Name    string
	Pattern *regexp.Regexp
	Value   any
}

// Registry is the compiled, read-only lookup built from a File. Procedure
// and column names are matched case-insensitively.
type Registry struct {
	exclusions       map[string]string
	orderInsensitive map[string]struct{}
	ignoreColumns    map[string]map[string]struct{}
	paramOverrides   map[string]map[string]any
	rules            []PatternRule
	forceReadOnly    map[string]struct{}
	forceMutating    map[string]struct{}
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	r, _ := New(File{})
	return r
}

// Load reads and compiles a registry file. An empty path yields an empty
// registry.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read registry")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse registry %s", path)
	}
	return New(f)
}

// New compiles f.
func New(f File) (*Registry, error) {
	r := &Registry{
		exclusions:       make(map[string]string, len(f.Exclusions)),
		orderInsensitive: toSet(f.OrderInsensitive),
		ignoreColumns:    make(map[string]map[string]struct{}, len(f.IgnoreColumns)),
		paramOverrides:   make(map[string]map[string]any, len(f.ParamOverrides)),
		forceReadOnly:    toSet(f.ForceReadOnly),
		forceMutating:    toSet(f.ForceMutating),
	}
	for name, reason := range f.Exclusions {
		r.exclusions[key(name)] = strings.TrimSpace(reason)
	}
	for proc, cols := range f.IgnoreColumns {
		r.ignoreColumns[key(proc)] = toSet(cols)
	}
	for proc, params := range f.ParamOverrides {
		m := make(map[string]any, len(params))
		for param, v := range params {
			m[key(param)] = v
		}
		r.paramOverrides[key(proc)] = m
	}
	for _, name := range f.ForceReadOnly {
		if _, ok := r.forceMutating[key(name)]; ok {
			return nil, errors.Errorf("procedure %s is both force_read_only and force_mutating", name)
		}
	}
	for i, spec := range f.Rules {
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, errors.Errorf("rule %d has an empty pattern", i)
		}
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "compile rule %q", spec.Pattern)
		}
		name := spec.Name
		if name == "" {
			name = "pattern:" + spec.Pattern
		}
		r.rules = append(r.rules, PatternRule{Name: name, Pattern: re, Value: spec.Value})
	}
	return r, nil
}

// Excluded returns the exclusion reason for a procedure.
func (r *Registry) Excluded(name string) (string, bool) {
	reason, ok := r.exclusions[key(name)]
	return reason, ok
}

// ExcludedNames lists every excluded procedure, sorted.
func (r *Registry) ExcludedNames() []string {
	out := make([]string, 0, len(r.exclusions))
	for name := range r.exclusions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OrderInsensitive reports whether rows of name may be compared as a
// multiset instead of position by position.
func (r *Registry) OrderInsensitive(name string) bool {
	_, ok := r.orderInsensitive[key(name)]
	return ok
}

// IgnoredColumn reports whether column is excluded from comparison for name.
func (r *Registry) IgnoredColumn(name, column string) bool {
	cols, ok := r.ignoreColumns[key(name)]
	if !ok {
		return false
	}
	_, ok = cols[key(column)]
	return ok
}

// ParamOverride returns the configured literal for one procedure parameter.
func (r *Registry) ParamOverride(proc, param string) (any, bool) {
	params, ok := r.paramOverrides[key(proc)]
	if !ok {
		return nil, false
	}
	v, ok := params[key(param)]
	return v, ok
}

// PatternRules returns the configured synthesis rules in priority order.
func (r *Registry) PatternRules() []PatternRule {
	return append([]PatternRule(nil), r.rules...)
}

// ForcedMode reports an explicit classifier override: mutating is true for
// force_mutating and false for force_read_only.
func (r *Registry) ForcedMode(name string) (mutating bool, ok bool) {
	if _, hit := r.forceMutating[key(name)]; hit {
		return true, true
	}
	if _, hit := r.forceReadOnly[key(name)]; hit {
		return false, true
	}
	return false, false
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := key(n); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}
