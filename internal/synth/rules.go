package synth

import (
	"regexp"
	"strings"
	"time"

	"shadowcheck/internal/procedure"
	"shadowcheck/internal/util"

	"github.com/pkg/errors"
)

// ErrMissingRepresentative is returned when a parameter resolves to the run's
// representative identifier but none was selected.
var ErrMissingRepresentative = errors.New("representative identifier required but not set")

// Input is what a rule sees when producing a value.
type Input struct {
	Procedure string
	Param     procedure.ParameterSpec
	Run       RunContext
	Now       time.Time
	Options   Options
}

// Rule is one entry of the ordered name-pattern cascade. Match receives the
// normalized parameter name (see NormalizeName).
type Rule struct {
	Name    string
	Match   func(name string, p procedure.ParameterSpec) bool
	Produce func(in Input) (any, error)
}

// NormalizeName folds a declared parameter name into the form rules match
// against: lower case, without sigils, common direction prefixes or
// underscores. "@EmployeeID", "p_employee_id" and "in_employeeId" all become
// "employeeid".
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimLeft(n, "@:$?")
	for _, prefix := range []string{"p_", "in_", "i_", "par_", "arg_"} {
		if strings.HasPrefix(n, prefix) && len(n) > len(prefix) {
			n = n[len(prefix):]
			break
		}
	}
	return strings.ReplaceAll(n, "_", "")
}

func nameMatches(patterns ...string) func(string, procedure.ParameterSpec) bool {
	re := regexp.MustCompile(strings.Join(patterns, "|"))
	return func(name string, _ procedure.ParameterSpec) bool {
		return re.MatchString(name)
	}
}

var booleanFlagName = regexp.MustCompile(`^(is|has|include|includes|only|show|can|should)[a-z]+$|flag$|^(active|enabled|deleted|archived)$`)

// booleanFlag matches flag-shaped names, but not identifiers that happen to
// start with a verb prefix ("issueid").
func booleanFlag(name string, _ procedure.ParameterSpec) bool {
	if strings.HasSuffix(name, "id") || strings.HasSuffix(name, "code") {
		return false
	}
	return booleanFlagName.MatchString(name)
}

func literal(v any) func(Input) (any, error) {
	return func(Input) (any, error) { return v, nil }
}

func representative(in Input) (any, error) {
	if strings.TrimSpace(in.Run.RepresentativeID) == "" {
		return nil, errors.Wrapf(ErrMissingRepresentative, "procedure %s parameter %s", in.Procedure, in.Param.Name)
	}
	return in.Run.RepresentativeID, nil
}

// DefaultRules returns the built-in cascade in priority order.
func DefaultRules(opts Options) []Rule {
	rules := []Rule{
		{
			Name: "representative-id",
			Match: nameMatches(
				`^(employee|emp|person|user|staff|worker|member)(id|key|no|number)$`,
				`^(created|updated|modified|approved|verified|closed|opened|reopened|entered)by(id)?$`,
			),
			Produce: representative,
		},
	}
	if opts.DepartmentCode != "" {
		rules = append(rules, Rule{
			Name:    "department-code",
			Match:   nameMatches(`^(dept|department|division)(code|cd|id|no)?$`),
			Produce: literal(opts.DepartmentCode),
		})
	}
	rules = append(rules,
		Rule{
			Name:    "boolean-flag",
			Match:   booleanFlag,
			Produce: literal(false),
		},
		Rule{
			Name:  "week-ending",
			Match: nameMatches(`^week(ending|end)(date)?$`),
			Produce: func(in Input) (any, error) {
				return util.LastWeekday(in.Now, time.Sunday), nil
			},
		},
		Rule{
			Name:  "period-end",
			Match: nameMatches(`^(month|period)end(date)?$`),
			Produce: func(in Input) (any, error) {
				return util.MonthEnd(in.Now), nil
			},
		},
		Rule{
			Name: "range-start",
			Match: nameMatches(
				`^(start|from|begin|since)(date|dt|time|datetime)?$`,
				`^date(from|start|begin)$`,
				`^(week|range|pay|report)(start|begin)(date)?$`,
			),
			Produce: func(in Input) (any, error) {
				return util.StartOfDay(in.Now).AddDate(0, 0, -in.Options.DateWindowDays), nil
			},
		},
		Rule{
			Name: "range-end",
			Match: nameMatches(
				`^(end|to|until|thru|through)(date|dt|time|datetime)?$`,
				`^date(to|end|until)$`,
				`^(range|pay|report)end(date)?$`,
			),
			Produce: func(in Input) (any, error) {
				return in.Now, nil
			},
		},
		Rule{
			Name:  "year",
			Match: nameMatches(`^(fiscal|calendar)?year$`, `^yr$`),
			Produce: func(in Input) (any, error) {
				return in.Now.Year(), nil
			},
		},
		Rule{
			Name:  "month",
			Match: nameMatches(`^(month|mon|monthno|monthnumber)$`),
			Produce: func(in Input) (any, error) {
				return int(in.Now.Month()), nil
			},
		},
		Rule{
			Name:    "page-size",
			Match:   nameMatches(`^(limit|pagesize|top|maxrows|rowcount|take|maxresults)$`),
			Produce: literal(10),
		},
		Rule{
			Name:    "page-number",
			Match:   nameMatches(`^(page|pagenumber|pageno)$`),
			Produce: literal(1),
		},
		Rule{
			Name:    "page-offset",
			Match:   nameMatches(`^(offset|skip|startrow|startindex)$`),
			Produce: literal(0),
		},
		Rule{
			Name:    "email",
			Match:   nameMatches(`email`),
			Produce: literal("verify@example.com"),
		},
		Rule{
			Name:    "search-text",
			Match:   nameMatches(`^(search|searchtext|searchterm|query|filter|term|keyword|keywords)$`),
			Produce: literal(""),
		},
		Rule{
			Name:    "hours",
			Match:   nameMatches(`^(hours|hrs|hoursworked|totalhours)$`),
			Produce: literal(8),
		},
	)
	return rules
}

// patternRule converts a configured regex rule into a cascade entry. The
// pattern is matched against the raw lower-cased name as well as the
// normalized one so users can write either form.
func patternRule(name string, re *regexp.Regexp, value any) Rule {
	return Rule{
		Name: name,
		Match: func(normalized string, p procedure.ParameterSpec) bool {
			return re.MatchString(normalized) || re.MatchString(strings.ToLower(p.Name))
		},
		Produce: literal(overrideValue(value)),
	}
}

func overrideValue(v any) any {
	if v == nil {
		return procedure.Null
	}
	if s, ok := v.(string); ok && strings.EqualFold(s, "null") {
		return procedure.Null
	}
	return v
}

func typeDefault(p procedure.ParameterSpec, now time.Time, opts Options) any {
	switch p.Type {
	case procedure.TypeInteger:
		return 1
	case procedure.TypeText:
		return opts.TextPlaceholder
	case procedure.TypeBoolean:
		return false
	case procedure.TypeDateTime:
		return now
	default:
		return procedure.Null
	}
}
