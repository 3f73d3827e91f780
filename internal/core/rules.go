package core

// rules.go holds column rules and transforms.
//
// Rules are predicates over an already type-checked Value. A failing rule
// returns a phrase such as "must be between -90 and 90" which the pipeline
// prefixes with the column header. Rules can be declared in data through
// RuleSpec; predicates that need Go code are registered by name in a RuleSet.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rule validates one typed value.
type Rule interface {
	Check(v Value) error
	// Describe is a short human summary for templates.
	Describe() string
}

// RequiredRule rejects blank strings; Null never reaches rules.
type RequiredRule struct{}

func (RequiredRule) Check(v Value) error {
	if s, ok := v.Str(); ok && strings.TrimSpace(s) == "" {
		return errors.New("must not be blank")
	}
	return nil
}

func (RequiredRule) Describe() string { return "required" }

// RangeRule bounds a number inclusively. Either bound may be nil.
type RangeRule struct {
	Min, Max *float64
}

func (r RangeRule) Check(v Value) error {
	n, ok := v.Num()
	if !ok {
		return nil
	}
	if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
		return errors.New(r.phrase())
	}
	return nil
}

func (r RangeRule) phrase() string {
	switch {
	case r.Min != nil && r.Max != nil:
		return fmt.Sprintf("must be between %s and %s", formatFloat(*r.Min), formatFloat(*r.Max))
	case r.Min != nil:
		return fmt.Sprintf("must be at least %s", formatFloat(*r.Min))
	case r.Max != nil:
		return fmt.Sprintf("must be at most %s", formatFloat(*r.Max))
	}
	return "is out of range"
}

func (r RangeRule) Describe() string { return r.phrase() }

// LengthRule bounds the rune length of a string. Zero means unbounded.
type LengthRule struct {
	Min, Max int
}

func (r LengthRule) Check(v Value) error {
	s, ok := v.Str()
	if !ok {
		return nil
	}
	n := utf8.RuneCountInString(s)
	if (r.Min > 0 && n < r.Min) || (r.Max > 0 && n > r.Max) {
		return errors.New(r.Describe())
	}
	return nil
}

func (r LengthRule) Describe() string {
	switch {
	case r.Min > 0 && r.Max > 0:
		return fmt.Sprintf("must be %d to %d characters", r.Min, r.Max)
	case r.Min > 0:
		return fmt.Sprintf("must be at least %d characters", r.Min)
	}
	return fmt.Sprintf("must be at most %d characters", r.Max)
}

// RegexRule requires the value's text to match a pattern.
type RegexRule struct {
	re *regexp.Regexp
}

// NewRegexRule compiles pattern.
func NewRegexRule(pattern string) (RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return RegexRule{}, errors.Wrapf(err, "regex rule %q", pattern)
	}
	return RegexRule{re: re}, nil
}

func (r RegexRule) Check(v Value) error {
	if !r.re.MatchString(v.Text()) {
		return errors.New("has an invalid format")
	}
	return nil
}

func (r RegexRule) Describe() string { return "matches " + r.re.String() }

// EnumRule restricts the value to a list, compared case-insensitively.
type EnumRule struct {
	Values []string
}

func (r EnumRule) Check(v Value) error {
	text := v.Text()
	for _, allowed := range r.Values {
		if strings.EqualFold(allowed, text) {
			return nil
		}
	}
	return errors.Newf("must be one of: %s", strings.Join(r.Values, ", "))
}

func (r EnumRule) Describe() string { return "one of: " + strings.Join(r.Values, ", ") }

// EmailRule is the email type check applied to a string column.
type EmailRule struct{}

func (EmailRule) Check(v Value) error {
	s, ok := v.Str()
	if !ok {
		return nil
	}
	if _, err := ParseEmail(s); err != nil {
		return errors.New("must be a valid email address")
	}
	return nil
}

func (EmailRule) Describe() string { return "valid email address" }

// Predicate is a Go-side custom rule. It returns the failure phrase.
type Predicate func(v Value) error

// CustomRule adapts a named Predicate.
type CustomRule struct {
	Name string
	Fn   Predicate
}

func (r CustomRule) Check(v Value) error { return r.Fn(v) }
func (r CustomRule) Describe() string    { return r.Name }

// messageRule overrides the failure message of another rule.
type messageRule struct {
	Rule
	message string
}

func (r messageRule) Check(v Value) error {
	if err := r.Rule.Check(v); err != nil {
		return &ruleMessage{msg: r.message}
	}
	return nil
}

// ruleMessage is a complete message that the pipeline must not prefix.
type ruleMessage struct{ msg string }

func (m *ruleMessage) Error() string { return m.msg }

// RuleSet resolves custom rule names.
type RuleSet map[string]Predicate

// RuleSpec is the serializable form of a Rule.
type RuleSpec struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Values  []string `yaml:"values,omitempty" json:"values,omitempty"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// Compile turns the spec into a Rule. Custom rules are looked up in custom.
func (s RuleSpec) Compile(custom RuleSet) (Rule, error) {
	var (
		rule Rule
		err  error
	)
	switch s.Kind {
	case "required":
		rule = RequiredRule{}
	case "range":
		if s.Min == nil && s.Max == nil {
			return nil, errors.New("range rule needs min or max")
		}
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return nil, errors.Newf("range rule min %v exceeds max %v", *s.Min, *s.Max)
		}
		rule = RangeRule{Min: s.Min, Max: s.Max}
	case "length":
		lr := LengthRule{}
		if s.Min != nil {
			lr.Min = int(*s.Min)
		}
		if s.Max != nil {
			lr.Max = int(*s.Max)
		}
		if lr.Min == 0 && lr.Max == 0 {
			return nil, errors.New("length rule needs min or max")
		}
		rule = lr
	case "regex":
		rule, err = NewRegexRule(s.Pattern)
		if err != nil {
			return nil, err
		}
	case "enum":
		if len(s.Values) == 0 {
			return nil, errors.New("enum rule needs values")
		}
		rule = EnumRule{Values: s.Values}
	case "email":
		rule = EmailRule{}
	case "custom":
		fn, ok := custom[s.Name]
		if !ok {
			return nil, errors.Newf("custom rule %q is not registered", s.Name)
		}
		rule = CustomRule{Name: s.Name, Fn: fn}
	default:
		return nil, errors.Newf("unknown rule kind %q", s.Kind)
	}
	if s.Message != "" {
		rule = messageRule{Rule: rule, message: s.Message}
	}
	return rule, nil
}

// EnumValues returns the allowed values when rules contain an EnumRule.
func EnumValues(rules []Rule) []string {
	for _, r := range rules {
		if mr, ok := r.(messageRule); ok {
			r = mr.Rule
		}
		if er, ok := r.(EnumRule); ok {
			return er.Values
		}
	}
	return nil
}

// Transform maps a validated value to its stored form.
type Transform func(Value) Value

// stringTransform lifts a string function; other kinds pass through.
func stringTransform(fn func(string) string) Transform {
	return func(v Value) Value {
		if s, ok := v.Str(); ok {
			return StringValue(fn(s))
		}
		return v
	}
}

var titleCaser = cases.Title(language.English)

var namedTransforms = map[string]Transform{
	"trim":  stringTransform(strings.TrimSpace),
	"upper": stringTransform(strings.ToUpper),
	"lower": stringTransform(strings.ToLower),
	"title": stringTransform(func(s string) string {
		return titleCaser.String(strings.ToLower(s))
	}),
	"us_state": stringTransform(NormalizeUSState),
}

// TransformNamed composes the named transforms left to right.
func TransformNamed(names ...string) (Transform, error) {
	chain := make([]Transform, 0, len(names))
	for _, n := range names {
		t, ok := namedTransforms[n]
		if !ok {
			return nil, errors.Newf("unknown transform %q", n)
		}
		chain = append(chain, t)
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return func(v Value) Value {
		for _, t := range chain {
			v = t(v)
		}
		return v
	}, nil
}

// USStates maps US state names to their abbreviations.
var USStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"district of columbia": "DC", "florida": "FL", "georgia": "GA", "hawaii": "HI",
	"idaho": "ID", "illinois": "IL", "indiana": "IN", "iowa": "IA",
	"kansas": "KS", "kentucky": "KY", "louisiana": "LA", "maine": "ME",
	"maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE",
	"nevada": "NV", "new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM",
	"new york": "NY", "north carolina": "NC", "north dakota": "ND", "ohio": "OH",
	"oklahoma": "OK", "oregon": "OR", "pennsylvania": "PA", "rhode island": "RI",
	"south carolina": "SC", "south dakota": "SD", "tennessee": "TN", "texas": "TX",
	"utah": "UT", "vermont": "VT", "virginia": "VA", "washington": "WA",
	"west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

var usStateCodes = func() map[string]bool {
	m := make(map[string]bool, len(USStates))
	for _, code := range USStates {
		m[code] = true
	}
	return m
}()

// NormalizeUSState converts a state name to its 2-letter code.
// Codes are upper-cased; anything unrecognized is returned trimmed.
func NormalizeUSState(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if code, ok := USStates[strings.ToLower(s)]; ok {
		return code
	}
	if upper := strings.ToUpper(s); usStateCodes[upper] {
		return upper
	}
	return s
}

// USStateRule accepts only recognized states, after normalization.
var USStateRule = CustomRule{Name: "us_state", Fn: func(v Value) error {
	s, ok := v.Str()
	if !ok {
		return nil
	}
	if !usStateCodes[NormalizeUSState(s)] {
		return errors.New("must be a US state name or 2-letter code")
	}
	return nil
}}

// DefaultRuleSet holds the custom predicates every schema may reference.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		"us_state": USStateRule.Fn,
		"non_negative": func(v Value) error {
			if n, ok := v.Num(); ok && n < 0 {
				return errors.New("must not be negative")
			}
			return nil
		},
		"whole_number": func(v Value) error {
			if n, ok := v.Num(); ok && n != float64(int64(n)) {
				return errors.New("must be a whole number")
			}
			return nil
		},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
