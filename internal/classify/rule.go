package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Category decides how a rule contributes to the composed label code.
type Category string

// Counting selects how matches of a rule are turned into a count.
type Counting string

const (
	CategorySpecial  Category = "special"
	CategoryStandard Category = "standard"
	CategoryFlag     Category = "flag"

	CountPresence           Counting = "presence"
	CountRaw                Counting = "raw_count"
	CountDistinctIdentifier Counting = "distinct_identifier"
)

// DefaultFlagLabel is the reserved electricity surcharge label.
const DefaultFlagLabel = "E"

// ErrConfig marks rule definitions that cannot form a valid rule set.
var ErrConfig = errors.New("invalid rule configuration")

// PatternError reports a regular expression that failed to compile.
type PatternError struct {
	Label   string
	Field   string // pattern | identifier | anchor
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("rule %q: invalid %s %q: %v", e.Label, e.Field, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Definition is an uncompiled rule as read from configuration.
type Definition struct {
	Pattern         string
	Label           string
	Identifier      string
	Anchor          string
	Category        Category
	Counting        Counting
	CaseInsensitive bool
}

// Rule is a compiled, immutable classification directive.
type Rule struct {
	Pattern         string
	Label           string
	Identifier      string
	Anchor          string
	Category        Category
	Counting        Counting
	CaseInsensitive bool

	re      *regexp.Regexp
	identRe *regexp.Regexp
}

// count returns how many times the rule applies to text; 0 means absent.
func (r *Rule) count(text string) int {
	switch r.Counting {
	case CountDistinctIdentifier:
		if r.identRe != nil {
			if n := distinctValues(r.identRe, text); n > 0 {
				return n
			}
		}
		if r.re.MatchString(text) {
			return 1
		}
		return 0
	case CountRaw:
		return len(r.re.FindAllStringIndex(text, -1))
	default:
		if r.re.MatchString(text) {
			return 1
		}
		return 0
	}
}

// distinctValues counts the distinct values captured after the identifier
// across all non-overlapping anchor matches. The value is always the last
// group: anchors and identifiers may carry groups of their own.
func distinctValues(re *regexp.Regexp, text string) int {
	seen := make(map[string]struct{})
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if len(m) < 2 {
			continue
		}
		v := m[len(m)-1]
		if v == "" {
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen)
}

// ParseCategory maps a config value to a Category. Empty input yields "".
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "special":
		return CategorySpecial, nil
	case "standard":
		return CategoryStandard, nil
	case "flag":
		return CategoryFlag, nil
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrConfig, s)
	}
}

// ParseCounting maps a config value to a Counting strategy. Empty input yields "".
func ParseCounting(s string) (Counting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "presence":
		return CountPresence, nil
	case "raw_count", "raw":
		return CountRaw, nil
	case "distinct_identifier", "distinct":
		return CountDistinctIdentifier, nil
	default:
		return "", fmt.Errorf("%w: unknown counting %q", ErrConfig, s)
	}
}

func compileFragment(label, field, pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	flags := "(?s)"
	if caseInsensitive {
		flags = "(?is)"
	}
	re, err := regexp.Compile(flags + pattern)
	if err != nil {
		return nil, &PatternError{Label: label, Field: field, Pattern: pattern, Err: err}
	}
	return re, nil
}

// compileIdentifier builds `anchor .*? \b identifier (value)`; the word
// boundary applies to every alternative of the identifier. Each fragment
// is compiled on its own first so errors name the offending field.
func compileIdentifier(label, anchor, identifier string, caseInsensitive bool) (*regexp.Regexp, error) {
	if _, err := compileFragment(label, "anchor", anchor, caseInsensitive); err != nil {
		return nil, err
	}
	if _, err := compileFragment(label, "identifier", identifier, caseInsensitive); err != nil {
		return nil, err
	}
	combined := `(?:` + anchor + `).*?\b(?:` + identifier + `)(\d+|\w+)`
	return compileFragment(label, "identifier", combined, caseInsensitive)
}
