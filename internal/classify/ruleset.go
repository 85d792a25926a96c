package classify

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/campdesk/labelbridge/internal/config"
)

// Options carries the classifier-wide settings shared by all rules.
type Options struct {
	// Anchor precedes identifier values in special rules that do not set
	// their own. When both are empty the rule's pattern is the anchor.
	Anchor string
	// FlagLabel is the reserved surcharge label; defaults to "E".
	FlagLabel string
	// StandardCounting is the policy for standard rules without an explicit
	// counting strategy; defaults to presence.
	StandardCounting Counting
}

// RuleSet is an ordered, compiled and read-only set of rules. It is built
// once per configuration load and shared by all evaluations.
type RuleSet struct {
	rules     []Rule
	flagLabel string
	skipped   []Definition
}

// Compile validates and compiles defs in order. Definitions with an empty
// pattern or label are skipped; invalid expressions and conflicting labels
// are returned as errors.
func Compile(defs []Definition, opts Options) (*RuleSet, error) {
	flagLabel := strings.TrimSpace(opts.FlagLabel)
	if flagLabel == "" {
		flagLabel = DefaultFlagLabel
	}
	standardCounting := opts.StandardCounting
	if standardCounting == "" {
		standardCounting = CountPresence
	}
	if standardCounting != CountPresence && standardCounting != CountRaw {
		return nil, fmt.Errorf("%w: standard counting must be presence or raw_count, got %q", ErrConfig, standardCounting)
	}

	rs := &RuleSet{flagLabel: flagLabel}
	seen := make(map[string]struct{}, len(defs))

	for _, d := range defs {
		label := strings.TrimSpace(d.Label)
		if strings.TrimSpace(d.Pattern) == "" || label == "" {
			rs.skipped = append(rs.skipped, d)
			continue
		}
		if unicode.IsDigit([]rune(label)[0]) {
			return nil, fmt.Errorf("%w: label %q must not start with a digit", ErrConfig, label)
		}

		category := d.Category
		if category == "" {
			category = CategoryStandard
		}
		if category == CategoryStandard && label == flagLabel {
			category = CategoryFlag
		}
		if category == CategoryFlag && label != flagLabel {
			return nil, fmt.Errorf("%w: flag rule label %q differs from flag label %q", ErrConfig, label, flagLabel)
		}
		if category == CategorySpecial && label == flagLabel {
			return nil, fmt.Errorf("%w: special rule cannot use the flag label %q", ErrConfig, label)
		}

		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: label %q is used by more than one rule", ErrConfig, label)
		}
		seen[label] = struct{}{}

		counting := d.Counting
		switch {
		case category == CategoryFlag:
			counting = CountPresence
		case counting == "" && category == CategorySpecial:
			counting = CountDistinctIdentifier
		case counting == "":
			counting = standardCounting
		}

		re, err := compileFragment(label, "pattern", d.Pattern, d.CaseInsensitive)
		if err != nil {
			return nil, err
		}

		r := Rule{
			Pattern:         d.Pattern,
			Label:           label,
			Identifier:      strings.TrimSpace(d.Identifier),
			Category:        category,
			Counting:        counting,
			CaseInsensitive: d.CaseInsensitive,
			re:              re,
		}

		if counting == CountDistinctIdentifier && r.Identifier != "" {
			anchor := strings.TrimSpace(d.Anchor)
			if anchor == "" {
				anchor = strings.TrimSpace(opts.Anchor)
			}
			if anchor == "" {
				anchor = d.Pattern
			}
			r.Anchor = anchor
			r.identRe, err = compileIdentifier(label, anchor, r.Identifier, d.CaseInsensitive)
			if err != nil {
				return nil, err
			}
		}

		rs.rules = append(rs.rules, r)
	}

	return rs, nil
}

// FromConfig builds the rule set from the special and prefixes sections.
// Special entries default to the special category, prefixes to standard.
func FromConfig(cfg *config.Config) (*RuleSet, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfig)
	}
	standardCounting, err := ParseCounting(cfg.Classifier.StandardCounting)
	if err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(cfg.Special)+len(cfg.Prefixes))
	add := func(section string, entries []config.RuleConfig, fallback Category) error {
		for i, rc := range entries {
			category, err := ParseCategory(rc.Category)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", section, i, err)
			}
			if category == "" {
				category = fallback
			}
			counting, err := ParseCounting(rc.Counting)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", section, i, err)
			}
			defs = append(defs, Definition{
				Pattern:         rc.Pattern,
				Label:           rc.Label,
				Identifier:      rc.Identifier,
				Anchor:          rc.Anchor,
				Category:        category,
				Counting:        counting,
				CaseInsensitive: rc.CaseInsensitive,
			})
		}
		return nil
	}
	if err := add("special", cfg.Special, CategorySpecial); err != nil {
		return nil, err
	}
	if err := add("prefixes", cfg.Prefixes, CategoryStandard); err != nil {
		return nil, err
	}

	return Compile(defs, Options{
		Anchor:           cfg.Classifier.Anchor,
		FlagLabel:        cfg.Classifier.FlagLabel,
		StandardCounting: standardCounting,
	})
}

// Rules returns a copy of the compiled rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Labels returns the labels of all compiled rules in evaluation order.
func (rs *RuleSet) Labels() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, 0, len(rs.rules))
	for _, r := range rs.rules {
		out = append(out, r.Label)
	}
	return out
}

// FlagLabel returns the reserved flag label.
func (rs *RuleSet) FlagLabel() string {
	if rs == nil || rs.flagLabel == "" {
		return DefaultFlagLabel
	}
	return rs.flagLabel
}

// Skipped returns the definitions ignored for a missing pattern or label.
func (rs *RuleSet) Skipped() []Definition {
	if rs == nil {
		return nil
	}
	out := make([]Definition, len(rs.skipped))
	copy(out, rs.skipped)
	return out
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}
