package classify

// Count is one label with the number of times it applies to a document.
type Count struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// MatchResult holds the outcome of evaluating a rule set against one text.
// Counts are kept in rule set order; labels with a zero count are absent.
type MatchResult struct {
	Special   []Count `json:"special"`
	Standard  []Count `json:"standard"`
	Flag      bool    `json:"flag"`
	FlagLabel string  `json:"flag_label"`
}

// Evaluate applies every rule in rs to text. It never fails: rules were
// validated when the set was compiled.
func Evaluate(text string, rs *RuleSet) MatchResult {
	res := MatchResult{FlagLabel: rs.FlagLabel()}
	if rs == nil || text == "" {
		return res
	}

	for i := range rs.rules {
		r := &rs.rules[i]
		if r.Category == CategoryFlag {
			if r.re.MatchString(text) {
				res.Flag = true
			}
			continue
		}

		n := r.count(text)
		if n <= 0 {
			continue
		}
		c := Count{Label: r.Label, Value: n}
		if r.Category == CategorySpecial {
			res.Special = append(res.Special, c)
		} else {
			res.Standard = append(res.Standard, c)
		}
	}
	return res
}

// Evaluate is shorthand for Evaluate(text, rs).
func (rs *RuleSet) Evaluate(text string) MatchResult {
	return Evaluate(text, rs)
}

// Get returns the count recorded for label.
func (m MatchResult) Get(label string) (int, bool) {
	for _, c := range m.Special {
		if c.Label == label {
			return c.Value, true
		}
	}
	for _, c := range m.Standard {
		if c.Label == label {
			return c.Value, true
		}
	}
	return 0, false
}

// Counts returns special then standard counts as one ordered list.
func (m MatchResult) Counts() []Count {
	out := make([]Count, 0, len(m.Special)+len(m.Standard))
	out = append(out, m.Special...)
	return append(out, m.Standard...)
}

// Empty reports whether no rule matched at all, flag included.
func (m MatchResult) Empty() bool {
	return len(m.Special) == 0 && len(m.Standard) == 0 && !m.Flag
}
