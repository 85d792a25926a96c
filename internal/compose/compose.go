// Package compose reduces classification counts to the short code printed on
// a label and the number of copies to print.
package compose

import (
	"strconv"
	"strings"

	"github.com/campdesk/labelbridge/internal/classify"
)

// Output is the printed code and the number of labels to print.
type Output struct {
	Code       string `json:"code"`
	PrintCount int    `json:"print_count"`
}

// Compose writes special labels, then standard labels, then the flag label.
// A label is prefixed with its count when the count is above one; counts of
// zero or less are dropped. PrintCount is the sum of the kept counts.
func Compose(special, standard []classify.Count, flagLabel string, flagPresent bool) Output {
	var b strings.Builder
	total := 0

	write := func(counts []classify.Count) {
		for _, c := range counts {
			if c.Value <= 0 || c.Label == "" {
				continue
			}
			if c.Value > 1 {
				b.WriteString(strconv.Itoa(c.Value))
			}
			b.WriteString(c.Label)
			total += c.Value
		}
	}
	write(special)
	write(standard)

	if flagPresent {
		if flagLabel == "" {
			flagLabel = classify.DefaultFlagLabel
		}
		b.WriteString(flagLabel)
	}

	return Output{Code: b.String(), PrintCount: total}
}

// FromMatch composes the output for an evaluated document.
func FromMatch(m classify.MatchResult) Output {
	return Compose(m.Special, m.Standard, m.FlagLabel, m.Flag)
}
