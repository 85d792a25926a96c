package compose

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/campdesk/labelbridge/internal/classify"
)

// ErrMalformedCode is returned when a code string cannot be tokenized.
var ErrMalformedCode = errors.New("malformed label code")

// Token is one label of a composed code with its optional count prefix.
type Token struct {
	Label    string `json:"label"`
	Count    int    `json:"count"`
	Prefixed bool   `json:"prefixed"`
	Flag     bool   `json:"flag"`
}

type Tokens []Token

// PrintCount sums the tokens: the flag contributes nothing, other labels
// their prefix or one.
func (ts Tokens) PrintCount() int {
	total := 0
	for _, t := range ts {
		if t.Flag {
			continue
		}
		total += t.Count
	}
	return total
}

func (ts Tokens) String() string {
	var b strings.Builder
	for _, t := range ts {
		if t.Prefixed {
			b.WriteString(strconv.Itoa(t.Count))
		}
		b.WriteString(t.Label)
	}
	return b.String()
}

// Parse splits a composed code back into tokens. Labels are matched longest
// first; with no labels every single letter is a token. The flag label never
// carries a count.
func Parse(code string, labels []string, flagLabel string) (Tokens, error) {
	if flagLabel == "" {
		flagLabel = classify.DefaultFlagLabel
	}
	known := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if l != "" {
			known = append(known, l)
		}
	}
	if len(known) > 0 {
		known = append(known, flagLabel)
		sort.SliceStable(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })
	}

	code = strings.TrimSpace(code)
	var out Tokens
	for i := 0; i < len(code); {
		start := i
		for i < len(code) && code[i] >= '0' && code[i] <= '9' {
			i++
		}
		digits := code[start:i]

		label := matchLabel(code[i:], known)
		if label == "" {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedCode, code[i:], i)
		}
		i += len(label)

		tok := Token{Label: label, Count: 1, Flag: label == flagLabel}
		if digits != "" {
			if tok.Flag {
				return nil, fmt.Errorf("%w: flag label %q cannot carry a count", ErrMalformedCode, label)
			}
			n, err := strconv.Atoi(digits)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: invalid count %q for %q", ErrMalformedCode, digits, label)
			}
			tok.Count = n
			tok.Prefixed = true
		}
		if tok.Flag {
			tok.Count = 0
		}
		out = append(out, tok)
	}
	return out, nil
}

func matchLabel(rest string, known []string) string {
	if rest == "" {
		return ""
	}
	if len(known) == 0 {
		r, size := utf8.DecodeRuneInString(rest)
		if r == utf8.RuneError || !unicode.IsLetter(r) {
			return ""
		}
		return rest[:size]
	}
	for _, l := range known {
		if strings.HasPrefix(rest, l) {
			return l
		}
	}
	return ""
}
