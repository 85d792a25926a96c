// Package invoice pulls billing fields out of extracted invoice text.
package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/campdesk/labelbridge/internal/config"
)

// Unknown marks a field that could not be found in the text.
const Unknown = "?"

const (
	DefaultStayPattern           = `termín:\s*(\d{1,2}\.\s*\d{1,2}\.\s*\d{4})\s*-\s*(\d{1,2}\.\s*\d{1,2}\.\s*\d{4})`
	DefaultVariableSymbolPattern = `Hotelový účet č.\s*(\d+)`
	DefaultGuestsPattern         = `hostů:\s*(\d+)`
)

// Fields are the values printed on a label next to the composed code.
type Fields struct {
	VariableSymbol string `json:"variable_symbol"`
	FromDate       string `json:"from_date"`
	ToDate         string `json:"to_date"`
	Year           string `json:"year"`
	Guests         int    `json:"guests,omitempty"`
}

// Parser holds the compiled field expressions. It is safe for concurrent use.
type Parser struct {
	stay   *regexp.Regexp
	vs     *regexp.Regexp
	guests *regexp.Regexp
}

// NewParser compiles the configured patterns, falling back to the defaults
// for empty entries. The stay pattern must capture two groups and the
// variable symbol and guests patterns one.
func NewParser(cfg config.InvoiceConfig) (*Parser, error) {
	stay, err := compile("stay_pattern", cfg.StayPattern, DefaultStayPattern, 2)
	if err != nil {
		return nil, err
	}
	vs, err := compile("variable_symbol_pattern", cfg.VariableSymbolPattern, DefaultVariableSymbolPattern, 1)
	if err != nil {
		return nil, err
	}
	guests, err := compile("guests_pattern", cfg.GuestsPattern, DefaultGuestsPattern, 1)
	if err != nil {
		return nil, err
	}
	return &Parser{stay: stay, vs: vs, guests: guests}, nil
}

func compile(field, pattern, fallback string, groups int) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = fallback
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invoice.%s: %w", field, err)
	}
	if re.NumSubexp() < groups {
		return nil, fmt.Errorf("invoice.%s must have %d capture group(s), has %d", field, groups, re.NumSubexp())
	}
	return re, nil
}

var defaultParser = mustDefaultParser()

func mustDefaultParser() *Parser {
	p, err := NewParser(config.InvoiceConfig{})
	if err != nil {
		panic(err)
	}
	return p
}

// Extract parses text with the default patterns.
func Extract(text string, defaultYear int) Fields {
	return defaultParser.Extract(text, defaultYear)
}

// Extract finds the stay range, variable symbol and guest count. Missing
// values are reported as Unknown; the year comes from the end of the stay
// and falls back to defaultYear.
func (p *Parser) Extract(text string, defaultYear int) Fields {
	f := Fields{
		VariableSymbol: Unknown,
		FromDate:       Unknown,
		ToDate:         Unknown,
		Year:           strconv.Itoa(defaultYear),
	}
	if text == "" {
		return f
	}

	if m := p.stay.FindStringSubmatch(text); m != nil {
		f.FromDate = stripSpace(m[1])
		f.ToDate = stripSpace(m[2])
		parts := strings.Split(f.ToDate, ".")
		if last := parts[len(parts)-1]; last != "" {
			f.Year = last
		}
	}
	if m := p.vs.FindStringSubmatch(text); m != nil {
		f.VariableSymbol = m[1]
	}
	if m := p.guests.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			f.Guests = n
		}
	}
	return f
}

// ShortToDate returns the departure date without its year, e.g. "14.08.".
func (f Fields) ShortToDate() string {
	if f.ToDate == "" || f.ToDate == Unknown {
		return Unknown
	}
	parts := strings.Split(f.ToDate, ".")
	if len(parts) < 2 {
		return f.ToDate
	}
	return parts[0] + "." + parts[1] + "."
}

// ShortYear returns the last two digits of Year.
func (f Fields) ShortYear() string {
	if len(f.Year) <= 2 {
		return f.Year
	}
	return f.Year[len(f.Year)-2:]
}

// Blacklisted reports the first phrase contained in text.
func Blacklisted(text string, phrases []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
