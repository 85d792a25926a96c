package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campdesk/labelbridge/internal/config"
)

const sampleInvoice = `Kemp U Jezera
Hotelový účet č. 240815
Ubytovací služby, termín: 9. 8. 2024 - 14. 8. 2024, hostů: 3
Stání pro karavan P3
Elektřina 12 kWh`

func TestExtract(t *testing.T) {
	got := Extract(sampleInvoice, 2030)
	assert.Equal(t, Fields{
		VariableSymbol: "240815",
		FromDate:       "9.8.2024",
		ToDate:         "14.8.2024",
		Year:           "2024",
		Guests:         3,
	}, got)
	assert.Equal(t, "14.8.", got.ShortToDate())
	assert.Equal(t, "24", got.ShortYear())
}

func TestExtractMissingFields(t *testing.T) {
	got := Extract("Faktura bez údajů", 2025)
	assert.Equal(t, Fields{
		VariableSymbol: Unknown,
		FromDate:       Unknown,
		ToDate:         Unknown,
		Year:           "2025",
	}, got)
	assert.Equal(t, Unknown, got.ShortToDate())
	assert.Equal(t, "25", got.ShortYear())

	empty := Extract("", 2025)
	assert.Equal(t, Unknown, empty.VariableSymbol)
}

func TestCustomPatterns(t *testing.T) {
	p, err := NewParser(config.InvoiceConfig{
		VariableSymbolPattern: `VS:\s*(\d+)`,
	})
	require.NoError(t, err)

	got := p.Extract("VS: 77\ntermín: 1.7.2025 - 3.7.2025", 2020)
	assert.Equal(t, "77", got.VariableSymbol)
	assert.Equal(t, "2025", got.Year)
}

func TestNewParserErrors(t *testing.T) {
	_, err := NewParser(config.InvoiceConfig{StayPattern: `termín:(`})
	assert.ErrorContains(t, err, "invoice.stay_pattern")

	_, err = NewParser(config.InvoiceConfig{StayPattern: `termín:\s*(\S+)`})
	assert.ErrorContains(t, err, "capture group")
}

func TestBlacklisted(t *testing.T) {
	phrase, ok := Blacklisted("Zálohová faktura - Storno", []string{"", "Dobropis", "Storno"})
	assert.True(t, ok)
	assert.Equal(t, "Storno", phrase)

	_, ok = Blacklisted("Hotelový účet", []string{"Storno"})
	assert.False(t, ok)

	_, ok = Blacklisted("", []string{"Storno"})
	assert.False(t, ok)
}
