package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
year: 2025
blacklist:
  - "Storno"
special:
  - pattern: "Stání pro karavan"
    label: "K"
    identifier: "P"
prefixes:
  - pattern: "Elektřina"
    label: "E"
  - pattern: "Dospělý"
    label: "A"
    counting: raw_count
classifier:
  anchor: "Ubytovací služby"
printer:
  backend: tcp
  address: "10.0.0.5:9100"
watch:
  poll_interval: 5s
`

func TestLoadParsesRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2025, cfg.Year)
	assert.Equal(t, []string{"Storno"}, cfg.Blacklist)
	require.Len(t, cfg.Special, 1)
	assert.Equal(t, "P", cfg.Special[0].Identifier)
	require.Len(t, cfg.Prefixes, 2)
	assert.Equal(t, "raw_count", cfg.Prefixes[1].Counting)
	assert.Equal(t, "Ubytovací služby", cfg.Classifier.Anchor)
	assert.Equal(t, "E", cfg.Classifier.FlagLabel)
	assert.Equal(t, "presence", cfg.Classifier.StandardCounting)
	assert.Equal(t, "tcp", cfg.Printer.Backend)
	assert.Equal(t, 5*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, []string{".pdf", ".xlsx"}, cfg.Watch.Extensions)
	assert.NoError(t, Validate(cfg))
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, time.Now().Year(), cfg.Year)
	assert.Equal(t, "usb", cfg.Printer.Backend)
	assert.Equal(t, "QL-1050", cfg.Printer.Model)
	assert.Equal(t, 600, cfg.Label.Width)
	assert.Equal(t, 250, cfg.Label.Height)
	assert.Equal(t, 30*24*time.Hour, cfg.Archive.Retention)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("special: [pattern: ]]"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LABELBRIDGE_INPUT_DIR", "/mnt/smb/input")
	t.Setenv("LABELBRIDGE_PRINTER_BACKEND", "none")
	t.Setenv("LABELBRIDGE_YEAR", "2031")
	t.Setenv("LABELBRIDGE_API_KEYS", " k1, ,k2 ")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/mnt/smb/input", cfg.Folders.Input)
	assert.Equal(t, "none", cfg.Printer.Backend)
	assert.Equal(t, 2031, cfg.Year)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
}
