package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds labelbridge configuration.
//
// The top-level year/blacklist/special/prefixes keys keep the layout of the
// rule files used by the label station since its first version.
type Config struct {
	Year      int          `yaml:"year"`
	Blacklist []string     `yaml:"blacklist"`
	Special   []RuleConfig `yaml:"special"`
	Prefixes  []RuleConfig `yaml:"prefixes"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Invoice    InvoiceConfig    `yaml:"invoice"`
	Folders    FoldersConfig    `yaml:"folders"`
	Watch      WatchConfig      `yaml:"watch"`
	Label      LabelConfig      `yaml:"label"`
	Printer    PrinterConfig    `yaml:"printer"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Journal    JournalConfig    `yaml:"journal"`
	Server     ServerConfig     `yaml:"server"`
	Events     EventsConfig     `yaml:"events"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RuleConfig is one classification directive as written in the config file.
type RuleConfig struct {
	Pattern         string `yaml:"pattern"`
	Label           string `yaml:"label"`
	Identifier      string `yaml:"identifier"`
	Anchor          string `yaml:"anchor"`
	Category        string `yaml:"category"` // special | standard | flag
	Counting        string `yaml:"counting"` // presence | raw_count | distinct_identifier
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

type ClassifierConfig struct {
	Anchor           string `yaml:"anchor"`            // e.g. "Ubytovací služby"
	FlagLabel        string `yaml:"flag_label"`        // reserved surcharge label, default "E"
	StandardCounting string `yaml:"standard_counting"` // presence | raw_count
}

type InvoiceConfig struct {
	StayPattern           string `yaml:"stay_pattern"`
	VariableSymbolPattern string `yaml:"variable_symbol_pattern"`
	GuestsPattern         string `yaml:"guests_pattern"`
}

type FoldersConfig struct {
	Input   string `yaml:"input"`
	Archive string `yaml:"archive"`
	Output  string `yaml:"output"`
}

type WatchConfig struct {
	Extensions   []string      `yaml:"extensions"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Workers      int           `yaml:"workers"`
}

type LabelConfig struct {
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FontPath  string `yaml:"font_path"`
	EmptyText string `yaml:"empty_text"`
}

type PrinterConfig struct {
	Backend   string        `yaml:"backend"` // usb | file | tcp | spool | none
	Model     string        `yaml:"model"`   // e.g. "QL-1050"
	Device    string        `yaml:"device"`  // e.g. "/dev/usb/lp0"
	Address   string        `yaml:"address"` // host:port for tcp
	SpoolDir  string        `yaml:"spool_dir"`
	LabelSize string        `yaml:"label_size"` // e.g. "62"
	Timeout   time.Duration `yaml:"timeout"`
	MaxCopies int           `yaml:"max_copies"`
}

type ArchiveConfig struct {
	Retention time.Duration `yaml:"retention"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ServerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Addr              string        `yaml:"addr"`
	APIKeys           []string      `yaml:"api_keys"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type EventsConfig struct {
	QueueSize int          `yaml:"queue_size"`
	Workers   int          `yaml:"workers"`
	Sinks     []SinkConfig `yaml:"sinks"`
}

type SinkConfig struct {
	Type    string            `yaml:"type"` // file_jsonl | webhook
	Path    string            `yaml:"path"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
}

type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug | info | warn | error
	Encoding string `yaml:"encoding"` // json | console
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Year == 0 {
		cfg.Year = time.Now().Year()
	}

	if strings.TrimSpace(cfg.Classifier.FlagLabel) == "" {
		cfg.Classifier.FlagLabel = "E"
	}
	if cfg.Classifier.StandardCounting == "" {
		cfg.Classifier.StandardCounting = "presence"
	}

	if cfg.Folders.Input == "" {
		cfg.Folders.Input = "./data/input"
	}
	if cfg.Folders.Archive == "" {
		cfg.Folders.Archive = "./data/archiv"
	}
	if cfg.Folders.Output == "" {
		cfg.Folders.Output = "./data/output-labels"
	}

	if len(cfg.Watch.Extensions) == 0 {
		cfg.Watch.Extensions = []string{".pdf", ".xlsx"}
	}
	if cfg.Watch.PollInterval <= 0 {
		cfg.Watch.PollInterval = 2 * time.Second
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.ReadyTimeout <= 0 {
		cfg.Watch.ReadyTimeout = 10 * time.Second
	}
	if cfg.Watch.Workers <= 0 {
		cfg.Watch.Workers = 1
	}

	if cfg.Label.Width <= 0 {
		cfg.Label.Width = 600
	}
	if cfg.Label.Height <= 0 {
		cfg.Label.Height = 250
	}
	if cfg.Label.FontPath == "" {
		cfg.Label.FontPath = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
	}

	if cfg.Printer.Backend == "" {
		cfg.Printer.Backend = "usb"
	}
	if cfg.Printer.Model == "" {
		cfg.Printer.Model = "QL-1050"
	}
	if cfg.Printer.Device == "" {
		cfg.Printer.Device = "/dev/usb/lp0"
	}
	if cfg.Printer.LabelSize == "" {
		cfg.Printer.LabelSize = "62"
	}
	if cfg.Printer.Timeout <= 0 {
		cfg.Printer.Timeout = 10 * time.Second
	}
	if cfg.Printer.MaxCopies <= 0 {
		cfg.Printer.MaxCopies = 20
	}

	if cfg.Archive.Retention <= 0 {
		cfg.Archive.Retention = 30 * 24 * time.Hour
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "./data/labelbridge.db"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Events.QueueSize <= 0 {
		cfg.Events.QueueSize = 256
	}
	if cfg.Events.Workers <= 0 {
		cfg.Events.Workers = 1
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "console"
	}
}

// applyEnvOverrides lets deployments point the station at different mounts
// and devices without editing the rule file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_INPUT_DIR")); v != "" {
		c.Folders.Input = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_ARCHIVE_DIR")); v != "" {
		c.Folders.Archive = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_OUTPUT_DIR")); v != "" {
		c.Folders.Output = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_PRINTER_BACKEND")); v != "" {
		c.Printer.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_PRINTER_DEVICE")); v != "" {
		c.Printer.Device = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_PRINTER_MODEL")); v != "" {
		c.Printer.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_YEAR")); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			c.Year = year
		}
	}
	if v := strings.TrimSpace(os.Getenv("LABELBRIDGE_API_KEYS")); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Server.APIKeys = keys
	}
}
