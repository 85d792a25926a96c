package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
// Regular expressions are compiled and checked by the classifier when the
// rule set is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.Year < 2000 || cfg.Year > 2999 {
		return fmt.Errorf("year must be a four-digit year, got %d", cfg.Year)
	}

	if err := validateClassifierConfig(cfg.Classifier); err != nil {
		return err
	}
	for i, r := range cfg.Special {
		if err := validateRuleConfig(fmt.Sprintf("special[%d]", i), r); err != nil {
			return err
		}
	}
	for i, r := range cfg.Prefixes {
		if err := validateRuleConfig(fmt.Sprintf("prefixes[%d]", i), r); err != nil {
			return err
		}
	}

	if strings.TrimSpace(cfg.Folders.Input) == "" {
		return errors.New("folders.input must be set")
	}
	if strings.TrimSpace(cfg.Folders.Archive) == "" {
		return errors.New("folders.archive must be set")
	}
	if strings.TrimSpace(cfg.Folders.Output) == "" {
		return errors.New("folders.output must be set")
	}
	for _, ext := range cfg.Watch.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("watch.extensions entry %q must start with a dot", ext)
		}
	}

	if err := validatePrinterConfig(cfg.Printer); err != nil {
		return err
	}

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		return errors.New("journal enabled but journal.path is empty")
	}

	if err := validateServerConfig(cfg.Server); err != nil {
		return err
	}

	if err := validateEventsConfig(cfg.Events); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Encoding)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.encoding must be json or console, got %q", cfg.Logging.Encoding)
	}

	return nil
}

func validateClassifierConfig(c ClassifierConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.StandardCounting)) {
	case "", "presence", "raw_count":
	default:
		return fmt.Errorf("classifier.standard_counting must be presence or raw_count, got %q", c.StandardCounting)
	}
	return nil
}

// validateRuleConfig only checks the enumerations. Rules with an empty
// pattern or label are tolerated here and skipped by the classifier.
func validateRuleConfig(field string, r RuleConfig) error {
	switch strings.ToLower(strings.TrimSpace(r.Category)) {
	case "", "special", "standard", "flag":
	default:
		return fmt.Errorf("%s.category must be special, standard or flag, got %q", field, r.Category)
	}
	switch strings.ToLower(strings.TrimSpace(r.Counting)) {
	case "", "presence", "raw_count", "distinct_identifier":
	default:
		return fmt.Errorf("%s.counting must be presence, raw_count or distinct_identifier, got %q", field, r.Counting)
	}
	return nil
}

func validatePrinterConfig(p PrinterConfig) error {
	switch strings.ToLower(strings.TrimSpace(p.Backend)) {
	case "usb", "file":
		if strings.TrimSpace(p.Device) == "" {
			return fmt.Errorf("printer backend %q missing device", p.Backend)
		}
	case "tcp":
		if strings.TrimSpace(p.Address) == "" {
			return errors.New("printer backend tcp missing address")
		}
		if _, _, err := net.SplitHostPort(p.Address); err != nil {
			return fmt.Errorf("printer.address %q must be host:port", p.Address)
		}
	case "spool":
		if strings.TrimSpace(p.SpoolDir) == "" {
			return errors.New("printer backend spool missing spool_dir")
		}
	case "none":
	default:
		return fmt.Errorf("printer.backend must be usb, file, tcp, spool or none, got %q", p.Backend)
	}
	if p.MaxCopies < 0 {
		return errors.New("printer.max_copies must not be negative")
	}
	return nil
}

func validateServerConfig(s ServerConfig) error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	for i, k := range s.APIKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("server.api_keys[%d] is empty", i)
		}
	}
	return nil
}

func validateEventsConfig(e EventsConfig) error {
	if len(e.Sinks) == 0 {
		return nil
	}
	for i, s := range e.Sinks {
		switch strings.ToLower(strings.TrimSpace(s.Type)) {
		case "file_jsonl":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("events sink %d (file_jsonl) missing path", i)
			}
		case "webhook":
			if strings.TrimSpace(s.URL) == "" {
				return fmt.Errorf("events sink %d (webhook) missing url", i)
			}
			u, err := url.Parse(s.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("events sink %d (webhook) has invalid url", i)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("events sink %d (webhook) url must be http or https", i)
			}
		default:
			return fmt.Errorf("events sink %d has unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
