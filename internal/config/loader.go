package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for zero-valued tuning fields.
const (
	DefaultSilenceThreshold     = 1500 * time.Millisecond
	DefaultCountdown            = 3 * time.Second
	DefaultConstrainedCountdown = 2 * time.Second
	DefaultMaxRestarts          = 50
	DefaultRestartBackoff       = 100 * time.Millisecond

	DefaultTemperature           = 0.7
	DefaultMaxTokens             = 150
	DefaultExtractionTemperature = 0.1
	DefaultExtractionMaxTokens   = 100
	DefaultEmailOfferThreshold   = 3
)

// ValidProviderNames lists known completion backend names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "groq", "ollama", "gemini", "deepseek", "mistral"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tuning fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Session.SilenceThreshold == 0 {
		cfg.Session.SilenceThreshold = Duration(DefaultSilenceThreshold)
	}
	if cfg.Session.Countdown == 0 {
		cfg.Session.Countdown = Duration(DefaultCountdown)
	}
	if cfg.Session.ConstrainedCountdown == 0 {
		cfg.Session.ConstrainedCountdown = Duration(DefaultConstrainedCountdown)
	}
	if cfg.Session.MaxRestarts == 0 {
		cfg.Session.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Session.RestartBackoff == 0 {
		cfg.Session.RestartBackoff = Duration(DefaultRestartBackoff)
	}

	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = DefaultTemperature
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = DefaultMaxTokens
	}
	if cfg.Chat.ExtractionTemperature == 0 {
		cfg.Chat.ExtractionTemperature = DefaultExtractionTemperature
	}
	if cfg.Chat.ExtractionMaxTokens == 0 {
		cfg.Chat.ExtractionMaxTokens = DefaultExtractionMaxTokens
	}
	if cfg.Chat.EmailOfferThreshold == 0 {
		cfg.Chat.EmailOfferThreshold = DefaultEmailOfferThreshold
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else {
		validateProviderName("providers.llm", cfg.Providers.LLM)
		if cfg.Providers.LLM.Model == "" {
			errs = append(errs, errors.New("providers.llm.model is required"))
		}
	}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb)
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}

	if d := cfg.Session.SilenceThreshold.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("session.silence_threshold %v must not be negative", d))
	}
	if d := cfg.Session.Countdown.Std(); d < 0 {
		errs = append(errs, fmt.Errorf("session.countdown %v must not be negative", d))
	}
	if cfg.Session.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("session.max_restarts %d must not be negative", cfg.Session.MaxRestarts))
	}

	if t := cfg.Chat.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", t))
	}
	if t := cfg.Chat.ExtractionTemperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("chat.extraction_temperature %.2f is out of range [0, 2]", t))
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; conversations and contacts will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry's name is not found in
// [ValidProviderNames].
func validateProviderName(where string, entry ProviderEntry) {
	if slices.Contains(ValidProviderNames, entry.Name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"where", where,
		"name", entry.Name,
		"known", ValidProviderNames,
	)
}
