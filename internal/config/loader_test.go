package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jjrasche/voice-chat-app/internal/config"
)

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: groq
    api_key: gsk-test
    model: llama-3.1-8b-instant
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if got := cfg.Session.SilenceThreshold.Std(); got != 1500*time.Millisecond {
		t.Errorf("silence_threshold default = %v, want 1.5s", got)
	}
	if got := cfg.Session.Countdown.Std(); got != 3*time.Second {
		t.Errorf("countdown default = %v, want 3s", got)
	}
	if got := cfg.Session.ConstrainedCountdown.Std(); got != 2*time.Second {
		t.Errorf("constrained_countdown default = %v, want 2s", got)
	}
	if cfg.Session.MaxRestarts != 50 {
		t.Errorf("max_restarts default = %d, want 50", cfg.Session.MaxRestarts)
	}
	if got := cfg.Session.RestartBackoff.Std(); got != 100*time.Millisecond {
		t.Errorf("restart_backoff default = %v, want 100ms", got)
	}
	if cfg.Chat.Temperature != 0.7 {
		t.Errorf("chat.temperature default = %v, want 0.7", cfg.Chat.Temperature)
	}
	if cfg.Chat.MaxTokens != 150 {
		t.Errorf("chat.max_tokens default = %d, want 150", cfg.Chat.MaxTokens)
	}
	if cfg.Chat.ExtractionTemperature != 0.1 {
		t.Errorf("chat.extraction_temperature default = %v, want 0.1", cfg.Chat.ExtractionTemperature)
	}
	if cfg.Chat.EmailOfferThreshold != 3 {
		t.Errorf("chat.email_offer_threshold default = %d, want 3", cfg.Chat.EmailOfferThreshold)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr default = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_ParsesDurations(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
session:
  silence_threshold: 2s
  countdown: 5s
  auto_submit: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Session.SilenceThreshold.Std(); got != 2*time.Second {
		t.Errorf("silence_threshold = %v, want 2s", got)
	}
	if got := cfg.Session.Countdown.Std(); got != 5*time.Second {
		t.Errorf("countdown = %v, want 5s", got)
	}
	if !cfg.Session.AutoSubmit {
		t.Error("auto_submit should be true")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
sessoin:
  countdown: 5s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
}

func TestValidate_MissingLLM(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9090"
`))
	if err == nil {
		t.Fatal("expected error for missing providers.llm, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
}

func TestValidate_MissingModel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: groq
`))
	if err == nil {
		t.Fatal("expected error for missing model, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.model") {
		t.Errorf("error should mention providers.llm.model, got: %v", err)
	}
}

func TestValidate_FallbackNeedsModel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
  fallbacks:
    - name: ollama
`))
	if err == nil {
		t.Fatal("expected error for fallback without model, got nil")
	}
	if !strings.Contains(err.Error(), "fallbacks[0].model") {
		t.Errorf("error should mention fallbacks[0].model, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
`))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  tls:
    cert_file: /etc/certs/server.pem
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
`))
	if err == nil {
		t.Fatal("expected error for TLS without key file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: groq
    model: llama-3.1-8b-instant
session:
  countdown: soonish
`))
	if err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
}
