// Command voicechat runs the voice chat widget server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/jjrasche/voice-chat-app/internal/api"
	"github.com/jjrasche/voice-chat-app/internal/chat"
	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/config"
	"github.com/jjrasche/voice-chat-app/internal/docs"
	"github.com/jjrasche/voice-chat-app/internal/health"
	"github.com/jjrasche/voice-chat-app/internal/observe"
	"github.com/jjrasche/voice-chat-app/internal/resilience"
	"github.com/jjrasche/voice-chat-app/internal/session"
	"github.com/jjrasche/voice-chat-app/internal/store/postgres"
	"github.com/jjrasche/voice-chat-app/pkg/provider/llm"
	"github.com/jjrasche/voice-chat-app/pkg/provider/llm/anyllm"
	"github.com/jjrasche/voice-chat-app/pkg/provider/llm/openai"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// groqBaseURL is Groq's OpenAI-compatible endpoint.
const groqBaseURL = "https://api.groq.com/openai/v1"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicechat: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicechat starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicechat",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Completion backend ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildLLM(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build completion backend", "err", err)
		return 1
	}

	// ── Document library ──────────────────────────────────────────────────────
	lib, err := docs.NewLibrary()
	if err != nil {
		slog.Error("failed to load document library", "err", err)
		return 1
	}
	if cfg.Docs.Dir != "" {
		if err := lib.LoadDir(cfg.Docs.Dir); err != nil {
			slog.Error("failed to load documents", "dir", cfg.Docs.Dir, "err", err)
			return 1
		}
	}
	if cfg.Docs.DefaultDoc != "" {
		if err := lib.SetDefault(cfg.Docs.DefaultDoc); err != nil {
			slog.Error("invalid default document", "doc", cfg.Docs.DefaultDoc, "err", err)
			return 1
		}
	}

	var engineOpts []docs.EngineOption
	if cfg.Docs.PhoneticMatching {
		engineOpts = append(engineOpts, docs.WithMatcher(docs.NewMatcher()))
	}
	engine := docs.NewEngine(lib, engineOpts...)

	slog.Info("document library loaded",
		"docs", len(lib.List()),
		"default", lib.Default(),
		"phonetic_matching", cfg.Docs.PhoneticMatching,
	)

	// ── Storage (optional) ────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.Docs(func() int { return len(lib.List()) }),
	}

	deps := api.Deps{
		Library: lib,
		Engine:  engine,
		Metrics: metrics,
		Logger:  logger,
	}

	if cfg.Storage.PostgresDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		deps.Conversations = pg.Conversations()
		deps.Contacts = pg.Contacts()
		checkers = append(checkers, health.Database(pg.Ping))
		slog.Info("postgres storage connected")
	} else {
		slog.Warn("postgres_dsn not set, conversations and contacts will not be saved")
	}

	if cfg.Storage.ClientStateDir != "" {
		states, err := clientstate.NewFileStore(cfg.Storage.ClientStateDir)
		if err != nil {
			slog.Error("failed to open client state store", "dir", cfg.Storage.ClientStateDir, "err", err)
			return 1
		}
		deps.States = states
	}

	// ── Services ──────────────────────────────────────────────────────────────
	deps.Chat = chat.NewService(provider, cfg.Providers.LLM.Name, chat.Config{
		Temperature:           cfg.Chat.Temperature,
		MaxTokens:             cfg.Chat.MaxTokens,
		ExtractionTemperature: cfg.Chat.ExtractionTemperature,
		ExtractionMaxTokens:   cfg.Chat.ExtractionMaxTokens,
	}, metrics)

	deps.Session = session.Config{
		SilenceThreshold:    cfg.Session.SilenceThreshold.Std(),
		Countdown:           cfg.Session.Countdown.Std(),
		AutoSubmit:          cfg.Session.AutoSubmit,
		MaxRestarts:         cfg.Session.MaxRestarts,
		RestartBackoff:      cfg.Session.RestartBackoff.Std(),
		EmailOfferThreshold: cfg.Chat.EmailOfferThreshold,
	}
	deps.ConstrainedCountdown = cfg.Session.ConstrainedCountdown.Std()

	deps.Health = health.New(checkers...)

	handler := api.NewHandler(deps)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			slog.Info("serving HTTPS", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			slog.Info("serving HTTP", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in completion backend factories
// into reg. Groq and OpenAI go through the native OpenAI SDK; the remaining
// names go through the any-llm multi-provider bridge.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("groq", func(entry config.ProviderEntry) (llm.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = groqBaseURL
		}
		return openai.New(entry.APIKey, entry.Model, openai.WithBaseURL(baseURL))
	})

	for _, name := range []string{"gemini", "deepseek", "mistral"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(entry.Name, entry.Model, opts...)
		})
	}

	// ollama is a local server; BaseURL is its address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})
}

// buildLLM instantiates the primary completion backend and, when fallbacks
// are configured, wraps everything in a breaker-guarded failover chain.
func buildLLM(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm %q: %w", cfg.Providers.LLM.Name, err)
	}
	if len(cfg.Providers.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewLLMChain(cfg.Providers.LLM.Name, primary, resilience.ChainConfig{
		Logger: logger,
	})
	for _, entry := range cfg.Providers.Fallbacks {
		fallback, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm %q: %w", entry.Name, err)
		}
		chain.Add(entry.Name, fallback)
	}
	slog.Info("completion backends configured", "chain", chain.Names())
	return chain, nil
}

// newLogger builds a text slog.Logger honouring the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
