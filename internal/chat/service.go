// Package chat turns visitor transcripts into assistant replies.
//
// The Service owns the system prompt, forwards conversation history plus
// document context to a completion backend, and runs the low-temperature
// identity extraction pass. It has no session state; callers pass full
// history on every exchange.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jjrasche/voice-chat-app/internal/observe"
	"github.com/jjrasche/voice-chat-app/pkg/provider/llm"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// Config tunes the completion requests.
type Config struct {
	// Temperature for conversational replies.
	Temperature float64

	// MaxTokens caps conversational replies. Short on purpose: the widget
	// wants 1-2 sentence answers.
	MaxTokens int

	// ExtractionTemperature for identity extraction calls.
	ExtractionTemperature float64

	// ExtractionMaxTokens caps identity extraction replies.
	ExtractionMaxTokens int
}

// Service produces assistant replies and identity extractions.
// Safe for concurrent use.
type Service struct {
	provider     llm.Provider
	providerName string
	cfg          Config
	metrics      *observe.Metrics
}

// NewService returns a Service on top of the given completion backend.
// providerName is only used as a metrics label.
func NewService(provider llm.Provider, providerName string, cfg Config, metrics *observe.Metrics) *Service {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{
		provider:     provider,
		providerName: providerName,
		cfg:          cfg,
		metrics:      metrics,
	}
}

// Exchange sends the conversation to the completion backend and returns the
// assistant's reply. contextDocs are injected into the system prompt in the
// order given; the caller decides which documents the model may see.
func (s *Service) Exchange(ctx context.Context, chatID string, messages []types.Message, contextDocs []types.ContextDoc) (string, error) {
	ctx, span := observe.StartSpan(ctx, "chat.Exchange")
	defer span.End()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt(chatID, contextDocs),
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	s.metrics.ExchangeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.providerName, "error")
		s.metrics.RecordProviderError(ctx, s.providerName)
		return "", fmt.Errorf("chat: exchange: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "ok")

	observe.Logger(ctx).Debug("exchange completed",
		"chat_id", chatID,
		"messages", len(messages),
		"docs", len(contextDocs),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Content, nil
}

// Extract asks the backend for the visitor's first name and job title based
// on the conversation so far. Extraction is best-effort: malformed model
// output yields an empty Extraction and a nil error, so a flaky extraction
// never breaks the conversation flow. Only transport errors are returned.
func (s *Service) Extract(ctx context.Context, messages []types.Message) (types.Extraction, error) {
	if len(messages) == 0 {
		return types.Extraction{}, nil
	}

	ctx, span := observe.StartSpan(ctx, "chat.Extract")
	defer span.End()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: extractionPrompt,
		Temperature:  s.cfg.ExtractionTemperature,
		MaxTokens:    s.cfg.ExtractionMaxTokens,
	})
	s.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.providerName)
		return types.Extraction{}, fmt.Errorf("chat: extract: %w", err)
	}

	var ext types.Extraction
	content := strings.TrimSpace(resp.Content)
	if err := json.Unmarshal([]byte(content), &ext); err != nil {
		observe.Logger(ctx).Debug("extraction output not parseable",
			"content", content,
			"error", err,
		)
		return types.Extraction{}, nil
	}
	return ext, nil
}

// extractionPrompt is the system prompt for the identity extraction pass.
const extractionPrompt = `Extract the user's first name and job title from the conversation.
Return ONLY a JSON object in this exact format:
{"userName": "FirstName", "jobTitle": "Their Job Title"}

If not found, use null for missing values.
If they mention what they do but not a formal title, infer an appropriate job title.`

// systemPrompt builds the conversational system prompt, including the
// document context block when any documents are supplied.
func systemPrompt(chatID string, contextDocs []types.ContextDoc) string {
	var docContext string
	if len(contextDocs) > 0 {
		sections := make([]string, len(contextDocs))
		for i, doc := range contextDocs {
			sections[i] = "## " + doc.Name + "\n" + doc.Content
		}
		docContext = "\n\nRELEVANT DOCUMENTATION:\n" + strings.Join(sections, "\n\n")
	}

	return fmt.Sprintf(`You're having a voice conversation about building AI-native tools that give people 10X capability.

CORE MISSION:
1. Attract contributors (money, talent, audience)
2. Spread AI-native principles: Use AI to automate routine tasks + leverage AI for flow state thinking
3. Build tools that increase individual capability by 10X
%s

CONVERSATION CONTEXT:
- Chat ID: %s
- This is a continuous conversation, maintain context from previous messages

STAY FOCUSED: Every response should connect back to these three goals. Don't wander into abstract philosophy. Keep it practical - how do we get more capable individuals through AI-native workflows?

CRITICAL: Keep responses extremely short (1-2 sentences max). Ask questions that move toward contribution or capability building.

If the user shares their name or job/role, acknowledge it naturally but stay focused on the mission.`, docContext, chatID)
}
