// Package api exposes the widget's HTTP surface: the chat exchange and
// identity extraction endpoint, conversation persistence, contact
// capture, document retrieval, the WebSocket speech session, and the
// operational endpoints (metrics and health probes).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jjrasche/voice-chat-app/internal/chat"
	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/docs"
	"github.com/jjrasche/voice-chat-app/internal/health"
	"github.com/jjrasche/voice-chat-app/internal/observe"
	"github.com/jjrasche/voice-chat-app/internal/session"
	"github.com/jjrasche/voice-chat-app/internal/store"
)

// maxBodySize bounds request bodies; conversation histories are the
// largest legitimate payload.
const maxBodySize = 1 << 20 // 1MB

// Deps are the handler's collaborators. Conversations, Contacts, and
// States may be nil, in which case the corresponding endpoints report
// the service as unavailable (or, for States, sessions simply are not
// restored).
type Deps struct {
	Chat          *chat.Service
	Library       *docs.Library
	Engine        *docs.Engine
	Conversations store.ConversationStore
	Contacts      store.ContactStore
	States        *clientstate.FileStore

	// Session is the configuration applied to WebSocket speech sessions.
	Session session.Config

	// ConstrainedCountdown replaces Session.Countdown when the client
	// reports a constrained recognizer (mobile browsers). Zero keeps
	// the regular countdown.
	ConstrainedCountdown time.Duration

	Health  *health.Handler
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// NewHandler builds the complete HTTP handler.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	r := chi.NewRouter()
	r.Use(observe.Middleware(deps.Metrics))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", handleChat(deps))
		r.Post("/conversation", handleConversation(deps))
		r.Post("/contacts", handleContacts(deps))
		r.Get("/docs/{doc}", handleDoc(deps))
		r.Get("/speech", handleSpeech(deps))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if deps.Health != nil {
		deps.Health.Register(r)
	}
	return r
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

// writeError emits the widget's error shape. details is omitted when
// empty.
func writeError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
