package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// chatRequest mirrors the widget's chat exchange payload.
type chatRequest struct {
	Messages       []types.Message    `json:"messages"`
	ContextDocs    []types.ContextDoc `json:"contextDocs"`
	ExtractNameJob bool               `json:"extractNameJob"`
	ChatID         string             `json:"chatId"`
}

// handleChat serves POST /api/chat. With extractNameJob set the request
// runs identity extraction and always answers 200 with an extraction
// object, null-valued when inference failed; otherwise it runs a normal
// completion exchange.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}

		if req.ExtractNameJob && len(req.Messages) > 0 {
			ext, err := deps.Chat.Extract(r.Context(), req.Messages)
			if err != nil {
				// Extraction is best-effort: transport failures degrade to
				// an empty extraction, never an error status.
				deps.Logger.Debug("extraction request failed", slog.Any("error", err))
				ext = types.Extraction{}
			}
			writeJSON(w, http.StatusOK, map[string]types.Extraction{"extraction": ext})
			return
		}

		reply, err := deps.Chat.Exchange(r.Context(), req.ChatID, req.Messages, req.ContextDocs)
		if err != nil {
			deps.Logger.Error("chat exchange failed",
				slog.String("chat_id", req.ChatID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "AI service unavailable", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"response": reply})
	}
}
