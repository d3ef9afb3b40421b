package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jjrasche/voice-chat-app/internal/store"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// conversationRequest mirrors the widget's save payload. Null scalars
// keep the stored values; the lists always replace wholesale.
type conversationRequest struct {
	ChatID       string          `json:"chatId"`
	Email        *string         `json:"email"`
	UserName     *string         `json:"userName"`
	JobTitle     *string         `json:"jobTitle"`
	Messages     []types.Message `json:"messages"`
	UnlockedDocs []string        `json:"unlockedDocs"`
}

// handleConversation serves POST /api/conversation.
func handleConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req conversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if req.ChatID == "" {
			writeError(w, http.StatusBadRequest, "Chat ID required", "")
			return
		}
		if deps.Conversations == nil {
			writeError(w, http.StatusServiceUnavailable, "Storage not configured", "")
			return
		}

		_, err := deps.Conversations.Upsert(r.Context(), store.ConversationUpsert{
			ChatID:       req.ChatID,
			Email:        req.Email,
			UserName:     req.UserName,
			JobTitle:     req.JobTitle,
			Messages:     req.Messages,
			UnlockedDocs: req.UnlockedDocs,
		})
		if err != nil {
			deps.Logger.Error("conversation save failed",
				slog.String("chat_id", req.ChatID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "Failed to save conversation", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Conversation saved",
		})
	}
}

// contactRequest mirrors the widget's contact capture payload.
type contactRequest struct {
	ChatID       string          `json:"chatId"`
	Email        string          `json:"email"`
	ChatHistory  []types.Message `json:"chatHistory"`
	UnlockedDocs []string        `json:"unlockedDocs"`
}

// handleContacts serves POST /api/contacts. Records are append-only.
func handleContacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req contactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
		if !strings.Contains(req.Email, "@") {
			writeError(w, http.StatusBadRequest, "Valid email required", "")
			return
		}
		if deps.Contacts == nil {
			writeError(w, http.StatusServiceUnavailable, "Storage not configured", "")
			return
		}

		_, err := deps.Contacts.Add(r.Context(), store.Contact{
			ChatID:       req.ChatID,
			Email:        req.Email,
			ChatHistory:  req.ChatHistory,
			UnlockedDocs: req.UnlockedDocs,
		})
		if err != nil {
			if errors.Is(err, store.ErrInvalidEmail) {
				writeError(w, http.StatusBadRequest, "Valid email required", "")
				return
			}
			deps.Logger.Error("contact save failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "Failed to save contact", "")
			return
		}
		deps.Metrics.ContactCaptures.Add(r.Context(), 1)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Contact saved successfully",
		})
	}
}
