package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jjrasche/voice-chat-app/internal/docs"
)

// handleDoc serves GET /api/docs/{doc}: the named document with its
// title resolved from the first heading.
func handleDoc(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "doc")
		if name == "" {
			writeError(w, http.StatusBadRequest, "Document name required", "")
			return
		}

		doc, err := deps.Library.Get(name)
		switch {
		case errors.Is(err, docs.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "Invalid document name", "")
			return
		case errors.Is(err, docs.ErrNotFound):
			writeError(w, http.StatusNotFound, "Document not found", "")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "Failed to load document", "")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"name":    doc.Name,
			"title":   docs.Title(doc.Name, doc.Content),
			"content": doc.Content,
		})
	}
}
