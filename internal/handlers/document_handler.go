// -----------------------------------------------------------------------
// Document handler - document lookup and metadata patching
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/auth"
)

type DocumentHandler struct {
	documents interfaces.DocumentService
	auth      *auth.Service
	logger    arbor.ILogger
}

func NewDocumentHandler(documents interfaces.DocumentService, authService *auth.Service) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		auth:      authService,
		logger:    common.GetLogger(),
	}
}

// Handler dispatches per-document routes:
// GET   /api/documents/{id}
// PATCH /api/documents/{id}
func (h *DocumentHandler) Handler(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if documentID == "" || strings.Contains(documentID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid document id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getDocument(w, r, documentID)
	case http.MethodPatch:
		h.patchDocument(w, r, documentID)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *DocumentHandler) getDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), documentID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Document not found")
		return
	}
	if !claims.Admin && doc.Owner != claims.Owner {
		WriteError(w, http.StatusNotFound, "Document not found")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) patchDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), documentID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Document not found")
		return
	}
	if !claims.Admin && doc.Owner != claims.Owner {
		WriteError(w, http.StatusNotFound, "Document not found")
		return
	}

	var patch models.DocumentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.IsEmpty() {
		WriteError(w, http.StatusBadRequest, "Patch contains no fields")
		return
	}

	updated, err := h.documents.UpdateDocumentMetadata(r.Context(), documentID, &patch)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to update document metadata")
		WriteError(w, http.StatusInternalServerError, "Failed to update document")
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}
