// -----------------------------------------------------------------------
// Batch handler - run lifecycle and control endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/batch"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/auth"
)

type BatchHandler struct {
	controller *batch.Controller
	auth       *auth.Service
	validate   *validator.Validate
	logger     arbor.ILogger
}

func NewBatchHandler(controller *batch.Controller, authService *auth.Service) *BatchHandler {
	return &BatchHandler{
		controller: controller,
		auth:       authService,
		validate:   validator.New(),
		logger:     common.GetLogger(),
	}
}

type startBatchRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=extract classify organize"`
	Filter string `json:"filter" validate:"omitempty,oneof=all no_text no_ai"`
}

// StartHandler begins a batch run: POST /api/batch
func (h *BatchHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "A valid kind and filter are required")
		return
	}
	filter := models.BatchFilter(req.Filter)
	if filter == "" {
		filter = models.BatchFilterAll
	}

	run, err := h.controller.Start(r.Context(), claims.Owner, models.JobKind(req.Kind), filter)
	if err != nil {
		if errors.Is(err, batch.ErrRunActive) {
			WriteError(w, http.StatusConflict, "Another batch run is already active")
			return
		}
		h.logger.Error().Err(err).Str("owner", claims.Owner).Msg("Failed to start batch run")
		WriteError(w, http.StatusInternalServerError, "Failed to start batch run")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": run.ID,
		"total":  run.Total,
	})
}

// RunHandler dispatches per-run routes:
// GET  /api/batch/{id}
// POST /api/batch/{id}/pause|resume|skip|cancel
func (h *BatchHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/batch/"), "/")
	runID := parts[0]
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	if len(parts) == 1 {
		h.getRun(w, r, claims, runID)
		return
	}
	if len(parts) != 2 {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.ownsRun(r, claims, runID) {
		WriteError(w, http.StatusNotFound, "Run not found")
		return
	}

	var err error
	switch parts[1] {
	case "pause":
		err = h.controller.Pause(runID)
	case "resume":
		err = h.controller.Resume(runID)
	case "skip":
		err = h.controller.Skip(runID)
	case "cancel":
		err = h.controller.Cancel(runID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		if errors.Is(err, batch.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Control request failed")
		return
	}

	WriteDetail(w, "Batch "+parts[1]+" requested")
}

func (h *BatchHandler) getRun(w http.ResponseWriter, r *http.Request, claims *auth.Claims, runID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	run, err := h.controller.GetRun(r.Context(), runID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if !claims.Admin && run.Owner != claims.Owner {
		WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

func (h *BatchHandler) ownsRun(r *http.Request, claims *auth.Claims, runID string) bool {
	if claims.Admin {
		return true
	}
	run, err := h.controller.GetRun(r.Context(), runID)
	return err == nil && run.Owner == claims.Owner
}
