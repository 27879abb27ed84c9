// -----------------------------------------------------------------------
// Job handler - enqueue and query endpoints over job records
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/auth"
)

type JobHandler struct {
	jobs     interfaces.JobService
	auth     *auth.Service
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewJobHandler(jobs interfaces.JobService, authService *auth.Service) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		auth:     authService,
		validate: validator.New(),
		logger:   common.GetLogger(),
	}
}

type createJobRequest struct {
	DocumentID string `json:"document_id" validate:"required"`
	Kind       string `json:"kind" validate:"required,oneof=extract classify organize"`
}

// CreateHandler enqueues a job: POST /api/jobs
func (h *JobHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "document_id and a valid kind are required")
		return
	}

	job, err := h.jobs.EnqueueJob(r.Context(), req.DocumentID, claims.Owner, models.JobKind(req.Kind), "")
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", req.DocumentID).Msg("Failed to enqueue job")
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// GetHandler returns the full job record: GET /api/jobs/{id}
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if !claims.Admin && job.Owner != claims.Owner {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ByDocumentHandler lists a document's jobs:
// GET /api/jobs/by-document/{id}         - pending/processing only (follow-on discovery)
// GET /api/jobs/by-document/{id}/history - recent jobs any status, newest first
func (h *JobHandler) ByDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	claims := RequireClaims(w, r, h.auth)
	if claims == nil {
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/jobs/by-document/"), "/")
	documentID := parts[0]
	if documentID == "" {
		WriteError(w, http.StatusBadRequest, "Invalid document id")
		return
	}

	var jobs []*models.Job
	var err error
	switch {
	case len(parts) == 1:
		jobs, err = h.jobs.ActiveJobsForDocument(r.Context(), documentID)
	case len(parts) == 2 && parts[1] == "history":
		jobs, err = h.jobs.JobHistoryForDocument(r.Context(), documentID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to list document jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	// Owner scoping: filter rather than reject so admins and owners share
	// the same endpoint
	visible := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		if claims.Admin || job.Owner == claims.Owner {
			visible = append(visible, job)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": documentID,
		"jobs":        visible,
	})
}
