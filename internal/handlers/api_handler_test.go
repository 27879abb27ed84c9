package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIHandler_HealthReportsInstance(t *testing.T) {
	handler := NewAPIHandler("instance-abc", 3)

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status     string `json:"status"`
		InstanceID string `json:"instance_id"`
		BootCount  int    `json:"boot_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "instance-abc", resp.InstanceID)
	assert.Equal(t, 3, resp.BootCount)
}

func TestAPIHandler_VersionRejectsPost(t *testing.T) {
	handler := NewAPIHandler("instance-abc", 1)

	rec := httptest.NewRecorder()
	handler.VersionHandler(rec, httptest.NewRequest(http.MethodPost, "/api/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
