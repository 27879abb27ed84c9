package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/scriba/internal/batch"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/events"
)

type fakeDocuments struct {
	ids []string
}

func (f *fakeDocuments) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	for _, id := range f.ids {
		if id == documentID {
			return &models.Document{ID: id, Owner: "alice", OriginalName: id + ".pdf"}, nil
		}
	}
	return nil, fmt.Errorf("document not found: %s", documentID)
}

func (f *fakeDocuments) ListDocumentIDs(ctx context.Context, owner string, filter models.BatchFilter) ([]string, error) {
	return f.ids, nil
}

func (f *fakeDocuments) UpdateDocumentMetadata(ctx context.Context, documentID string, patch *models.DocumentPatch) (*models.Document, error) {
	return f.GetDocument(ctx, documentID)
}

func (f *fakeDocuments) DocumentFilePath(doc *models.Document) string {
	return doc.FilePath
}

// fakeBatchStorage keeps runs in memory, enough for the controller to
// persist and re-read them during a handler test
type fakeBatchStorage struct {
	mu   sync.Mutex
	runs map[string]*models.BatchRun
}

func newFakeBatchStorage() *fakeBatchStorage {
	return &fakeBatchStorage{runs: make(map[string]*models.BatchRun)}
}

func (f *fakeBatchStorage) SaveRun(ctx context.Context, run *models.BatchRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeBatchStorage) GetRun(ctx context.Context, runID string) (*models.BatchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	copied := *run
	return &copied, nil
}

func newBatchHarness(t *testing.T, docIDs []string, awaitDelay time.Duration) (*BatchHandler, *batch.Controller, string) {
	t.Helper()

	authSvc, token := newTestAuth(t)
	jobs := newFakeJobService()
	jobs.awaitDelay = awaitDelay

	var storage interfaces.BatchStorage = newFakeBatchStorage()
	controller := batch.NewController(
		batch.Config{PausePollInterval: 50 * time.Millisecond},
		storage,
		&fakeDocuments{ids: docIDs},
		jobs,
		events.NewBroadcaster(16),
		nil,
	)
	t.Cleanup(controller.Shutdown)

	return NewBatchHandler(controller, authSvc), controller, token
}

func TestBatchHandler_StartAndComplete(t *testing.T) {
	handler, controller, token := newBatchHarness(t, []string{"doc-1", "doc-2"}, 0)

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, authedRequest(http.MethodPost, "/api/batch", token,
		`{"kind":"extract","filter":"all"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		RunID string `json:"run_id"`
		Total int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	assert.Equal(t, 2, resp.Total)

	require.Eventually(t, func() bool {
		run, err := controller.GetRun(context.Background(), resp.RunID)
		return err == nil && run.Status == models.BatchStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = httptest.NewRecorder()
	handler.RunHandler(rec, authedRequest(http.MethodGet, "/api/batch/"+resp.RunID, token, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var run models.BatchRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, 2, run.Succeeded)
}

func TestBatchHandler_SecondRunConflicts(t *testing.T) {
	handler, _, token := newBatchHarness(t, []string{"doc-1", "doc-2"}, 500*time.Millisecond)

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, authedRequest(http.MethodPost, "/api/batch", token,
		`{"kind":"extract"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler.StartHandler(rec, authedRequest(http.MethodPost, "/api/batch", token,
		`{"kind":"extract"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchHandler_ControlAcks(t *testing.T) {
	handler, _, token := newBatchHarness(t, []string{"doc-1", "doc-2", "doc-3"}, 300*time.Millisecond)

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, authedRequest(http.MethodPost, "/api/batch", token,
		`{"kind":"extract"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	for _, action := range []string{"pause", "resume", "cancel"} {
		rec = httptest.NewRecorder()
		handler.RunHandler(rec, authedRequest(http.MethodPost,
			"/api/batch/"+resp.RunID+"/"+action, token, ""))
		require.Equal(t, http.StatusOK, rec.Code, action)

		var ack map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
		assert.Contains(t, ack["detail"], action)
	}
}

func TestBatchHandler_UnknownRun(t *testing.T) {
	handler, _, token := newBatchHarness(t, nil, 0)

	rec := httptest.NewRecorder()
	handler.RunHandler(rec, authedRequest(http.MethodPost, "/api/batch/nope/pause", token, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchHandler_InvalidKind(t *testing.T) {
	handler, _, token := newBatchHarness(t, nil, 0)

	rec := httptest.NewRecorder()
	handler.StartHandler(rec, authedRequest(http.MethodPost, "/api/batch", token,
		`{"kind":"shred"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
