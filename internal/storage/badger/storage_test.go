package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(&common.BadgerConfig{Path: t.TempDir()}, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestJobStorage_SaveAndGet(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.JobStorage()

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	require.NoError(t, storage.SaveJob(ctx, job))

	loaded, err := storage.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, loaded.Status)
	assert.Equal(t, "doc-1", loaded.DocumentID)

	_, err = storage.GetJob(ctx, "missing")
	assert.Error(t, err)
}

func TestJobStorage_ClaimJob_ExactlyOnce(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.JobStorage()

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	require.NoError(t, storage.SaveJob(ctx, job))

	claimed, err := storage.ClaimJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	// Second claim loses: the job is no longer pending
	lost, err := storage.ClaimJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, lost)
}

func TestJobStorage_ClaimJob_ConcurrentClaimers(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.JobStorage()

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	require.NoError(t, storage.SaveJob(ctx, job))

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan *models.Job, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := storage.ClaimJob(ctx, "job-1")
			if err == nil && claimed != nil {
				wins <- claimed
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one claimer may win")
}

func TestJobStorage_ActiveAndHistory(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.JobStorage()

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []models.JobStatus{
		models.JobStatusCompleted, models.JobStatusPending, models.JobStatusProcessing,
	} {
		job := models.NewJob("job-"+string(rune('a'+i)), "doc-1", "alice", models.JobKindExtract)
		job.Status = status
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, storage.SaveJob(ctx, job))
	}
	other := models.NewJob("job-x", "doc-2", "alice", models.JobKindExtract)
	require.NoError(t, storage.SaveJob(ctx, other))

	active, err := storage.GetActiveJobsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, job := range active {
		assert.True(t, job.IsActive())
	}

	history, err := storage.GetJobHistoryByDocument(ctx, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt), "newest first")
}

func TestJobStorage_StaleProcessingJobs(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.JobStorage()

	stale := models.NewJob("job-stale", "doc-1", "alice", models.JobKindExtract)
	stale.MarkStarted()
	old := time.Now().UTC().Add(-30 * time.Minute)
	stale.StartedAt = &old
	require.NoError(t, storage.SaveJob(ctx, stale))

	fresh := models.NewJob("job-fresh", "doc-2", "alice", models.JobKindExtract)
	fresh.MarkStarted()
	require.NoError(t, storage.SaveJob(ctx, fresh))

	found, err := storage.GetStaleProcessingJobs(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "job-stale", found[0].ID)
}

func TestDocumentStorage_ListDocumentIDs_Filters(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.DocumentStorage()

	noText := &models.Document{ID: "doc-notext", Owner: "alice", Filename: "a.pdf"}
	withText := &models.Document{ID: "doc-text", Owner: "alice", Filename: "b.pdf", ContentText: "hello"}
	classified := &models.Document{
		ID: "doc-ai", Owner: "alice", Filename: "c.pdf",
		ContentText: "hello", AIMetadata: map[string]interface{}{"document_type": "invoice"},
	}
	otherOwner := &models.Document{ID: "doc-bob", Owner: "bob", Filename: "d.pdf"}
	for _, doc := range []*models.Document{noText, withText, classified, otherOwner} {
		require.NoError(t, storage.SaveDocument(ctx, doc))
	}

	all, err := storage.ListDocumentIDs(ctx, interfaces.DocumentFilter{Owner: "alice", Filter: models.BatchFilterAll})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-notext", "doc-text", "doc-ai"}, all)

	needText, err := storage.ListDocumentIDs(ctx, interfaces.DocumentFilter{Owner: "alice", Filter: models.BatchFilterNoText})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-notext"}, needText)

	needAI, err := storage.ListDocumentIDs(ctx, interfaces.DocumentFilter{Owner: "alice", Filter: models.BatchFilterNoAI})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-text"}, needAI, "no-ai filter requires text and no classification")
}

func TestDocumentStorage_ApplyPatch(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.DocumentStorage()

	doc := &models.Document{ID: "doc-1", Owner: "alice", Filename: "scan.pdf", Tags: []string{"inbox"}}
	require.NoError(t, storage.SaveDocument(ctx, doc))

	text := "extracted text"
	pages := 3
	docType := "invoice"
	updated, err := storage.ApplyPatch(ctx, "doc-1", &models.DocumentPatch{
		ContentText:  &text,
		PageCount:    &pages,
		DocumentType: &docType,
		Tags:         []string{"invoice", "inbox"},
	})
	require.NoError(t, err)

	assert.Equal(t, "extracted text", updated.ContentText)
	assert.Equal(t, 3, updated.PageCount)
	assert.NotNil(t, updated.ProcessedAt)
	assert.Equal(t, []string{"inbox", "invoice"}, updated.Tags, "tags merge without duplicates")

	// Empty patch is a no-op
	same, err := storage.ApplyPatch(ctx, "doc-1", &models.DocumentPatch{})
	require.NoError(t, err)
	assert.Equal(t, updated.ContentText, same.ContentText)
}

func TestDocumentStorage_SoftDelete(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.DocumentStorage()

	doc := &models.Document{ID: "doc-1", Owner: "alice", Filename: "scan.pdf"}
	require.NoError(t, storage.SaveDocument(ctx, doc))
	require.NoError(t, storage.DeleteDocument(ctx, "doc-1"))

	_, err := storage.GetDocument(ctx, "doc-1")
	assert.Error(t, err)

	ids, err := storage.ListDocumentIDs(ctx, interfaces.DocumentFilter{Owner: "alice", Filter: models.BatchFilterAll})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBatchStorage_RoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.BatchStorage()

	run := models.NewBatchRun("run-1", "alice", models.JobKindExtract, models.BatchFilterAll, 5)
	run.Succeeded = 3
	run.Errors = append(run.Errors, models.BatchError{Document: "a.pdf", Error: "unreadable"})
	require.NoError(t, storage.SaveRun(ctx, run))

	loaded, err := storage.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Succeeded)
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, "a.pdf", loaded.Errors[0].Document)

	_, err = storage.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestKVStorage_RoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()
	storage := manager.KeyValueStorage()

	require.NoError(t, storage.Set(ctx, "engine.mode", "normal"))

	value, err := storage.Get(ctx, "engine.mode")
	require.NoError(t, err)
	assert.Equal(t, "normal", value)

	require.NoError(t, storage.Delete(ctx, "engine.mode"))
	_, err = storage.Get(ctx, "engine.mode")
	assert.Error(t, err)
}
