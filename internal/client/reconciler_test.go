package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/handlers"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/services/auth"
	"github.com/ternarybob/scriba/internal/services/events"
)

// testBackend is a minimal server exposing the event stream and the job
// lookup endpoints the reconciler depends on
type testBackend struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	broadcaster *events.Broadcaster
	server      *httptest.Server
	token       string
}

func newTestBackend(t *testing.T, withStream bool) *testBackend {
	t.Helper()

	authSvc, err := auth.NewService("reconciler-test-secret", time.Hour)
	require.NoError(t, err)
	token, err := authSvc.IssueToken("alice", false)
	require.NoError(t, err)

	backend := &testBackend{
		jobs:        make(map[string]*models.Job),
		broadcaster: events.NewBroadcaster(16),
		token:       token,
	}
	t.Cleanup(backend.broadcaster.Close)

	eventsHandler := handlers.NewEventsHandler(backend.broadcaster, authSvc, &common.EventsConfig{
		HeartbeatInterval: "200ms",
		ProgressThrottle:  "1ms",
	})

	mux := http.NewServeMux()
	if withStream {
		mux.HandleFunc("/api/events", eventsHandler.StreamHandler)
	} else {
		mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		})
	}
	mux.HandleFunc("/api/jobs/by-document/", func(w http.ResponseWriter, r *http.Request) {
		documentID := strings.TrimPrefix(r.URL.Path, "/api/jobs/by-document/")
		backend.mu.Lock()
		var active []*models.Job
		for _, job := range backend.jobs {
			if job.DocumentID == documentID && job.IsActive() {
				active = append(active, job)
			}
		}
		backend.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"document_id": documentID, "jobs": active})
	})
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		backend.mu.Lock()
		job, ok := backend.jobs[jobID]
		backend.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	})

	backend.server = httptest.NewServer(mux)
	t.Cleanup(backend.server.Close)

	return backend
}

func (b *testBackend) putJob(job *models.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = job
}

func (b *testBackend) publishJob(eventType models.EventType, job *models.Job) {
	b.broadcaster.Publish(models.NewEvent(eventType, job.Owner, models.JobPayload(job)))
}

func newTestReconciler(t *testing.T, backend *testBackend) *Reconciler {
	t.Helper()
	reconciler := NewReconciler(Config{
		BaseURL:      backend.server.URL,
		Token:        backend.token,
		PollInterval: 50 * time.Millisecond,
	})
	reconciler.Start()
	t.Cleanup(reconciler.Stop)
	return reconciler
}

func awaitView(t *testing.T, r *Reconciler, jobID string, check func(JobView) bool) JobView {
	t.Helper()
	var last JobView
	require.Eventually(t, func() bool {
		for _, view := range r.Snapshot() {
			if view.JobID == jobID {
				last = view
				if check(view) {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "job %s never reached expected state, last: %+v", jobID, last)
	return last
}

func TestReconciler_AppliesChannelEvents(t *testing.T) {
	backend := newTestBackend(t, true)
	reconciler := newTestReconciler(t, backend)

	require.Eventually(t, reconciler.Connected, 5*time.Second, 20*time.Millisecond)

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	backend.putJob(job)
	reconciler.Track(job.ID, job.DocumentID, "Upload processing")

	job.MarkStarted()
	backend.publishJob(models.EventJobStarted, job)
	job.SetProgress(40)
	backend.publishJob(models.EventJobProgress, job)

	view := awaitView(t, reconciler, "job-1", func(v JobView) bool {
		return v.Status == models.JobStatusProcessing && v.Progress >= 40
	})
	assert.Equal(t, "Upload processing", view.Label)
}

func TestReconciler_FollowOnDiscovery(t *testing.T) {
	backend := newTestBackend(t, true)
	reconciler := newTestReconciler(t, backend)

	require.Eventually(t, reconciler.Connected, 5*time.Second, 20*time.Millisecond)

	extract := models.NewJob("job-extract", "doc-1", "alice", models.JobKindExtract)
	backend.putJob(extract)
	reconciler.Track(extract.ID, extract.DocumentID, "Upload processing")

	// Chained classify job exists server-side before completion is announced
	classify := models.NewJob("job-classify", "doc-1", "alice", models.JobKindClassify)
	classify.CausedBy = extract.ID
	backend.putJob(classify)

	extract.MarkStarted()
	extract.MarkCompleted(map[string]interface{}{"text_extracted": true})
	backend.publishJob(models.EventJobCompleted, extract)

	view := awaitView(t, reconciler, "job-classify", func(v JobView) bool {
		return v.Kind == models.JobKindClassify
	})
	assert.Equal(t, "Upload processing", view.Label, "chained job inherits the tracking label")
}

func TestReconciler_PollFallback(t *testing.T) {
	backend := newTestBackend(t, false)
	reconciler := newTestReconciler(t, backend)

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	job.MarkStarted()
	backend.putJob(job)
	reconciler.Track(job.ID, job.DocumentID, "Offline view")

	awaitView(t, reconciler, "job-1", func(v JobView) bool {
		return v.Status == models.JobStatusProcessing
	})
	assert.False(t, reconciler.Connected())

	backend.mu.Lock()
	job.SetProgress(100)
	job.MarkCompleted(nil)
	backend.mu.Unlock()

	awaitView(t, reconciler, "job-1", func(v JobView) bool {
		return v.Status == models.JobStatusCompleted
	})
}

func TestReconciler_FanOutToListeners(t *testing.T) {
	backend := newTestBackend(t, true)
	reconciler := newTestReconciler(t, backend)

	require.Eventually(t, reconciler.Connected, 5*time.Second, 20*time.Millisecond)

	first, releaseFirst := reconciler.Subscribe()
	defer releaseFirst()
	second, releaseSecond := reconciler.Subscribe()
	defer releaseSecond()

	job := models.NewJob("job-1", "doc-1", "alice", models.JobKindExtract)
	backend.putJob(job)
	reconciler.Track(job.ID, job.DocumentID, "Shared view")

	for name, ch := range map[string]<-chan JobView{"first": first, "second": second} {
		select {
		case view := <-ch:
			assert.Equal(t, "job-1", view.JobID, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s listener received no update", name)
		}
	}
}
