// -----------------------------------------------------------------------
// Reconciler - client-side job tracking that unifies pushed events and
// polled state into one consistent local view
// -----------------------------------------------------------------------

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/httpclient"
	"github.com/ternarybob/scriba/internal/models"
)

// reconnectDelay is deliberately fixed, not exponential: the server being
// briefly away is the common case and event gaps are repaired by polling
const reconnectDelay = 3 * time.Second

// JobView is the reconciler's local state for one tracked job
type JobView struct {
	JobID      string
	DocumentID string
	Label      string
	Kind       models.JobKind
	Status     models.JobStatus
	Progress   int
	Error      string
}

func (v JobView) terminal() bool {
	return v.Status == models.JobStatusCompleted || v.Status == models.JobStatusFailed
}

// Config configures a reconciler against one server
type Config struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
}

// Reconciler tracks jobs the caller started, applies live channel events
// while connected, polls the job store while disconnected, and discovers
// chained jobs it did not start itself.
type Reconciler struct {
	config       Config
	streamClient *http.Client
	apiClient    *http.Client

	mu           sync.Mutex
	tracked      map[string]*JobView
	listeners    map[int]chan JobView
	nextListener int
	connected    bool
	instanceID   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger arbor.ILogger
}

// NewReconciler creates a reconciler. Start must be called before any
// state converges.
func NewReconciler(config Config) *Reconciler {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		config:       config,
		streamClient: httpclient.NewStreamingClient(),
		apiClient:    httpclient.NewBearerClient(httpclient.NewDefaultHTTPClient(10*time.Second), config.Token),
		tracked:      make(map[string]*JobView),
		listeners:    make(map[int]chan JobView),
		ctx:          ctx,
		cancel:       cancel,
		logger:       common.GetLogger(),
	}
}

// Start launches the channel consumer and the poll fallback
func (r *Reconciler) Start() {
	r.wg.Add(2)
	go r.streamLoop()
	go r.pollLoop()
}

// Stop tears down the channel and stops polling
func (r *Reconciler) Stop() {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.listeners {
		close(ch)
		delete(r.listeners, id)
	}
}

// Track registers local interest in a job. The job does not need to be
// visible on the channel yet.
func (r *Reconciler) Track(jobID, documentID, label string) {
	r.mu.Lock()
	if _, exists := r.tracked[jobID]; exists {
		r.mu.Unlock()
		return
	}
	view := &JobView{
		JobID:      jobID,
		DocumentID: documentID,
		Label:      label,
		Status:     models.JobStatusPending,
	}
	r.tracked[jobID] = view
	snapshot := *view
	r.mu.Unlock()

	r.notify(snapshot)
}

// Subscribe returns a channel of view updates plus a release function.
// Any number of local consumers share the reconciler's single channel.
func (r *Reconciler) Subscribe() (<-chan JobView, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextListener
	r.nextListener++
	ch := make(chan JobView, 64)
	r.listeners[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.listeners[id]; ok {
			delete(r.listeners, id)
			close(existing)
		}
	}
}

// Snapshot returns the current state of every tracked job
func (r *Reconciler) Snapshot() []JobView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]JobView, 0, len(r.tracked))
	for _, view := range r.tracked {
		views = append(views, *view)
	}
	return views
}

// Connected reports whether the live channel is currently open
func (r *Reconciler) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// ---------------------------------------------------------------------
// Live channel consumption
// ---------------------------------------------------------------------

func (r *Reconciler) streamLoop() {
	defer r.wg.Done()

	for {
		if err := r.consumeStream(); err != nil && r.ctx.Err() == nil {
			r.logger.Debug().Err(err).Msg("Live channel lost, falling back to polling")
		}
		r.setConnected(false)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (r *Reconciler) consumeStream() error {
	// EventSource cannot set headers, so the server accepts the token as
	// a query parameter; this client does the same for parity
	streamURL := fmt.Sprintf("%s/api/events?token=%s", strings.TrimRight(r.config.BaseURL, "/"), url.QueryEscape(r.config.Token))

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" && data != "" {
				r.handleEvent(eventName, []byte(data))
			}
			eventName, data = "", ""
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		// Comment lines (heartbeat pings) fall through untouched
	}
	return scanner.Err()
}

type wireEvent struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

func (r *Reconciler) handleEvent(name string, data []byte) {
	var event wireEvent
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Warn().Err(err).Str("event", name).Msg("Failed to decode channel event")
		return
	}

	switch event.Type {
	case models.EventConnected:
		r.handleConnected(event.Payload)
	case models.EventJobStarted, models.EventJobProgress, models.EventJobCompleted, models.EventJobFailed:
		var payload models.JobEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		r.applyJobState(payload.JobID, payload.DocumentID, payload.Kind, payload.Status, payload.Progress, payload.Error)
	}
	// Batch and document events carry no per-job state to reconcile
}

func (r *Reconciler) handleConnected(payload json.RawMessage) {
	var connected models.ConnectedEventPayload
	if err := json.Unmarshal(payload, &connected); err != nil {
		return
	}

	r.mu.Lock()
	restarted := r.instanceID != "" && r.instanceID != connected.ServerInstanceID
	r.instanceID = connected.ServerInstanceID
	r.connected = true
	r.mu.Unlock()

	// Events published while disconnected are gone; re-fetch authoritative
	// state for everything still in flight. A changed instance id means the
	// server restarted and in-memory state was rebuilt from the store.
	if restarted {
		r.logger.Info().Str("instance_id", connected.ServerInstanceID).Msg("Server restart detected")
	}
	r.pollTracked()
}

// ---------------------------------------------------------------------
// Poll fallback
// ---------------------------------------------------------------------

func (r *Reconciler) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.Connected() {
				continue
			}
			r.pollTracked()
		}
	}
}

func (r *Reconciler) pollTracked() {
	r.mu.Lock()
	pending := make([]JobView, 0, len(r.tracked))
	for _, view := range r.tracked {
		if !view.terminal() {
			pending = append(pending, *view)
		}
	}
	r.mu.Unlock()

	for _, view := range pending {
		job, err := r.fetchJob(view.JobID)
		if err != nil {
			r.logger.Debug().Err(err).Str("job_id", view.JobID).Msg("Job poll failed")
			continue
		}
		r.applyJobState(job.ID, job.DocumentID, job.Kind, job.Status, job.Progress, job.Error)
	}
}

func (r *Reconciler) fetchJob(jobID string) (*models.Job, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet,
		fmt.Sprintf("%s/api/jobs/%s", strings.TrimRight(r.config.BaseURL, "/"), jobID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job fetch returned status %d", resp.StatusCode)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ---------------------------------------------------------------------
// State application
// ---------------------------------------------------------------------

// applyJobState merges one authoritative job observation into the local
// view. Events carry full state, so a duplicate or out-of-order apply
// converges to the same result.
func (r *Reconciler) applyJobState(jobID, documentID string, kind models.JobKind, status models.JobStatus, progress int, errMsg string) {
	r.mu.Lock()
	view, ok := r.tracked[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}

	wasCompleted := view.Status == models.JobStatusCompleted
	view.DocumentID = documentID
	view.Kind = kind
	view.Status = status
	view.Error = errMsg
	if progress > view.Progress || status == models.JobStatusPending {
		view.Progress = progress
	}
	snapshot := *view
	label := view.Label
	r.mu.Unlock()

	r.notify(snapshot)

	if !wasCompleted && status == models.JobStatusCompleted {
		r.discoverFollowOn(documentID, label)
	}
}

// discoverFollowOn picks up chained jobs the server enqueued on this
// document that this client never started, and tracks them under the
// same label
func (r *Reconciler) discoverFollowOn(documentID, label string) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet,
		fmt.Sprintf("%s/api/jobs/by-document/%s", strings.TrimRight(r.config.BaseURL, "/"), documentID), nil)
	if err != nil {
		return
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("document_id", documentID).Msg("Follow-on discovery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var result struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return
	}

	for _, job := range result.Jobs {
		r.Track(job.ID, job.DocumentID, label)
		r.applyJobState(job.ID, job.DocumentID, job.Kind, job.Status, job.Progress, job.Error)
	}
}

func (r *Reconciler) setConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()
}

func (r *Reconciler) notify(view JobView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.listeners {
		select {
		case ch <- view:
		default:
			// Listener not keeping up; it can recover from Snapshot
		}
	}
}
