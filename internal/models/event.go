package models

import (
	"time"
)

// EventType names a progress event on the live channel
type EventType string

const (
	EventConnected EventType = "connected"

	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"

	EventDocumentUpdated EventType = "document.updated"

	EventBatchProgress  EventType = "batch.progress"
	EventBatchCompleted EventType = "batch.completed"
	EventBatchCancelled EventType = "batch.cancelled"
)

// Event is an immutable fact published at a state transition. Payloads carry
// full current state, never deltas, so duplicate or reordered delivery cannot
// corrupt a subscriber's view.
type Event struct {
	Type      EventType   `json:"type"`
	Owner     string      `json:"-"` // Routing key only, never serialized to clients
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent creates an event routed to one owner's subscribers
func NewEvent(eventType EventType, owner string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Owner:     owner,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// JobEventPayload is the full job snapshot published on job transitions
type JobEventPayload struct {
	JobID      string                 `json:"job_id"`
	DocumentID string                 `json:"document_id"`
	Kind       JobKind                `json:"kind"`
	Status     JobStatus              `json:"status"`
	Progress   int                    `json:"progress"`
	Error      string                 `json:"error,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	CausedBy   string                 `json:"caused_by,omitempty"`
}

// JobPayload builds the event payload from a job's current state
func JobPayload(job *Job) JobEventPayload {
	return JobEventPayload{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Kind:       job.Kind,
		Status:     job.Status,
		Progress:   job.Progress,
		Error:      job.Error,
		Result:     job.Result,
		CausedBy:   job.CausedBy,
	}
}

// BatchEventPayload is the full counter snapshot published on batch transitions
type BatchEventPayload struct {
	RunID           string       `json:"run_id"`
	Kind            JobKind      `json:"kind"`
	Status          BatchStatus  `json:"status"`
	Total           int          `json:"total"`
	Current         int          `json:"current"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	Skipped         int          `json:"skipped"`
	CurrentDocument string       `json:"current_document,omitempty"`
	Paused          bool         `json:"paused"`
	StatusText      string       `json:"status_text,omitempty"`
	Errors          []BatchError `json:"errors,omitempty"`
}

// BatchPayload builds the event payload from a run's current state
func BatchPayload(run *BatchRun, statusText string) BatchEventPayload {
	return BatchEventPayload{
		RunID:           run.ID,
		Kind:            run.Kind,
		Status:          run.Status,
		Total:           run.Total,
		Current:         run.Current,
		Succeeded:       run.Succeeded,
		Failed:          run.Failed,
		Skipped:         run.Skipped,
		CurrentDocument: run.CurrentDocument,
		Paused:          run.Paused,
		StatusText:      statusText,
		Errors:          run.Errors,
	}
}

// DocumentEventPayload announces a metadata write performed by a job
type DocumentEventPayload struct {
	DocumentID      string   `json:"document_id"`
	AIGeneratedName string   `json:"ai_generated_name,omitempty"`
	DocumentType    string   `json:"document_type,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	HasText         bool     `json:"has_text"`
}

// ConnectedEventPayload is sent once when a live channel opens
type ConnectedEventPayload struct {
	ServerInstanceID string `json:"server_instance_id"`
}
