// Package stream fans incident lifecycle events out to live watchers. The
// Broker is an extension: registered with the engine it receives every
// lifecycle hook and publishes an Event on the topics it belongs to. The
// HTTP API serves a topic over a websocket.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"

	// Workflow events.
	EventWorkflowStarted   EventType = "workflow.started"
	EventStepCompleted     EventType = "workflow.step_completed"
	EventStepFailed        EventType = "workflow.step_failed"
	EventSuspended         EventType = "workflow.suspended"
	EventResumed           EventType = "workflow.resumed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"

	// Incident events.
	EventIncidentStale  EventType = "incident.stale"
	EventIncidentClosed EventType = "incident.closed"
	EventClosureRefused EventType = "incident.closure_refused"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// JobEventData is the payload of job events.
type JobEventData struct {
	JobID      string `json:"job_id"`
	JobName    string `json:"job_name"`
	IncidentID string `json:"incident_id,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	NextRunAt  string `json:"next_run_at,omitempty"`
}

// WorkflowEventData is the payload of workflow events.
type WorkflowEventData struct {
	IncidentID string `json:"incident_id"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	Revision   int64  `json:"revision"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Token      string `json:"token,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IncidentEventData is the payload of closure events.
type IncidentEventData struct {
	IncidentID string `json:"incident_id"`
	ByOperator bool   `json:"by_operator,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// CronEventData is the payload of cron events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
}
