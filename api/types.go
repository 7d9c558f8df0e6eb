package api

import (
	"github.com/bprzybys-nc/manager-sub001/stream"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// CreateIncidentRequest is the intake body of POST /v1/incidents.
type CreateIncidentRequest struct {
	ID          string         `json:"id,omitempty"`
	Hostname    string         `json:"hostname"`
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// AcceptedResponse reports the job an accepted request was queued as.
type AcceptedResponse struct {
	IncidentID string `json:"incident_id"`
	JobID      string `json:"job_id"`
}

// ResumeRequest lists the tasks and questions whose results are new.
type ResumeRequest struct {
	TaskIDs     []string `json:"task_ids,omitempty"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

// BatchResultsRequest carries agent outputs keyed by task id.
type BatchResultsRequest struct {
	Results map[string]string `json:"results"`
}

// ApprovalRequest is a human answer to a remediation question.
type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

// CommentRequest is a free-text note on a task.
type CommentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// ClosureRefusedResponse is the 409 body of a refused closure.
type ClosureRefusedResponse struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// WorkflowResponse is an instance with its suspension points.
type WorkflowResponse struct {
	Instance    *workflow.Instance          `json:"instance"`
	Suspensions []*workflow.SuspensionPoint `json:"suspensions"`
}

// JobCountsResponse counts jobs per state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retrying  int64 `json:"retrying"`
}

// CronEntryResponse describes one scheduled entry.
type CronEntryResponse struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Enabled   bool   `json:"enabled"`
	LastRunAt string `json:"last_run_at,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Jobs      JobCountsResponse            `json:"jobs"`
	Queues    map[string]JobCountsResponse `json:"queues,omitempty"`
	Workflows map[workflow.Status]int      `json:"workflows"`
	Stream    stream.BrokerStats           `json:"stream"`
	Worker    WorkerStats                  `json:"worker"`
}

// WorkerStats describes this process's pool.
type WorkerStats struct {
	ID          string `json:"id"`
	Concurrency int    `json:"concurrency"`
}
