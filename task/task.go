// Package task defines diagnostic and remediation tasks, the batches they
// are dispatched in, and the store contract.
//
// A task's approval state moves through
//
//	created → approved | rejected | human
//	approved → in_progress → completed
//
// Diagnostic tasks start approved; remediation tasks start created and
// wait on a human answer.
package task

import (
	"context"
	"time"
	"unicode/utf8"

	manager "github.com/bprzybys-nc/manager-sub001"
)

// State is the approval and execution state of a task.
type State string

const (
	StateCreated    State = "created"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateHuman      State = "human"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// Kind selects the interpreter a command runs under.
type Kind string

const (
	KindShell Kind = "shell"
	KindPSQL  Kind = "psql"
)

// Purpose separates diagnostic tasks from remediation tasks.
type Purpose string

const (
	PurposeDebug Purpose = "debug"
	PurposeFix   Purpose = "fix"
)

// Comment is a free-text note attached to a task.
type Comment struct {
	Author    string    `json:"author" bson:"author"`
	Text      string    `json:"text" bson:"text"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Task is one diagnostic or remediation command.
type Task struct {
	manager.Entity `bson:",inline"`

	ID         string    `json:"id" bson:"_id"`
	IncidentID string    `json:"incident_id" bson:"incident_id"`
	InstanceID string    `json:"instance_id" bson:"instance_id"`
	BatchID    string    `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	Kind       Kind      `json:"kind" bson:"kind"`
	Purpose    Purpose   `json:"purpose" bson:"purpose"`
	Command    string    `json:"command" bson:"command"`
	Platform   string    `json:"platform" bson:"platform"`
	Reason     string    `json:"reason,omitempty" bson:"reason,omitempty"`
	State      State     `json:"state" bson:"state"`
	Output     *string   `json:"output,omitempty" bson:"output,omitempty"`
	Comments   []Comment `json:"comments,omitempty" bson:"comments,omitempty"`
}

// Batch groups tasks dispatched together. Visible is cleared exactly once,
// when a consumer claims the batch.
type Batch struct {
	ID         string    `json:"id" bson:"_id"`
	IncidentID string    `json:"incident_id" bson:"incident_id"`
	TaskIDs    []string  `json:"task_ids" bson:"task_ids"`
	Visible    bool      `json:"visible" bson:"visible"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// TruncationMarker is appended to outputs cut at the size ceiling.
const TruncationMarker = "\n\n[OUTPUT TRUNCATED DUE TO SIZE LIMITS]"

// DefaultMaxOutputBytes is the output ceiling used when none is configured.
const DefaultMaxOutputBytes = 15 * 1024 * 1024

// Truncate cuts output to at most maxBytes bytes on a rune boundary and
// appends TruncationMarker. Outputs within the ceiling are returned as is.
func Truncate(output string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	if len(output) <= maxBytes {
		return output
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + TruncationMarker
}

// Store defines the persistence contract for tasks and batches.
type Store interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// ListTasksByIncident returns an incident's tasks in creation order,
	// optionally filtered to the given states.
	ListTasksByIncident(ctx context.Context, incidentID string, states ...State) ([]*Task, error)

	// ListTasksByBatch returns the tasks belonging to a batch.
	ListTasksByBatch(ctx context.Context, batchID string) ([]*Task, error)

	// UpdateTaskState sets a task's state.
	UpdateTaskState(ctx context.Context, taskID string, state State) error

	// AddTaskOutput records a task's output and marks it completed. The
	// caller truncates the output before persisting it.
	AddTaskOutput(ctx context.Context, taskID, output string) error

	// AddTaskComment appends a comment to a task.
	AddTaskComment(ctx context.Context, taskID string, c Comment) error

	// CreateBatch persists a new, visible batch.
	CreateBatch(ctx context.Context, b *Batch) error

	// GetBatch retrieves a batch by ID.
	GetBatch(ctx context.Context, batchID string) (*Batch, error)

	// GetVisibleBatch returns the oldest unclaimed batch of an incident,
	// or manager.ErrBatchNotFound when none is visible.
	GetVisibleBatch(ctx context.Context, incidentID string) (*Batch, error)

	// HideBatch claims a batch by clearing its visible flag. The write is
	// conditional; a batch that is already hidden yields
	// manager.ErrBatchClaimed.
	HideBatch(ctx context.Context, incidentID, batchID string) error
}
