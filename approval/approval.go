// Package approval defines human approval questions, the correlation id
// that ties a question to its answer, and the gateway and store contracts.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind is the shape of answer a question expects.
type Kind string

const (
	// KindYesNo expects "yes" or "no".
	KindYesNo Kind = "yesno"
	// KindAsk expects free text.
	KindAsk Kind = "ask"
)

// Answers accepted for KindYesNo questions.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// DefaultPrompt is the question text shown for a remediation command.
const DefaultPrompt = "Do you want to execute this command?"

const correlationSep = "_id_"

// CorrelationID returns the token linking a task's approval question and
// execution callback to the incident.
func CorrelationID(incidentID, taskID string) string {
	return incidentID + correlationSep + taskID
}

// ParseCorrelationID splits a correlation id into incident and task ids.
func ParseCorrelationID(correlationID string) (incidentID, taskID string, err error) {
	i := strings.LastIndex(correlationID, correlationSep)
	if i <= 0 || i+len(correlationSep) >= len(correlationID) {
		return "", "", fmt.Errorf("approval: malformed correlation id %q", correlationID)
	}
	return correlationID[:i], correlationID[i+len(correlationSep):], nil
}

// Question is one human-gated command.
type Question struct {
	ID            string     `json:"id" bson:"_id"`
	IncidentID    string     `json:"incident_id" bson:"incident_id"`
	TaskID        string     `json:"task_id" bson:"task_id"`
	CorrelationID string     `json:"correlation_id" bson:"correlation_id"`
	ThreadID      string     `json:"thread_id,omitempty" bson:"thread_id,omitempty"`
	Kind          Kind       `json:"kind" bson:"kind"`
	Text          string     `json:"text" bson:"text"`
	Response      *string    `json:"response,omitempty" bson:"response,omitempty"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty" bson:"sent_at,omitempty"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty" bson:"answered_at,omitempty"`
}

// Answered reports whether a response has been recorded.
func (q *Question) Answered() bool { return q.Response != nil }

// Approved reports whether the recorded response is a yes.
func (q *Question) Approved() bool {
	return q.Response != nil && strings.EqualFold(*q.Response, AnswerYes)
}

// Gateway relays questions to a human channel. The answer arrives later
// through the engine's approval callback keyed by the same correlation id.
type Gateway interface {
	Ask(ctx context.Context, correlationID, threadID, text string) error
}

// Store defines the persistence contract for questions.
type Store interface {
	// CreateQuestion persists a new question. A second question for the
	// same task or correlation id yields manager.ErrQuestionExists.
	CreateQuestion(ctx context.Context, q *Question) error

	// GetQuestion retrieves a question by ID.
	GetQuestion(ctx context.Context, questionID string) (*Question, error)

	// GetQuestionByTask retrieves the question governing a task.
	GetQuestionByTask(ctx context.Context, taskID string) (*Question, error)

	// GetQuestionByCorrelation retrieves a question by correlation id.
	GetQuestionByCorrelation(ctx context.Context, correlationID string) (*Question, error)

	// MarkQuestionSent records when the question reached the gateway.
	MarkQuestionSent(ctx context.Context, questionID string, at time.Time) error

	// SetQuestionResponse records the answer. The write is conditional on
	// no answer being present; otherwise manager.ErrQuestionAnswered.
	SetQuestionResponse(ctx context.Context, questionID, response string) error

	// ListQuestionsByIncident returns an incident's questions.
	ListQuestionsByIncident(ctx context.Context, incidentID string) ([]*Question, error)
}
