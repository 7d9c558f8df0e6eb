package chathook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.StepFailed     = (*Extension)(nil)
	_ ext.WorkflowFailed = (*Extension)(nil)
	_ ext.IncidentStale  = (*Extension)(nil)
	_ ext.ClosureRefused = (*Extension)(nil)
)

// Incidents looks up the thread an incident is narrated in.
type Incidents interface {
	GetIncident(ctx context.Context, incidentID string) (*incident.Incident, error)
}

// Extension posts operator-facing notices for workflow trouble.
type Extension struct {
	channel   chat.Channel
	incidents Incidents
	enabled   map[string]bool // nil = all enabled
	logger    *slog.Logger
}

// New creates an Extension posting through channel.
func New(channel chat.Channel, incidents Incidents, opts ...Option) *Extension {
	e := &Extension{
		channel:   channel,
		incidents: incidents,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "chat-hook" }

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, inst *workflow.Instance, step workflow.Step, stepErr error) error {
	msg := chat.Message{}.
		Add(chat.Bold, "Step failed: ").
		Add(chat.Code, string(step)).
		Line("").
		Add(chat.Italic, stepErr.Error())
	return e.post(ctx, EventStepFailed, inst.IncidentID, msg)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, runErr error) error {
	msg := chat.Message{}.
		Add(chat.Bold, "Automated handling stopped").
		Add(chat.Plain, " at step ").
		Add(chat.Code, string(inst.Step)).
		Line(". The incident stays open for an operator.").
		Add(chat.CodeBlock, runErr.Error())
	return e.post(ctx, EventWorkflowFailed, inst.IncidentID, msg)
}

// OnIncidentStale implements ext.IncidentStale.
func (e *Extension) OnIncidentStale(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error {
	what := "command execution"
	if sp.Kind == workflow.KindApprovalWait && sp.DispatchedAt == nil {
		what = "an approval"
	}
	since := sp.CreatedAt
	if sp.DispatchedAt != nil {
		since = *sp.DispatchedAt
	}
	msg := chat.Message{}.
		Add(chat.Bold, "Incident needs attention").
		Add(chat.Plain, fmt.Sprintf(": waiting on %s since %s for ", what, since.Format(time.RFC3339))).
		Add(chat.Code, sp.Token)
	return e.post(ctx, EventIncidentStale, inst.IncidentID, msg)
}

// OnClosureRefused implements ext.ClosureRefused.
func (e *Extension) OnClosureRefused(ctx context.Context, incidentID string, cerr *workflow.ClosureError) error {
	if cerr.Reason == workflow.ReasonIncidentNotFound {
		return nil
	}
	msg := chat.Message{}.
		Add(chat.Bold, "Closure refused: ").
		Add(chat.Code, string(cerr.Reason)).
		Add(chat.Plain, " ").
		Add(chat.Italic, cerr.Detail)
	return e.post(ctx, EventClosureRefused, incidentID, msg)
}

// post sends msg into the incident's thread if the event is enabled.
// Failures are logged; a notice never fails the operation that raised it.
func (e *Extension) post(ctx context.Context, event, incidentID string, msg chat.Message) error {
	if e.enabled != nil && !e.enabled[event] {
		return nil
	}

	inc, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		e.logger.Warn("chat_hook: failed to load incident",
			slog.String("event", event),
			slog.String("incident_id", incidentID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if _, err := e.channel.Post(ctx, inc.ThreadID, msg); err != nil {
		e.logger.Warn("chat_hook: failed to post notice",
			slog.String("event", event),
			slog.String("incident_id", incidentID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
