package workflow

import (
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/oracle"
)

// Step is a state of the incident workflow.
type Step string

const (
	StepClassify                  Step = "classify"
	StepGenerateDiagnostic        Step = "generate_diagnostic"
	StepExecuteDiagnostic         Step = "execute_diagnostic"
	StepAwaitDiagnosticResult     Step = "await_diagnostic_result"
	StepInterpret                 Step = "interpret"
	StepGenerateRecommendations   Step = "generate_recommendations"
	StepGenerateRemediation       Step = "generate_remediation"
	StepAwaitRemediationApprovals Step = "await_remediation_approvals"
	StepClose                     Step = "close"
	StepTerminal                  Step = "terminal"
)

// Status is the scheduling status of an instance.
type Status string

const (
	// StatusActive instances have runnable work at their current step.
	StatusActive Status = "active"
	// StatusWaiting instances are suspended on an external actor.
	StatusWaiting Status = "waiting"
	// StatusCompleted instances closed their incident.
	StatusCompleted Status = "completed"
	// StatusFailed instances were aborted by a fatal error.
	StatusFailed Status = "failed"
	// StatusRetired instances stopped because the incident became terminal.
	StatusRetired Status = "retired"
)

// Done reports whether the instance will never advance again.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRetired
}

// NoOutput is recorded for a dispatched command the agent reported nothing for.
const NoOutput = "No output"

// RejectedOutput is the result of a remediation command a human declined.
const RejectedOutput = "Rejected"

// Diagnostic is a diagnostic command with its result and verdict.
type Diagnostic struct {
	TaskID      string          `json:"task_id" bson:"task_id"`
	BatchID     string          `json:"batch_id" bson:"batch_id"`
	Command     string          `json:"command" bson:"command"`
	Platform    oracle.Platform `json:"platform" bson:"platform"`
	Reason      string          `json:"reason,omitempty" bson:"reason,omitempty"`
	Pass        int             `json:"pass" bson:"pass"`
	Output      *string         `json:"output,omitempty" bson:"output,omitempty"`
	Verdict     oracle.Verdict  `json:"verdict,omitempty" bson:"verdict,omitempty"`
	Explanation string          `json:"explanation,omitempty" bson:"explanation,omitempty"`
}

// Remediation is a human-gated remediation command.
type Remediation struct {
	TaskID        string          `json:"task_id" bson:"task_id"`
	CorrelationID string          `json:"correlation_id" bson:"correlation_id"`
	Command       string          `json:"command" bson:"command"`
	Platform      oracle.Platform `json:"platform" bson:"platform"`
	Reason        string          `json:"reason,omitempty" bson:"reason,omitempty"`
	Result        *string         `json:"result,omitempty" bson:"result,omitempty"`
}

// Payload is the structured data produced by completed steps.
type Payload struct {
	HostDescription   string                 `json:"host_description,omitempty" bson:"host_description,omitempty"`
	Classification    *oracle.Classification `json:"classification,omitempty" bson:"classification,omitempty"`
	Advanced          bool                   `json:"advanced" bson:"advanced"`
	Passes            int                    `json:"passes" bson:"passes"`
	DiagnosticBatchID string                 `json:"diagnostic_batch_id,omitempty" bson:"diagnostic_batch_id,omitempty"`
	Diagnostics       []Diagnostic           `json:"diagnostics,omitempty" bson:"diagnostics,omitempty"`
	Interpretation    *oracle.Interpretation `json:"interpretation,omitempty" bson:"interpretation,omitempty"`
	Sources           []oracle.Source        `json:"sources,omitempty" bson:"sources,omitempty"`
	Recommendation    *oracle.Recommendation `json:"recommendation,omitempty" bson:"recommendation,omitempty"`
	Remediations      []Remediation          `json:"remediations,omitempty" bson:"remediations,omitempty"`
}

// Instance is the persisted workflow of one incident.
type Instance struct {
	manager.Entity `bson:",inline"`

	IncidentID    string     `json:"incident_id" bson:"_id"`
	Step          Step       `json:"step" bson:"step"`
	Status        Status     `json:"status" bson:"status"`
	Payload       Payload    `json:"payload" bson:"payload"`
	Revision      int64      `json:"revision" bson:"revision"`
	Stale         bool       `json:"stale" bson:"stale"`
	StaleSince    *time.Time `json:"stale_since,omitempty" bson:"stale_since,omitempty"`
	Error         string     `json:"error,omitempty" bson:"error,omitempty"`
	LastResumedAt *time.Time `json:"last_resumed_at,omitempty" bson:"last_resumed_at,omitempty"`
	RetiredAt     *time.Time `json:"retired_at,omitempty" bson:"retired_at,omitempty"`
}

// SuspensionKind distinguishes what a suspension waits for.
type SuspensionKind string

const (
	KindExecutionWait SuspensionKind = "execution_wait"
	KindApprovalWait  SuspensionKind = "approval_wait"
)

// SuspensionPoint is the durable record of what an instance waits for.
// Token is the batch id of an execution wait or the correlation id of an
// approval wait; an approved remediation is dispatched with the
// correlation id as its batch id, so the same point also covers its
// execution.
type SuspensionPoint struct {
	Token             string         `json:"token" bson:"_id"`
	IncidentID        string         `json:"incident_id" bson:"incident_id"`
	Kind              SuspensionKind `json:"kind" bson:"kind"`
	TaskIDs           []string       `json:"task_ids" bson:"task_ids"`
	BatchCreated      bool           `json:"batch_created" bson:"batch_created"`
	Preparing         bool           `json:"preparing" bson:"preparing"`
	Waiting           bool           `json:"waiting" bson:"waiting"`
	ExecutionComplete bool           `json:"execution_complete" bson:"execution_complete"`
	CreatedAt         time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" bson:"updated_at"`
	DispatchedAt      *time.Time     `json:"dispatched_at,omitempty" bson:"dispatched_at,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// Resolved reports whether the suspension has been cleared.
func (s *SuspensionPoint) Resolved() bool { return s.ResolvedAt != nil }
