package job

// Names of the resumption messages.
const (
	NameStartIncident    = "incident.start"
	NameBatchCompleted   = "batch.completed"
	NameApprovalAnswered = "approval.answered"
	NameResumeIncident   = "incident.resume"
)

// Routed is implemented by payloads that belong to one incident. The
// incident id becomes the job's routing key.
type Routed interface {
	RoutingKey() string
}

// StartIncident starts the workflow of a newly created incident.
type StartIncident struct {
	IncidentID string `json:"incident_id"`
}

func (m StartIncident) RoutingKey() string { return m.IncidentID }

// BatchCompleted carries the outputs of a dispatched batch keyed by
// command text.
type BatchCompleted struct {
	IncidentID string            `json:"incident_id"`
	BatchID    string            `json:"batch_id"`
	Results    map[string]string `json:"results"`
}

func (m BatchCompleted) RoutingKey() string { return m.IncidentID }

// ApprovalAnswered carries a human answer to an approval question.
type ApprovalAnswered struct {
	IncidentID    string `json:"incident_id"`
	CorrelationID string `json:"correlation_id"`
	Approved      bool   `json:"approved"`
}

func (m ApprovalAnswered) RoutingKey() string { return m.IncidentID }

// ResumeIncident asks the engine to re-evaluate an incident, naming the
// tasks and questions that changed.
type ResumeIncident struct {
	IncidentID  string   `json:"incident_id"`
	TaskIDs     []string `json:"task_ids,omitempty"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

func (m ResumeIncident) RoutingKey() string { return m.IncidentID }
