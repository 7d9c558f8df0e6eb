package chathook

// Events this extension reports. Each corresponds to one ext lifecycle
// hook.
const (
	EventStepFailed     = "step.failed"
	EventWorkflowFailed = "workflow.failed"
	EventIncidentStale  = "incident.stale"
	EventClosureRefused = "closure.refused"
)

// AllEvents returns every event this extension can report.
func AllEvents() []string {
	return []string{
		EventStepFailed,
		EventWorkflowFailed,
		EventIncidentStale,
		EventClosureRefused,
	}
}
