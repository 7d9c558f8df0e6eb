package manager

import "time"

// Config holds configuration for the Manager.
type Config struct {
	// Concurrency is the maximum number of resumption jobs processed
	// concurrently across all incidents.
	Concurrency int

	// Queues is the list of queues the worker pool polls.
	Queues []string

	// PollInterval is how often to poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stale and handed back to the queue.
	StaleJobThreshold time.Duration

	// ExecutionWaitTimeout bounds how long an incident may wait on a
	// diagnostic or remediation batch before it is flagged stale.
	ExecutionWaitTimeout time.Duration

	// ApprovalWaitTimeout bounds how long an incident may wait on a human
	// answer before it is flagged stale.
	ApprovalWaitTimeout time.Duration

	// StaleSweepSchedule is the cron expression for the stale sweep.
	StaleSweepSchedule string

	// OracleAttempts is how many times a decision call is attempted before
	// the workflow is aborted.
	OracleAttempts int

	// OracleRateLimit caps decision calls per second. Zero disables it.
	OracleRateLimit float64

	// MaxOutputBytes is the ceiling for a persisted command output.
	MaxOutputBytes int

	// MinDiagnostics refuses closure while an incident has fewer tasks.
	// Zero disables the check.
	MinDiagnostics int

	// AdvancedDiagnostics enables the second, advanced diagnostic pass
	// after an inconclusive first interpretation.
	AdvancedDiagnostics bool

	// CallbackURL is handed to the execution dispatcher as the address
	// agents report batch results to.
	CallbackURL string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          10,
		Queues:               []string{"default"},
		PollInterval:         1 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		StaleJobThreshold:    30 * time.Second,
		ExecutionWaitTimeout: 30 * time.Minute,
		ApprovalWaitTimeout:  24 * time.Hour,
		StaleSweepSchedule:   "@every 1m",
		OracleAttempts:       3,
		MaxOutputBytes:       15 * 1024 * 1024,
		AdvancedDiagnostics:  true,
	}
}
