package mongo

import (
	"fmt"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

// jobModel is the document shape of a job. Typed ids are stored as their
// string form.
type jobModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Queue       string     `bson:"queue"`
	IncidentID  string     `bson:"incident_id"`
	Payload     []byte     `bson:"payload"`
	State       string     `bson:"state"`
	Priority    int        `bson:"priority"`
	MaxRetries  int        `bson:"max_retries"`
	RetryCount  int        `bson:"retry_count"`
	LastError   string     `bson:"last_error"`
	WorkerID    string     `bson:"worker_id"`
	RunAt       time.Time  `bson:"run_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	HeartbeatAt *time.Time `bson:"heartbeat_at,omitempty"`
	Timeout     int64      `bson:"timeout"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		Name:        j.Name,
		Queue:       j.Queue,
		IncidentID:  j.IncidentID,
		Payload:     j.Payload,
		State:       string(j.State),
		Priority:    j.Priority,
		MaxRetries:  j.MaxRetries,
		RetryCount:  j.RetryCount,
		LastError:   j.LastError,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		Timeout:     j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: manager.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Queue:       m.Queue,
		IncidentID:  m.IncidentID,
		Payload:     m.Payload,
		State:       job.State(m.State),
		Priority:    m.Priority,
		MaxRetries:  m.MaxRetries,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		RunAt:       m.RunAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
	}

	if m.WorkerID != "" {
		if w, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			j.WorkerID = w
		}
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*job.Job, error) {
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
