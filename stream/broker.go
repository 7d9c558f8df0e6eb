package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Broker)(nil)
	_ ext.JobEnqueued       = (*Broker)(nil)
	_ ext.JobStarted        = (*Broker)(nil)
	_ ext.JobCompleted      = (*Broker)(nil)
	_ ext.JobFailed         = (*Broker)(nil)
	_ ext.JobRetrying       = (*Broker)(nil)
	_ ext.WorkflowStarted   = (*Broker)(nil)
	_ ext.StepCompleted     = (*Broker)(nil)
	_ ext.StepFailed        = (*Broker)(nil)
	_ ext.Suspended         = (*Broker)(nil)
	_ ext.Resumed           = (*Broker)(nil)
	_ ext.WorkflowCompleted = (*Broker)(nil)
	_ ext.WorkflowFailed    = (*Broker)(nil)
	_ ext.IncidentStale     = (*Broker)(nil)
	_ ext.IncidentClosed    = (*Broker)(nil)
	_ ext.ClosureRefused    = (*Broker)(nil)
	_ ext.CronFired         = (*Broker)(nil)
	_ ext.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle events as an extension and fans them out to
// subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	published atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a subscriber on the given topics. An existing
// subscriber with the same id is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)

	b.mu.Lock()
	old := b.subscribers[subscriberID]
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	if old != nil {
		b.topics.UnsubscribeAll(subscriberID)
		old.Close()
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from every topic and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.mu.Lock()
	sub := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped int64
	for _, sub := range b.subscribers {
		dropped += sub.Dropped()
	}
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: len(b.subscribers),
		TotalPublished:  b.published.Load(),
		TotalDropped:    dropped,
	}
}

// Publish broadcasts an event on every topic it belongs to.
func (b *Broker) Publish(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.published.Add(int64(delivered))
}

func (b *Broker) emit(typ EventType, topic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("stream: marshal event data",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.Publish(&Event{Type: typ, Topic: topic, Data: raw})
}

func jobTopic(j *job.Job) string {
	if j.IncidentID == "" {
		return ""
	}
	return IncidentTopic(j.IncidentID)
}

func jobData(j *job.Job) JobEventData {
	return JobEventData{JobID: j.ID.String(), JobName: j.Name, IncidentID: j.IncidentID}
}

func workflowData(inst *workflow.Instance) WorkflowEventData {
	return WorkflowEventData{
		IncidentID: inst.IncidentID,
		Step:       string(inst.Step),
		Status:     string(inst.Status),
		Revision:   inst.Revision,
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.emit(EventJobEnqueued, jobTopic(j), jobData(j))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.emit(EventJobStarted, jobTopic(j), jobData(j))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := jobData(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.emit(EventJobCompleted, jobTopic(j), d)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	d := jobData(j)
	d.Error = jobErr.Error()
	b.emit(EventJobFailed, jobTopic(j), d)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	d := jobData(j)
	d.Attempt = attempt
	d.NextRunAt = nextRunAt.Format(time.RFC3339)
	b.emit(EventJobRetrying, jobTopic(j), d)
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

func (b *Broker) OnWorkflowStarted(_ context.Context, inst *workflow.Instance) error {
	b.emit(EventWorkflowStarted, IncidentTopic(inst.IncidentID), workflowData(inst))
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, inst *workflow.Instance, step workflow.Step, elapsed time.Duration) error {
	d := workflowData(inst)
	d.Step = string(step)
	d.ElapsedMs = elapsed.Milliseconds()
	b.emit(EventStepCompleted, IncidentTopic(inst.IncidentID), d)
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, inst *workflow.Instance, step workflow.Step, stepErr error) error {
	d := workflowData(inst)
	d.Step = string(step)
	d.Error = stepErr.Error()
	b.emit(EventStepFailed, IncidentTopic(inst.IncidentID), d)
	return nil
}

func (b *Broker) OnSuspended(_ context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error {
	d := workflowData(inst)
	d.Token = sp.Token
	d.Kind = string(sp.Kind)
	b.emit(EventSuspended, IncidentTopic(inst.IncidentID), d)
	return nil
}

func (b *Broker) OnResumed(_ context.Context, inst *workflow.Instance, token string) error {
	d := workflowData(inst)
	d.Token = token
	b.emit(EventResumed, IncidentTopic(inst.IncidentID), d)
	return nil
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, inst *workflow.Instance) error {
	b.emit(EventWorkflowCompleted, IncidentTopic(inst.IncidentID), workflowData(inst))
	return nil
}

func (b *Broker) OnWorkflowFailed(_ context.Context, inst *workflow.Instance, runErr error) error {
	d := workflowData(inst)
	d.Error = runErr.Error()
	b.emit(EventWorkflowFailed, IncidentTopic(inst.IncidentID), d)
	return nil
}

// ── Incident lifecycle hooks ────────────────────────

func (b *Broker) OnIncidentStale(_ context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error {
	d := workflowData(inst)
	d.Token = sp.Token
	d.Kind = string(sp.Kind)
	b.emit(EventIncidentStale, IncidentTopic(inst.IncidentID), d)
	return nil
}

func (b *Broker) OnIncidentClosed(_ context.Context, incidentID string, byOperator bool) error {
	b.emit(EventIncidentClosed, IncidentTopic(incidentID), IncidentEventData{IncidentID: incidentID, ByOperator: byOperator})
	return nil
}

func (b *Broker) OnClosureRefused(_ context.Context, incidentID string, cerr *workflow.ClosureError) error {
	b.emit(EventClosureRefused, IncidentTopic(incidentID), IncidentEventData{
		IncidentID: incidentID,
		Reason:     string(cerr.Reason),
		Detail:     cerr.Detail,
	})
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

func (b *Broker) OnCronFired(_ context.Context, entryName string) error {
	b.emit(EventCronFired, "", CronEventData{EntryName: entryName})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.UnsubscribeAll(id)
		sub.Close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}
