package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/bprzybys-nc/manager-sub001/job"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got job.BatchCompleted
	def := job.NewDefinition(job.NameBatchCompleted, func(_ context.Context, p job.BatchCompleted) error {
		got = p
		return nil
	})
	job.RegisterDefinition(r, def)

	h, ok := r.Get(job.NameBatchCompleted)
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(job.BatchCompleted{
		IncidentID: "I1",
		BatchID:    "B1",
		Results:    map[string]string{"top -b": "idle 99%"},
	})
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BatchID != "B1" {
		t.Errorf("BatchID = %q, want %q", got.BatchID, "B1")
	}
	if got.Results["top -b"] != "idle 99%" {
		t.Errorf("Results = %v", got.Results)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()
	noop := func(_ context.Context, _ job.ResumeIncident) error { return nil }
	job.RegisterDefinition(r, job.NewDefinition("job-a", noop))
	job.RegisterDefinition(r, job.NewDefinition("job-b", noop))

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "job-a" || names[1] != "job-b" {
		t.Fatalf("Names = %v", names)
	}
}

func TestRegistry_InvalidJSONIsPermanent(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-job", func(_ context.Context, _ job.StartIncident) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	h, _ := r.Get("typed-job")
	err := h(context.Background(), []byte(`{invalid json`))
	if !errors.Is(err, job.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
}

func TestRegistry_Options(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(job.NameStartIncident,
		func(_ context.Context, _ job.StartIncident) error { return nil },
		job.WithQueue("incidents"),
		job.WithMaxRetries(2),
		job.WithTimeout(time.Minute),
	))

	o, ok := r.Options(job.NameStartIncident)
	if !ok {
		t.Fatal("expected options to be recorded")
	}
	if o.Queue != "incidents" || o.MaxRetries != 2 || o.Timeout != time.Minute {
		t.Errorf("Options = %+v", o)
	}
}

func TestRoutingKey(t *testing.T) {
	cases := []struct {
		payload any
		want    string
	}{
		{job.StartIncident{IncidentID: "I1"}, "I1"},
		{job.BatchCompleted{IncidentID: "I2", BatchID: "B"}, "I2"},
		{job.ApprovalAnswered{IncidentID: "I3", CorrelationID: "I3_id_R1"}, "I3"},
		{job.ResumeIncident{IncidentID: "I4"}, "I4"},
		{struct{}{}, ""},
	}
	for _, c := range cases {
		if got := job.RoutingKey(c.payload); got != c.want {
			t.Errorf("RoutingKey(%T) = %q, want %q", c.payload, got, c.want)
		}
	}
}

func TestPermanent_Nil(t *testing.T) {
	if job.Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
