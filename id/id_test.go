package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/bprzybys-nc/manager-sub001/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() string
		prefix string
	}{
		{"JobID", func() string { return id.NewJobID().String() }, "job_"},
		{"WorkerID", func() string { return id.NewWorkerID().String() }, "wkr_"},
		{"Incident", id.NewIncident, "inc_"},
		{"Task", id.NewTask, "task_"},
		{"Batch", id.NewBatch, "batch_"},
		{"Question", id.NewQuestion, "qst_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if strings.Contains(got, "-") {
				t.Errorf("expected no hyphens, got %q", got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.ParseJobID(orig.String())
	if err != nil {
		t.Fatalf("ParseJobID: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip mismatch: %q != %q", parsed, orig)
	}
}

func TestParseWithPrefix_WrongPrefix(t *testing.T) {
	_, err := id.ParseWithPrefix(id.NewWorkerID().String(), id.PrefixJob)
	if err == nil {
		t.Fatal("expected error for mismatched prefix")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "job", "job_", "JOB_0190b2c3d4e57f8a9b0c1d2e3f405162", "job_nothex"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestSortable(t *testing.T) {
	a := id.NewJobID().String()
	b := id.NewJobID().String()
	if a >= b {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	w := wrapper{ID: id.NewWorkerID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID != w.ID {
		t.Errorf("expected %q, got %q", w.ID, out.ID)
	}
}

func TestNil(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("expected nil value, got %v, %v", v, err)
	}
}
