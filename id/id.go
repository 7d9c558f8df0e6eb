// Package id defines prefix-qualified identifiers for every entity the
// engine creates itself.
//
// IDs are K-sortable (UUIDv7-based), globally unique and URL-safe in the
// format "prefix_suffix". Incident identifiers may also come from the
// detecting system, so domain records store IDs as plain strings and use
// this package only to mint new ones.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for all entity types.
const (
	PrefixIncident Prefix = "inc"
	PrefixTask     Prefix = "task"
	PrefixBatch    Prefix = "batch"
	PrefixQuestion Prefix = "qst"
	PrefixJob      Prefix = "job"
	PrefixWorker   Prefix = "wkr"
)

// ID is a prefix-qualified, sortable identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	inner  uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is invalid (programming error).
func New(prefix Prefix) ID {
	if err := validPrefix(prefix); err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate: %v", err))
	}
	return ID{prefix: prefix, inner: u, valid: true}
}

// Parse parses an ID string (e.g. "task_0190b2c3d4e57f8a9b0c1d2e3f405162").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	prefix, suffix, ok := strings.Cut(s, "_")
	if !ok {
		return Nil, fmt.Errorf("id: parse %q: missing prefix separator", s)
	}
	if err := validPrefix(Prefix(prefix)); err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if len(suffix) != 32 {
		return Nil, fmt.Errorf("id: parse %q: suffix must be 32 hex characters", s)
	}
	u, err := uuid.Parse(suffix)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(prefix), inner: u, valid: true}, nil
}

// ParseWithPrefix parses an ID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func validPrefix(p Prefix) error {
	if p == "" {
		return fmt.Errorf("empty prefix")
	}
	for _, r := range p {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("prefix must be lowercase ascii letters")
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// JobID identifies a resumption job (prefix: "job").
type JobID = ID

// WorkerID identifies a worker pool (prefix: "wkr").
type WorkerID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewJobID generates a new unique job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// ParseJobID parses a string and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// NewIncident returns a fresh incident identifier string.
func NewIncident() string { return New(PrefixIncident).String() }

// NewTask returns a fresh task identifier string.
func NewTask() string { return New(PrefixTask).String() }

// NewBatch returns a fresh batch identifier string.
func NewBatch() string { return New(PrefixBatch).String() }

// NewQuestion returns a fresh question identifier string.
func NewQuestion() string { return New(PrefixQuestion).String() }

// Generator mints string identifiers for a prefix. Components that create
// records accept one so tests can supply deterministic IDs.
type Generator func(Prefix) string

// Generate is the default Generator.
func Generate(p Prefix) string { return New(p).String() }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return string(i.prefix) + "_" + strings.ReplaceAll(i.inner.String(), "-", "")
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return i.prefix
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Returns nil for the Nil ID so optional
// columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
