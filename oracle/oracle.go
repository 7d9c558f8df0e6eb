// Package oracle defines the Decision Oracle consulted at every decision
// step of an incident workflow, its request and response types, a
// retrying wrapper that bounds transient failures, and an LLM-backed
// implementation.
package oracle

import (
	"context"
	"errors"
)

// ErrExhausted is returned once a decision call has failed on every
// permitted attempt. Callers treat it as fatal for the workflow.
var ErrExhausted = errors.New("oracle: attempts exhausted")

// Platform is an execution platform a command targets.
type Platform string

const (
	PlatformLinux     Platform = "linux"
	PlatformPostgres  Platform = "postgres"
	PlatformMySQL     Platform = "mysql"
	PlatformRedshift  Platform = "redshift"
	PlatformOracle    Platform = "oracle"
	PlatformSQLServer Platform = "sql_server"
	PlatformDynamoDB  Platform = "dynamo_db"
	PlatformJava      Platform = "java"
	PlatformOther     Platform = "other"
)

// Platforms lists every known platform.
var Platforms = []Platform{
	PlatformLinux, PlatformPostgres, PlatformMySQL, PlatformRedshift, PlatformOracle,
	PlatformSQLServer, PlatformDynamoDB, PlatformJava, PlatformOther,
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Verdict is an interpretation outcome.
type Verdict string

const (
	VerdictConfirmed     Verdict = "CONFIRMED"
	VerdictFalsePositive Verdict = "FALSE_POSITIVE"
	VerdictInconclusive  Verdict = "INCONCLUSIVE"
)

// Incident is the incident context handed to every decision.
type Incident struct {
	ID              string         `json:"id"`
	Hostname        string         `json:"hostname"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	HostDescription string         `json:"host_description,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// Command is a proposed command.
type Command struct {
	Command  string   `json:"command"`
	Platform Platform `json:"platform,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Result is a command paired with its execution output and, once
// interpreted, its verdict.
type Result struct {
	Command     string   `json:"command"`
	Platform    Platform `json:"platform,omitempty"`
	Output      string   `json:"output"`
	Verdict     Verdict  `json:"verdict,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

type ClassifyRequest struct {
	Incident       Incident        `json:"incident"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
}

type Classification struct {
	Platforms []Platform `json:"platforms"`
	Reason    string     `json:"reason"`
}

// DiagnoseRequest asks for diagnostic commands on one platform. Advanced
// selects the external-knowledge strategy used on the second pass.
type DiagnoseRequest struct {
	Incident       Incident        `json:"incident"`
	Platform       Platform        `json:"platform"`
	Advanced       bool            `json:"advanced"`
	Interpretation *Interpretation `json:"interpretation,omitempty"`
	Previous       []Result        `json:"previous,omitempty"`
}

type Diagnosis struct {
	Commands []Command `json:"commands"`
}

type InterpretRequest struct {
	Incident Incident `json:"incident"`
	Results  []Result `json:"results"`
}

// CommandVerdict is the verdict for a single command, keyed by its text.
type CommandVerdict struct {
	Command     string  `json:"command"`
	Verdict     Verdict `json:"verdict"`
	Explanation string  `json:"explanation"`
}

type Interpretation struct {
	Verdict  Verdict          `json:"verdict"`
	Summary  string           `json:"summary"`
	Commands []CommandVerdict `json:"commands"`
}

type SourceRequest struct {
	Incident Incident `json:"incident"`
	Results  []Result `json:"results"`
}

// Source is a likely origin of the problem (a process, query, job...).
type Source struct {
	Type        string `json:"source_type"`
	Description string `json:"source_description"`
	ID          string `json:"source_id"`
}

type Sources struct {
	Sources []Source `json:"sources"`
}

type RecommendRequest struct {
	Incident Incident `json:"incident"`
	Results  []Result `json:"results"`
	Sources  []Source `json:"sources,omitempty"`
}

type Recommendation struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

type RemediationRequest struct {
	Incident       Incident       `json:"incident"`
	Results        []Result       `json:"results"`
	Recommendation Recommendation `json:"recommendation"`
}

type Remediation struct {
	Commands []Command `json:"commands"`
}

// Oracle is the black-box decision maker. Implementations may be slow;
// the engine calls each decision at most once per completed step.
type Oracle interface {
	Classify(ctx context.Context, req ClassifyRequest) (*Classification, error)
	Diagnose(ctx context.Context, req DiagnoseRequest) (*Diagnosis, error)
	Interpret(ctx context.Context, req InterpretRequest) (*Interpretation, error)
	IdentifySource(ctx context.Context, req SourceRequest) (*Sources, error)
	Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error)
	GenerateRemediation(ctx context.Context, req RemediationRequest) (*Remediation, error)
	SelectPlatform(ctx context.Context, command string) (Platform, error)
}
