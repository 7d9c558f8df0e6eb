package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLM is a text-completion backend. The openai and gemini subpackages
// provide implementations.
type LLM interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Model is an Oracle backed by an LLM that answers in JSON.
type Model struct {
	llm      LLM
	advanced LLM
}

var _ Oracle = (*Model)(nil)

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithAdvanced sets the backend used for advanced diagnostic passes.
// Defaults to the primary backend.
func WithAdvanced(l LLM) ModelOption {
	return func(m *Model) { m.advanced = l }
}

// NewModel creates an LLM-backed Oracle.
func NewModel(l LLM, opts ...ModelOption) *Model {
	m := &Model{llm: l, advanced: l}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify implements Oracle.
func (m *Model) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	prompt := incidentTags(req.Incident) + interpretationTag(req.Interpretation)
	out, err := complete[Classification](ctx, m.llm, classifyPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	valid := out.Platforms[:0]
	for _, p := range out.Platforms {
		p = Platform(strings.ToLower(string(p)))
		if p.Valid() {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		valid = append(valid, PlatformOther)
	}
	out.Platforms = valid
	return out, nil
}

// Diagnose implements Oracle.
func (m *Model) Diagnose(ctx context.Context, req DiagnoseRequest) (*Diagnosis, error) {
	backend, system := m.llm, diagnosePrompt
	if req.Advanced {
		backend, system = m.advanced, advancedDiagnosePrompt
	}
	prompt := incidentTags(req.Incident) +
		tag("platform", string(req.Platform)) +
		interpretationTag(req.Interpretation) +
		tag("previous_commands", jsonText(req.Previous))
	out, err := complete[Diagnosis](ctx, backend, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	for i := range out.Commands {
		if out.Commands[i].Platform == "" {
			out.Commands[i].Platform = req.Platform
		}
	}
	return out, nil
}

// Interpret implements Oracle.
func (m *Model) Interpret(ctx context.Context, req InterpretRequest) (*Interpretation, error) {
	prompt := incidentTags(req.Incident) + tag("commands", jsonText(req.Results))
	out, err := complete[Interpretation](ctx, m.llm, interpretPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	out.Verdict = normalizeVerdict(out.Verdict)
	for i := range out.Commands {
		out.Commands[i].Verdict = normalizeVerdict(out.Commands[i].Verdict)
	}
	return out, nil
}

// IdentifySource implements Oracle.
func (m *Model) IdentifySource(ctx context.Context, req SourceRequest) (*Sources, error) {
	prompt := incidentTags(req.Incident) + tag("commands", jsonText(req.Results))
	out, err := complete[Sources](ctx, m.llm, sourcePrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("identify source: %w", err)
	}
	return out, nil
}

// Recommend implements Oracle.
func (m *Model) Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error) {
	prompt := incidentTags(req.Incident) +
		tag("commands", jsonText(req.Results)) +
		tag("sources", jsonText(req.Sources))
	out, err := complete[Recommendation](ctx, m.llm, recommendPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	return out, nil
}

// GenerateRemediation implements Oracle.
func (m *Model) GenerateRemediation(ctx context.Context, req RemediationRequest) (*Remediation, error) {
	prompt := incidentTags(req.Incident) +
		tag("commands", jsonText(req.Results)) +
		tag("recommendations", jsonText(req.Recommendation))
	out, err := complete[Remediation](ctx, m.llm, remediationPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate remediation: %w", err)
	}
	return out, nil
}

// SelectPlatform implements Oracle.
func (m *Model) SelectPlatform(ctx context.Context, command string) (Platform, error) {
	out, err := complete[struct {
		Platform Platform `json:"platform"`
	}](ctx, m.llm, platformPrompt, tag("command", command))
	if err != nil {
		return "", fmt.Errorf("select platform: %w", err)
	}
	p := Platform(strings.ToLower(string(out.Platform)))
	if !p.Valid() {
		return PlatformOther, nil
	}
	return p, nil
}

func complete[T any](ctx context.Context, l LLM, system, prompt string) (*T, error) {
	text, err := l.Complete(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	var out T
	if err := DecodeJSON(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeJSON decodes a model answer, tolerating markdown code fences and
// prose around the JSON object.
func DecodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode model answer: %w", err)
	}
	return nil
}

func normalizeVerdict(v Verdict) Verdict {
	switch Verdict(strings.ToUpper(strings.TrimSpace(string(v)))) {
	case VerdictConfirmed:
		return VerdictConfirmed
	case VerdictFalsePositive:
		return VerdictFalsePositive
	default:
		return VerdictInconclusive
	}
}

func incidentTags(inc Incident) string {
	return tag("incident_description", fmt.Sprintf("%s on %s: %s", inc.Type, inc.Hostname, inc.Description)) +
		tag("runtime_description", inc.HostDescription)
}

func interpretationTag(in *Interpretation) string {
	if in == nil {
		return ""
	}
	return tag("previous_interpretation", jsonText(in))
}

func tag(name, body string) string {
	return "<" + name + ">\n" + body + "\n</" + name + ">\n"
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
