package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/oracle"
)

// narrate posts a status update into the incident's thread. Channel
// failures never block a step.
func (r *Runner) narrate(ctx context.Context, inc *incident.Incident, msg chat.Message) {
	if _, err := r.channel.Post(ctx, inc.ThreadID, msg); err != nil {
		r.logger.Warn("failed to post status update",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}
}

// openThread starts the incident's thread and records it.
func (r *Runner) openThread(ctx context.Context, inc *incident.Incident) {
	msg := chat.Message{}.
		Add(chat.Bold, "New incident on "+inc.Hostname).
		Add(chat.Plain, ": "+inc.Description)
	thread, err := r.channel.Post(ctx, "", msg)
	if err != nil {
		r.logger.Warn("failed to open incident thread",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if thread == "" {
		return
	}
	if err := r.backend.SetIncidentThread(ctx, inc.ID, thread); err != nil {
		r.logger.Warn("failed to record incident thread",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	inc.ThreadID = thread
}

func noticeMessage(text string) chat.Message {
	return chat.Message{}.Add(chat.Italic, text)
}

func classificationMessage(c *oracle.Classification, advanced bool) chat.Message {
	names := make([]string, len(c.Platforms))
	for i, p := range c.Platforms {
		names[i] = string(p)
	}
	title := "Classification"
	if advanced {
		title = "Advanced classification"
	}
	msg := chat.Message{}.
		Add(chat.Bold, title+": ").
		Add(chat.Code, strings.Join(names, ", "))
	if c.Reason != "" {
		msg = msg.Add(chat.Plain, "\n").Add(chat.Italic, c.Reason)
	}
	return msg
}

func diagnosticsMessage(ds []Diagnostic) chat.Message {
	msg := chat.Message{}.Add(chat.Bold, "Diagnostic commands").Line(":")
	for _, d := range ds {
		msg = msg.Add(chat.Plain, "• ").Add(chat.Code, d.Command).Line(" (" + string(d.Platform) + ")")
	}
	return msg
}

func outputsMessage(ds []Diagnostic) chat.Message {
	msg := chat.Message{}.Add(chat.Bold, "Execution results").Line(":")
	for _, d := range ds {
		out := NoOutput
		if d.Output != nil {
			out = *d.Output
		}
		msg = msg.Add(chat.Code, d.Command).Line("").Add(chat.CodeBlock, out)
	}
	return msg
}

func interpretationMessage(in *oracle.Interpretation, ds []Diagnostic) chat.Message {
	msg := chat.Message{}.
		Add(chat.Bold, "Interpretation: ").
		Add(chat.Code, string(in.Verdict)).
		Line("")
	if in.Summary != "" {
		msg = msg.Line(in.Summary)
	}
	for _, d := range ds {
		if d.Verdict == "" {
			continue
		}
		msg = msg.Add(chat.Plain, "• ").Add(chat.Code, d.Command).Add(chat.Plain, " ").Add(chat.Bold, string(d.Verdict))
		if d.Explanation != "" {
			msg = msg.Add(chat.Plain, ": ").Add(chat.Italic, d.Explanation)
		}
		msg = msg.Line("")
	}
	return msg
}

func recommendationMessage(rec *oracle.Recommendation, sources []oracle.Source) chat.Message {
	msg := chat.Message{}.Add(chat.Bold, "Recommendations").Line(":")
	if rec.Summary != "" {
		msg = msg.Line(rec.Summary)
	}
	for _, s := range rec.Recommendations {
		msg = msg.Line("• " + s)
	}
	for _, s := range sources {
		msg = msg.Add(chat.Italic, "Likely source: ").Add(chat.Code, s.Type+" "+s.ID).Line(" " + s.Description)
	}
	return msg
}

func remediationMessage(rs []Remediation) chat.Message {
	msg := chat.Message{}.Add(chat.Bold, "Proposed remediation").Line(":")
	for _, rm := range rs {
		msg = msg.Add(chat.Plain, "• ").Add(chat.Code, rm.Command).Line(" (" + string(rm.Platform) + ")")
	}
	return msg
}

func approvalContextMessage(inst *Instance, rm *Remediation) chat.Message {
	msg := chat.Message{}.
		Add(chat.Bold, "Approval required").Line("").
		Add(chat.CodeBlock, rm.Command).
		Add(chat.Plain, "Platform: ").Add(chat.Code, string(rm.Platform)).Line("")
	if rm.Reason != "" {
		msg = msg.Add(chat.Plain, "Reason: ").Add(chat.Italic, rm.Reason).Line("")
	}
	if in := inst.Payload.Interpretation; in != nil && in.Summary != "" {
		msg = msg.Add(chat.Plain, "Diagnosis: ").Line(in.Summary)
	}
	return msg
}

func remediationResultsMessage(rs []Remediation) chat.Message {
	msg := chat.Message{}.Add(chat.Bold, "Remediation results").Line(":")
	for _, rm := range rs {
		res := ""
		if rm.Result != nil {
			res = *rm.Result
		}
		if res == RejectedOutput {
			msg = msg.Add(chat.Code, rm.Command).Add(chat.Plain, " ").Add(chat.Italic, "rejected").Line("")
			continue
		}
		msg = msg.Add(chat.Code, rm.Command).Line("").Add(chat.CodeBlock, res)
	}
	return msg
}

func closedMessage(inst *Instance) chat.Message {
	verdict := oracle.VerdictInconclusive
	if in := inst.Payload.Interpretation; in != nil {
		verdict = in.Verdict
	}
	return chat.Message{}.
		Add(chat.Bold, "Incident closed").
		Add(chat.Plain, fmt.Sprintf(" after %d diagnostic passes, verdict ", inst.Payload.Passes)).
		Add(chat.Code, string(verdict))
}
