package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// transition is the outcome of a step: the step to run next and whether
// the instance must wait for an external actor before running it.
type transition struct {
	next    Step
	suspend bool
}

func advance(s Step) transition   { return transition{next: s} }
func suspendAt(s Step) transition { return transition{next: s, suspend: true} }

// stepFunc runs one step. It may mutate the instance payload; the runner
// persists the instance after the step returns.
type stepFunc func(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error)

func (r *Runner) stepTable() map[Step]stepFunc {
	return map[Step]stepFunc{
		StepClassify:                  r.classify,
		StepGenerateDiagnostic:        r.generateDiagnostic,
		StepExecuteDiagnostic:         r.executeDiagnostic,
		StepAwaitDiagnosticResult:     r.awaitDiagnosticResult,
		StepInterpret:                 r.interpret,
		StepGenerateRecommendations:   r.generateRecommendations,
		StepGenerateRemediation:       r.generateRemediation,
		StepAwaitRemediationApprovals: r.awaitRemediationApprovals,
		StepClose:                     r.close,
	}
}

func subject(inst *Instance, inc *incident.Incident) oracle.Incident {
	return oracle.Incident{
		ID:              inc.ID,
		Hostname:        inc.Hostname,
		Type:            string(inc.Type),
		Description:     inc.Description,
		HostDescription: inst.Payload.HostDescription,
		Data:            inc.Data,
	}
}

// results returns the diagnostics that have an output. With confirmedOnly
// set it keeps only CONFIRMED commands, falling back to every result when
// none is.
func results(ds []Diagnostic, confirmedOnly bool) []oracle.Result {
	var all, confirmed []oracle.Result
	for _, d := range ds {
		if d.Output == nil {
			continue
		}
		res := oracle.Result{
			Command:     d.Command,
			Platform:    d.Platform,
			Output:      *d.Output,
			Verdict:     d.Verdict,
			Explanation: d.Explanation,
		}
		all = append(all, res)
		if d.Verdict == oracle.VerdictConfirmed {
			confirmed = append(confirmed, res)
		}
	}
	if confirmedOnly && len(confirmed) > 0 {
		return confirmed
	}
	return all
}

func kindFor(p oracle.Platform) task.Kind {
	if p == oracle.PlatformPostgres {
		return task.KindPSQL
	}
	return task.KindShell
}

func (r *Runner) classify(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	c, err := r.oracle.Classify(ctx, oracle.ClassifyRequest{
		Incident:       subject(inst, inc),
		Interpretation: inst.Payload.Interpretation,
	})
	if err != nil {
		return transition{}, fmt.Errorf("classify: %w", err)
	}
	if len(c.Platforms) == 0 {
		c.Platforms = []oracle.Platform{oracle.PlatformOther}
	}
	inst.Payload.Classification = c
	r.narrate(ctx, inc, classificationMessage(c, inst.Payload.Advanced))
	return advance(StepGenerateDiagnostic), nil
}

func (r *Runner) generateDiagnostic(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	platforms := []oracle.Platform{oracle.PlatformOther}
	if c := inst.Payload.Classification; c != nil && len(c.Platforms) > 0 {
		platforms = c.Platforms
	}

	req := oracle.DiagnoseRequest{
		Incident:       subject(inst, inc),
		Advanced:       inst.Payload.Advanced,
		Interpretation: inst.Payload.Interpretation,
		Previous:       results(inst.Payload.Diagnostics, false),
	}
	diagnoses := make([]*oracle.Diagnosis, len(platforms))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range platforms {
		g.Go(func() error {
			pr := req
			pr.Platform = p
			d, err := r.oracle.Diagnose(gctx, pr)
			if err != nil {
				return fmt.Errorf("diagnose %s: %w", p, err)
			}
			diagnoses[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return transition{}, err
	}

	seen := make(map[string]bool, len(inst.Payload.Diagnostics))
	for _, d := range inst.Payload.Diagnostics {
		seen[d.Command] = true
	}

	batchID := r.newID(id.PrefixBatch)
	pass := inst.Payload.Passes + 1
	var added []Diagnostic
	for i, d := range diagnoses {
		if d == nil {
			continue
		}
		for _, c := range d.Commands {
			cmd := strings.TrimSpace(c.Command)
			if cmd == "" || seen[cmd] {
				continue
			}
			seen[cmd] = true
			platform := c.Platform
			if !platform.Valid() {
				platform = platforms[i]
			}
			added = append(added, Diagnostic{
				TaskID:   r.newID(id.PrefixTask),
				BatchID:  batchID,
				Command:  cmd,
				Platform: platform,
				Reason:   c.Reason,
				Pass:     pass,
			})
		}
	}

	if len(added) == 0 {
		r.narrate(ctx, inc, noticeMessage("No new diagnostic commands were proposed."))
		return advance(StepInterpret), nil
	}
	inst.Payload.Diagnostics = append(inst.Payload.Diagnostics, added...)
	inst.Payload.DiagnosticBatchID = batchID
	r.narrate(ctx, inc, diagnosticsMessage(added))
	return advance(StepExecuteDiagnostic), nil
}

// executeDiagnostic persists the execution wait, the tasks and the batch
// before handing the batch to the dispatcher.
func (r *Runner) executeDiagnostic(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	batchID := inst.Payload.DiagnosticBatchID
	var pending []Diagnostic
	for _, d := range inst.Payload.Diagnostics {
		if d.Output == nil && d.BatchID == batchID {
			pending = append(pending, d)
		}
	}
	if batchID == "" || len(pending) == 0 {
		return advance(StepInterpret), nil
	}

	sp, err := r.backend.GetSuspension(ctx, batchID)
	switch {
	case errors.Is(err, manager.ErrSuspensionNotFound):
		if err := r.checkSingleExecutionWait(ctx, inc.ID, batchID); err != nil {
			return transition{}, err
		}
		now := r.now()
		sp = &SuspensionPoint{
			Token:      batchID,
			IncidentID: inc.ID,
			Kind:       KindExecutionWait,
			Preparing:  true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, d := range pending {
			sp.TaskIDs = append(sp.TaskIDs, d.TaskID)
		}
		if err := r.backend.SaveSuspension(ctx, sp); err != nil {
			return transition{}, fmt.Errorf("save suspension %s: %w", batchID, err)
		}
	case err != nil:
		return transition{}, fmt.Errorf("load suspension %s: %w", batchID, err)
	}
	if sp.Resolved() {
		return advance(StepAwaitDiagnosticResult), nil
	}

	if !sp.BatchCreated {
		for _, d := range pending {
			t := &task.Task{
				Entity:     manager.NewEntity(),
				ID:         d.TaskID,
				IncidentID: inc.ID,
				InstanceID: inc.InstanceID,
				BatchID:    batchID,
				Kind:       kindFor(d.Platform),
				Purpose:    task.PurposeDebug,
				Command:    d.Command,
				Platform:   string(d.Platform),
				Reason:     d.Reason,
				State:      task.StateApproved,
			}
			if err := r.ensureTask(ctx, t); err != nil {
				return transition{}, err
			}
		}
		if err := r.ensureBatch(ctx, inc.ID, batchID, sp.TaskIDs); err != nil {
			return transition{}, err
		}
		sp.BatchCreated = true
		sp.UpdatedAt = r.now()
		if err := r.backend.SaveSuspension(ctx, sp); err != nil {
			return transition{}, fmt.Errorf("save suspension %s: %w", batchID, err)
		}
	}

	if err := r.dispatch(ctx, inc, sp); err != nil {
		return transition{}, err
	}
	r.emitter.EmitSuspended(ctx, inst, sp)
	return suspendAt(StepAwaitDiagnosticResult), nil
}

// checkSingleExecutionWait refuses to open a second execution wait while
// another one of the incident is unresolved.
func (r *Runner) checkSingleExecutionWait(ctx context.Context, incidentID, token string) error {
	open, err := r.backend.ListSuspensions(ctx, incidentID, true)
	if err != nil {
		return fmt.Errorf("list suspensions: %w", err)
	}
	for _, sp := range open {
		if sp.Kind == KindExecutionWait && sp.Token != token {
			return fmt.Errorf("execution wait %s is still unresolved", sp.Token)
		}
	}
	return nil
}

func (r *Runner) awaitDiagnosticResult(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	batchID := inst.Payload.DiagnosticBatchID
	sp, err := r.backend.GetSuspension(ctx, batchID)
	if errors.Is(err, manager.ErrSuspensionNotFound) {
		return advance(StepExecuteDiagnostic), nil
	}
	if err != nil {
		return transition{}, fmt.Errorf("load suspension %s: %w", batchID, err)
	}

	if !sp.Resolved() {
		if !sp.Waiting {
			if err := r.dispatch(ctx, inc, sp); err != nil {
				return transition{}, err
			}
		}
		return suspendAt(StepAwaitDiagnosticResult), nil
	}

	tasks, err := r.backend.ListTasksByBatch(ctx, batchID)
	if err != nil {
		return transition{}, fmt.Errorf("list batch tasks: %w", err)
	}
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var merged []Diagnostic
	for i := range inst.Payload.Diagnostics {
		d := &inst.Payload.Diagnostics[i]
		if d.BatchID != batchID || d.Output != nil {
			continue
		}
		out := NoOutput
		if t := byID[d.TaskID]; t != nil && t.Output != nil && *t.Output != "" {
			out = *t.Output
		}
		d.Output = &out
		d.Verdict = ""
		d.Explanation = ""
		merged = append(merged, *d)
	}
	r.narrate(ctx, inc, outputsMessage(merged))
	return advance(StepInterpret), nil
}

func (r *Runner) interpret(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	var fresh []oracle.Result
	var idx []int
	for i, d := range inst.Payload.Diagnostics {
		if d.Output == nil || d.Verdict != "" {
			continue
		}
		fresh = append(fresh, oracle.Result{Command: d.Command, Platform: d.Platform, Output: *d.Output})
		idx = append(idx, i)
	}

	var interp *oracle.Interpretation
	if len(fresh) == 0 {
		interp = &oracle.Interpretation{
			Verdict: oracle.VerdictInconclusive,
			Summary: "No new diagnostic output to interpret.",
		}
	} else {
		var err error
		interp, err = r.oracle.Interpret(ctx, oracle.InterpretRequest{
			Incident: subject(inst, inc),
			Results:  fresh,
		})
		if err != nil {
			return transition{}, fmt.Errorf("interpret: %w", err)
		}
		verdicts := make(map[string]oracle.CommandVerdict, len(interp.Commands))
		for _, cv := range interp.Commands {
			verdicts[strings.TrimSpace(cv.Command)] = cv
		}
		for _, i := range idx {
			d := &inst.Payload.Diagnostics[i]
			cv, ok := verdicts[d.Command]
			if !ok {
				d.Verdict = oracle.VerdictInconclusive
				continue
			}
			d.Verdict = cv.Verdict
			d.Explanation = cv.Explanation
		}
	}

	inst.Payload.Interpretation = interp
	inst.Payload.Passes++
	r.narrate(ctx, inc, interpretationMessage(interp, inst.Payload.Diagnostics))

	switch {
	case interp.Verdict == oracle.VerdictConfirmed:
		return advance(StepGenerateRecommendations), nil
	case inst.Payload.Passes == 1 && r.config.AdvancedDiagnostics:
		inst.Payload.Advanced = true
		r.narrate(ctx, inc, noticeMessage("Problem not confirmed, running advanced diagnostics."))
		return advance(StepClassify), nil
	default:
		r.narrate(ctx, inc, noticeMessage(fmt.Sprintf(
			"Problem not confirmed after %d diagnostic passes, closing the incident.", inst.Payload.Passes)))
		return advance(StepClose), nil
	}
}

func (r *Runner) generateRecommendations(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	res := results(inst.Payload.Diagnostics, true)
	sub := subject(inst, inc)

	src, err := r.oracle.IdentifySource(ctx, oracle.SourceRequest{Incident: sub, Results: res})
	if err != nil {
		return transition{}, fmt.Errorf("identify source: %w", err)
	}
	rec, err := r.oracle.Recommend(ctx, oracle.RecommendRequest{Incident: sub, Results: res, Sources: src.Sources})
	if err != nil {
		return transition{}, fmt.Errorf("recommend: %w", err)
	}

	inst.Payload.Sources = src.Sources
	inst.Payload.Recommendation = rec
	r.narrate(ctx, inc, recommendationMessage(rec, src.Sources))
	return advance(StepGenerateRemediation), nil
}

func (r *Runner) generateRemediation(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	if len(inst.Payload.Remediations) > 0 {
		return advance(StepAwaitRemediationApprovals), nil
	}

	req := oracle.RemediationRequest{
		Incident: subject(inst, inc),
		Results:  results(inst.Payload.Diagnostics, true),
	}
	if inst.Payload.Recommendation != nil {
		req.Recommendation = *inst.Payload.Recommendation
	}
	rem, err := r.oracle.GenerateRemediation(ctx, req)
	if err != nil {
		return transition{}, fmt.Errorf("generate remediation: %w", err)
	}

	seen := make(map[string]bool)
	var out []Remediation
	for _, c := range rem.Commands {
		cmd := strings.TrimSpace(c.Command)
		if cmd == "" || seen[cmd] {
			continue
		}
		seen[cmd] = true
		platform := c.Platform
		if !platform.Valid() {
			if platform, err = r.oracle.SelectPlatform(ctx, cmd); err != nil {
				return transition{}, fmt.Errorf("select platform: %w", err)
			}
		}
		taskID := r.newID(id.PrefixTask)
		out = append(out, Remediation{
			TaskID:        taskID,
			CorrelationID: approval.CorrelationID(inc.ID, taskID),
			Command:       cmd,
			Platform:      platform,
			Reason:        c.Reason,
		})
	}

	if len(out) == 0 {
		r.narrate(ctx, inc, noticeMessage("No remediation commands were proposed."))
		return advance(StepClose), nil
	}
	inst.Payload.Remediations = out
	r.narrate(ctx, inc, remediationMessage(out))
	return advance(StepAwaitRemediationApprovals), nil
}

// awaitRemediationApprovals reconciles every remediation without a result
// and advances only once all of them have one.
func (r *Runner) awaitRemediationApprovals(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	outstanding := 0
	for i := range inst.Payload.Remediations {
		rm := &inst.Payload.Remediations[i]
		if rm.Result != nil {
			continue
		}
		done, err := r.reconcileRemediation(ctx, inst, inc, rm)
		if err != nil {
			return transition{}, fmt.Errorf("remediation %s: %w", rm.TaskID, err)
		}
		if !done {
			outstanding++
		}
	}
	if outstanding > 0 {
		return suspendAt(StepAwaitRemediationApprovals), nil
	}
	r.narrate(ctx, inc, remediationResultsMessage(inst.Payload.Remediations))
	return advance(StepClose), nil
}

func (r *Runner) close(ctx context.Context, inst *Instance, inc *incident.Incident) (transition, error) {
	cerr, err := r.guard(ctx, inc, false)
	if err != nil {
		return transition{}, err
	}
	if cerr != nil {
		r.logger.Warn("automatic closure refused",
			slog.String("incident_id", inc.ID),
			slog.String("reason", string(cerr.Reason)),
		)
		r.emitter.EmitClosureRefused(ctx, inc.ID, cerr)
		return suspendAt(StepClose), nil
	}
	if err := r.backend.UpdateIncidentStatus(ctx, inc.ID, incident.StatusClosed); err != nil {
		return transition{}, fmt.Errorf("close incident: %w", err)
	}
	r.narrate(ctx, inc, closedMessage(inst))
	r.emitter.EmitIncidentClosed(ctx, inc.ID, false)
	return advance(StepTerminal), nil
}

// ──────────────────────────────────────────────────
// Task and batch helpers
// ──────────────────────────────────────────────────

func (r *Runner) ensureTask(ctx context.Context, t *task.Task) error {
	_, err := r.backend.GetTask(ctx, t.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, manager.ErrTaskNotFound) {
		return fmt.Errorf("load task %s: %w", t.ID, err)
	}
	if err := r.backend.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (r *Runner) ensureBatch(ctx context.Context, incidentID, batchID string, taskIDs []string) error {
	_, err := r.backend.GetBatch(ctx, batchID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, manager.ErrBatchNotFound) {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}
	b := &task.Batch{
		ID:         batchID,
		IncidentID: incidentID,
		TaskIDs:    taskIDs,
		Visible:    true,
		CreatedAt:  r.now(),
	}
	if err := r.backend.CreateBatch(ctx, b); err != nil {
		return fmt.Errorf("create batch %s: %w", batchID, err)
	}
	return nil
}

// dispatch hands a suspension's batch to the dispatcher. A dispatcher
// failure is logged and leaves the suspension not waiting, so the next
// resume retries it; only store failures are returned.
func (r *Runner) dispatch(ctx context.Context, inc *incident.Incident, sp *SuspensionPoint) error {
	tasks, err := r.backend.ListTasksByBatch(ctx, sp.Token)
	if err != nil {
		return fmt.Errorf("list batch tasks: %w", err)
	}
	req := executor.Request{
		BatchID:     sp.Token,
		IncidentID:  inc.ID,
		InstanceID:  inc.InstanceID,
		CallbackURL: r.config.CallbackURL,
	}
	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		req.Commands = append(req.Commands, executor.Command{
			TaskID:   t.ID,
			Command:  t.Command,
			Kind:     t.Kind,
			Platform: t.Platform,
		})
	}

	if err := r.dispatcher.Dispatch(ctx, req); err != nil {
		r.logger.Error("dispatch failed, batch stays pending",
			slog.String("incident_id", inc.ID),
			slog.String("batch_id", sp.Token),
			slog.String("error", err.Error()),
		)
		return nil
	}

	now := r.now()
	sp.Preparing = false
	sp.Waiting = true
	sp.DispatchedAt = &now
	sp.UpdatedAt = now
	if err := r.backend.SaveSuspension(ctx, sp); err != nil {
		return fmt.Errorf("save suspension %s: %w", sp.Token, err)
	}
	return nil
}
