// Package workflow implements the durable incident workflow: a persisted
// state machine, one instance per incident, driven by a dispatch table of
// step functions keyed by the instance's current step.
//
// # Steps
//
//	classify → generate_diagnostic → execute_diagnostic → await_diagnostic_result
//	  → interpret → {classify | generate_recommendations | close}
//	generate_recommendations → generate_remediation → await_remediation_approvals
//	  → close → terminal
//
// After every completed step the instance (current step plus payload) is
// written back with an optimistic revision check. A step that waits on an
// external actor persists a [SuspensionPoint] before yielding and the
// worker is released; a later callback resumes the instance.
//
// # Suspension and resumption
//
// Execution waits are keyed by batch id, approval waits by correlation id
// (incident id + "_id_" + task id). Callbacks for an already resolved
// suspension are ignored. All entry points of one incident are serialized
// through a [Locker], and await steps recompute their outcome from the
// store so a replayed or reordered signal converges on the same state.
//
// # Failure
//
// An oracle decision that exhausts its attempts fails the instance and
// reports to the incident's chat thread; the incident stays open for an
// operator. Other external failures are logged and leave the suspension
// pending.
package workflow
