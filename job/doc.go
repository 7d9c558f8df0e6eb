// Package job defines resumption-trigger jobs: the durable messages that
// drive incident workflows forward, their typed definitions, the handler
// registry, and the store contract.
//
// A [Job] progresses through
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//
// Every job carries the incident it concerns. Workers never run two jobs
// of the same incident at once, so an incident's workflow is driven by a
// single writer while different incidents proceed in parallel.
//
// # Messages
//
// Four messages resume workflows:
//
//   - [StartIncident] creates and drives a new workflow
//   - [BatchCompleted] carries an agent's outputs for a batch
//   - [ApprovalAnswered] carries a human yes/no answer
//   - [ResumeIncident] re-evaluates an incident after out-of-band changes
//
// The engine registers handlers for them with [RegisterDefinition].
package job
