// Package executor defines the Execution Dispatcher boundary: a batch of
// commands is handed to a remote agent together with a callback address,
// and the agent reports a map of command text to output exactly once per
// batch.
//
// Two dispatchers are provided. [Pull] leaves the batch visible for an
// agent to claim through the HTTP API. [HTTP] claims the batch itself and
// pushes it to an agent endpoint.
package executor

import (
	"context"
	"errors"
	"fmt"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// Command is one command of a dispatched batch.
type Command struct {
	TaskID   string    `json:"task_id"`
	Command  string    `json:"command"`
	Kind     task.Kind `json:"kind"`
	Platform string    `json:"platform"`
}

// Request is a batch handed to the dispatcher.
type Request struct {
	BatchID     string    `json:"batch_id"`
	IncidentID  string    `json:"incident_id"`
	InstanceID  string    `json:"instance_id"`
	Commands    []Command `json:"commands"`
	CallbackURL string    `json:"callback_url"`
}

// Dispatcher hands a batch to a remote agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Claimed is a batch taken by an agent together with its tasks.
type Claimed struct {
	Batch *task.Batch  `json:"batch"`
	Tasks []*task.Task `json:"tasks"`
}

// Claim takes the oldest visible batch of an incident. The batch is hidden
// with a conditional write so it is delivered to at most one consumer, and
// its approved tasks move to in_progress. It returns
// manager.ErrBatchNotFound when nothing is visible.
func Claim(ctx context.Context, store task.Store, incidentID string) (*Claimed, error) {
	for {
		b, err := store.GetVisibleBatch(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		out, err := claimBatch(ctx, store, b)
		if errors.Is(err, manager.ErrBatchClaimed) {
			// Lost the race; look for the next visible batch.
			continue
		}
		return out, err
	}
}

func claimBatch(ctx context.Context, store task.Store, b *task.Batch) (*Claimed, error) {
	if err := store.HideBatch(ctx, b.IncidentID, b.ID); err != nil {
		return nil, err
	}
	b.Visible = false
	tasks, err := store.ListTasksByBatch(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list batch tasks: %w", err)
	}
	for _, t := range tasks {
		if t.State != task.StateApproved {
			continue
		}
		if err := store.UpdateTaskState(ctx, t.ID, task.StateInProgress); err != nil {
			return nil, fmt.Errorf("mark task %s in progress: %w", t.ID, err)
		}
		t.State = task.StateInProgress
	}
	return &Claimed{Batch: b, Tasks: tasks}, nil
}
