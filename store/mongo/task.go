package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/task"
)

var taskOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if _, err := s.col(colTasks).InsertOne(ctx, t); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrTaskExists
		}
		return fmt.Errorf("manager/mongo: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	var t task.Task
	err := s.col(colTasks).FindOne(ctx, bson.M{"_id": taskID}).Decode(&t)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrTaskNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get task: %w", err)
	}
	return &t, nil
}

// ListTasksByIncident returns an incident's tasks in creation order.
func (s *Store) ListTasksByIncident(ctx context.Context, incidentID string, states ...task.State) ([]*task.Task, error) {
	filter := bson.M{"incident_id": incidentID}
	if len(states) > 0 {
		filter["state"] = bson.M{"$in": states}
	}
	return s.findTasks(ctx, filter)
}

// ListTasksByBatch returns the tasks of a batch in creation order.
func (s *Store) ListTasksByBatch(ctx context.Context, batchID string) ([]*task.Task, error) {
	return s.findTasks(ctx, bson.M{"batch_id": batchID})
}

func (s *Store) findTasks(ctx context.Context, filter bson.M) ([]*task.Task, error) {
	cursor, err := s.col(colTasks).Find(ctx, filter, options.Find().SetSort(taskOrder))
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*task.Task
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("manager/mongo: list tasks decode: %w", err)
	}
	return out, nil
}

func (s *Store) updateTask(ctx context.Context, taskID string, update bson.M) error {
	res, err := s.col(colTasks).UpdateOne(ctx, bson.M{"_id": taskID}, update)
	if err != nil {
		return fmt.Errorf("manager/mongo: update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return manager.ErrTaskNotFound
	}
	return nil
}

// UpdateTaskState sets a task's state.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, state task.State) error {
	return s.updateTask(ctx, taskID, bson.M{"$set": bson.M{"state": state, "updated_at": now()}})
}

// AddTaskOutput records output and completes the task.
func (s *Store) AddTaskOutput(ctx context.Context, taskID, output string) error {
	return s.updateTask(ctx, taskID, bson.M{"$set": bson.M{
		"output":     output,
		"state":      task.StateCompleted,
		"updated_at": now(),
	}})
}

// AddTaskComment appends a comment to a task.
func (s *Store) AddTaskComment(ctx context.Context, taskID string, c task.Comment) error {
	return s.updateTask(ctx, taskID, bson.M{
		"$push": bson.M{"comments": c},
		"$set":  bson.M{"updated_at": now()},
	})
}

// CreateBatch persists a new batch.
func (s *Store) CreateBatch(ctx context.Context, b *task.Batch) error {
	if _, err := s.col(colBatches).InsertOne(ctx, b); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrBatchExists
		}
		return fmt.Errorf("manager/mongo: create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*task.Batch, error) {
	var b task.Batch
	err := s.col(colBatches).FindOne(ctx, bson.M{"_id": batchID}).Decode(&b)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrBatchNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get batch: %w", err)
	}
	return &b, nil
}

// GetVisibleBatch returns the oldest visible batch of an incident.
func (s *Store) GetVisibleBatch(ctx context.Context, incidentID string) (*task.Batch, error) {
	var b task.Batch
	err := s.col(colBatches).FindOne(ctx,
		bson.M{"incident_id": incidentID, "visible": true},
		options.FindOne().SetSort(taskOrder),
	).Decode(&b)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrBatchNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get visible batch: %w", err)
	}
	return &b, nil
}

// HideBatch claims a visible batch with a single conditional update.
func (s *Store) HideBatch(ctx context.Context, incidentID, batchID string) error {
	res, err := s.col(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID, "incident_id": incidentID, "visible": true},
		bson.M{"$set": bson.M{"visible": false}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: hide batch: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := s.exists(ctx, colBatches, bson.M{"_id": batchID, "incident_id": incidentID})
	if err != nil {
		return fmt.Errorf("manager/mongo: hide batch: %w", err)
	}
	if !found {
		return manager.ErrBatchNotFound
	}
	return manager.ErrBatchClaimed
}
