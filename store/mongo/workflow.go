package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// CreateInstance persists a new instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	if inst.Revision == 0 {
		inst.Revision = 1
	}
	if _, err := s.col(colInstances).InsertOne(ctx, inst); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrWorkflowExists
		}
		return fmt.Errorf("manager/mongo: create workflow instance: %w", err)
	}
	return nil
}

// GetInstance retrieves the instance of an incident.
func (s *Store) GetInstance(ctx context.Context, incidentID string) (*workflow.Instance, error) {
	var inst workflow.Instance
	err := s.col(colInstances).FindOne(ctx, bson.M{"_id": incidentID}).Decode(&inst)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get workflow instance: %w", err)
	}
	return &inst, nil
}

// UpdateInstance replaces the stored instance when its revision matches.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	next := *inst
	next.Revision = inst.Revision + 1

	res, err := s.col(colInstances).ReplaceOne(ctx,
		bson.M{"_id": inst.IncidentID, "revision": inst.Revision},
		&next,
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: update workflow instance: %w", err)
	}
	if res.MatchedCount > 0 {
		inst.Revision = next.Revision
		return nil
	}
	found, err := s.exists(ctx, colInstances, bson.M{"_id": inst.IncidentID})
	if err != nil {
		return fmt.Errorf("manager/mongo: update workflow instance: %w", err)
	}
	if !found {
		return manager.ErrWorkflowNotFound
	}
	return manager.ErrRevisionConflict
}

// ListInstances returns instances oldest first.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = opts.Status
	}
	findOpts := pageOpts(
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
		opts.Offset, opts.Limit,
	)

	cursor, err := s.col(colInstances).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list workflow instances: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*workflow.Instance
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("manager/mongo: list workflow instances decode: %w", err)
	}
	return out, nil
}

// SaveSuspension upserts a suspension point. resolved_at is only ever
// set, never cleared, so a resolved point stays resolved.
func (s *Store) SaveSuspension(ctx context.Context, sp *workflow.SuspensionPoint) error {
	set := bson.M{
		"incident_id":        sp.IncidentID,
		"kind":               sp.Kind,
		"task_ids":           sp.TaskIDs,
		"batch_created":      sp.BatchCreated,
		"preparing":          sp.Preparing,
		"waiting":            sp.Waiting,
		"execution_complete": sp.ExecutionComplete,
		"created_at":         sp.CreatedAt,
		"updated_at":         sp.UpdatedAt,
	}
	if sp.DispatchedAt != nil {
		set["dispatched_at"] = *sp.DispatchedAt
	}
	if sp.ResolvedAt != nil {
		set["resolved_at"] = *sp.ResolvedAt
	}

	_, err := s.col(colSuspensions).UpdateOne(ctx,
		bson.M{"_id": sp.Token},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: save suspension: %w", err)
	}
	return nil
}

// GetSuspension retrieves a suspension point by token.
func (s *Store) GetSuspension(ctx context.Context, token string) (*workflow.SuspensionPoint, error) {
	var sp workflow.SuspensionPoint
	err := s.col(colSuspensions).FindOne(ctx, bson.M{"_id": token}).Decode(&sp)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrSuspensionNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get suspension: %w", err)
	}
	return &sp, nil
}

// ListSuspensions returns an incident's suspension points oldest first.
func (s *Store) ListSuspensions(ctx context.Context, incidentID string, unresolvedOnly bool) ([]*workflow.SuspensionPoint, error) {
	filter := bson.M{"incident_id": incidentID}
	if unresolvedOnly {
		filter["resolved_at"] = nil
	}
	cursor, err := s.col(colSuspensions).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list suspensions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*workflow.SuspensionPoint
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("manager/mongo: list suspensions decode: %w", err)
	}
	return out, nil
}

// ResolveSuspension resolves a point exactly once.
func (s *Store) ResolveSuspension(ctx context.Context, token string, at time.Time) error {
	at = at.UTC()
	res, err := s.col(colSuspensions).UpdateOne(ctx,
		bson.M{"_id": token, "resolved_at": nil},
		bson.M{"$set": bson.M{"resolved_at": at, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: resolve suspension: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := s.exists(ctx, colSuspensions, bson.M{"_id": token})
	if err != nil {
		return fmt.Errorf("manager/mongo: resolve suspension: %w", err)
	}
	if !found {
		return manager.ErrSuspensionNotFound
	}
	return manager.ErrAlreadyResolved
}
