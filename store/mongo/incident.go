package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/incident"
)

var allStatuses = []incident.Status{
	incident.StatusOpen,
	incident.StatusAcknowledged,
	incident.StatusClosed,
	incident.StatusIgnored,
}

// sourcesOf lists the statuses an incident may move to status from.
func sourcesOf(status incident.Status) []incident.Status {
	var out []incident.Status
	for _, from := range allStatuses {
		if incident.CanTransition(from, status) {
			out = append(out, from)
		}
	}
	return out
}

// CreateIncident persists a new incident.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) error {
	if _, err := s.col(colIncidents).InsertOne(ctx, inc); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrIncidentExists
		}
		return fmt.Errorf("manager/mongo: create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*incident.Incident, error) {
	var inc incident.Incident
	err := s.col(colIncidents).FindOne(ctx, bson.M{"_id": incidentID}).Decode(&inc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get incident: %w", err)
	}
	return &inc, nil
}

// UpdateIncidentStatus moves an incident to status. The filter admits
// only the statuses the transition may start from.
func (s *Store) UpdateIncidentStatus(ctx context.Context, incidentID string, status incident.Status) error {
	sources := sourcesOf(status)
	if len(sources) == 0 {
		return manager.ErrInvalidTransition
	}
	res, err := s.col(colIncidents).UpdateOne(ctx,
		bson.M{"_id": incidentID, "status": bson.M{"$in": sources}},
		bson.M{"$set": bson.M{"status": status, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: update incident status: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := s.exists(ctx, colIncidents, bson.M{"_id": incidentID})
	if err != nil {
		return fmt.Errorf("manager/mongo: update incident status: %w", err)
	}
	if !found {
		return manager.ErrIncidentNotFound
	}
	return manager.ErrInvalidTransition
}

// SetIncidentThread records the incident's chat thread.
func (s *Store) SetIncidentThread(ctx context.Context, incidentID, threadID string) error {
	res, err := s.col(colIncidents).UpdateOne(ctx,
		bson.M{"_id": incidentID},
		bson.M{"$set": bson.M{"thread_id": threadID, "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: set incident thread: %w", err)
	}
	if res.MatchedCount == 0 {
		return manager.ErrIncidentNotFound
	}
	return nil
}

// ListIncidents returns incidents newest first.
func (s *Store) ListIncidents(ctx context.Context, opts incident.ListOpts) ([]*incident.Incident, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = opts.Status
	}
	findOpts := pageOpts(options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}), opts.Offset, opts.Limit)

	cursor, err := s.col(colIncidents).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list incidents: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*incident.Incident
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("manager/mongo: list incidents decode: %w", err)
	}
	return out, nil
}
