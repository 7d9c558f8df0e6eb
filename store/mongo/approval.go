package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
)

// CreateQuestion persists a new question. The unique indexes on task_id
// and correlation_id reject a second question for the same task.
func (s *Store) CreateQuestion(ctx context.Context, q *approval.Question) error {
	if _, err := s.col(colQuestions).InsertOne(ctx, q); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrQuestionExists
		}
		return fmt.Errorf("manager/mongo: create question: %w", err)
	}
	return nil
}

func (s *Store) findQuestion(ctx context.Context, filter bson.M) (*approval.Question, error) {
	var q approval.Question
	if err := s.col(colQuestions).FindOne(ctx, filter).Decode(&q); err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get question: %w", err)
	}
	return &q, nil
}

// GetQuestion retrieves a question by ID.
func (s *Store) GetQuestion(ctx context.Context, questionID string) (*approval.Question, error) {
	return s.findQuestion(ctx, bson.M{"_id": questionID})
}

// GetQuestionByTask retrieves the question of a task.
func (s *Store) GetQuestionByTask(ctx context.Context, taskID string) (*approval.Question, error) {
	return s.findQuestion(ctx, bson.M{"task_id": taskID})
}

// GetQuestionByCorrelation retrieves a question by correlation id.
func (s *Store) GetQuestionByCorrelation(ctx context.Context, correlationID string) (*approval.Question, error) {
	return s.findQuestion(ctx, bson.M{"correlation_id": correlationID})
}

// MarkQuestionSent records the send time.
func (s *Store) MarkQuestionSent(ctx context.Context, questionID string, at time.Time) error {
	res, err := s.col(colQuestions).UpdateOne(ctx,
		bson.M{"_id": questionID},
		bson.M{"$set": bson.M{"sent_at": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: mark question sent: %w", err)
	}
	if res.MatchedCount == 0 {
		return manager.ErrQuestionNotFound
	}
	return nil
}

// SetQuestionResponse records the first answer to a question.
func (s *Store) SetQuestionResponse(ctx context.Context, questionID, response string) error {
	res, err := s.col(colQuestions).UpdateOne(ctx,
		bson.M{"_id": questionID, "response": nil},
		bson.M{"$set": bson.M{"response": response, "answered_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: set question response: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	found, err := s.exists(ctx, colQuestions, bson.M{"_id": questionID})
	if err != nil {
		return fmt.Errorf("manager/mongo: set question response: %w", err)
	}
	if !found {
		return manager.ErrQuestionNotFound
	}
	return manager.ErrQuestionAnswered
}

// ListQuestionsByIncident returns an incident's questions oldest first.
func (s *Store) ListQuestionsByIncident(ctx context.Context, incidentID string) ([]*approval.Question, error) {
	cursor, err := s.col(colQuestions).Find(ctx,
		bson.M{"incident_id": incidentID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list questions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*approval.Question
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("manager/mongo: list questions decode: %w", err)
	}
	return out, nil
}
