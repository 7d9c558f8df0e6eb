package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// AcquireCronLock takes the named lock for holder until ttl elapses. The
// upsert only matches an own or expired lease; when another holder owns
// a live one the upsert collides on _id and the lock is refused.
func (s *Store) AcquireCronLock(ctx context.Context, name string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	filter := bson.M{
		"_id": name,
		"$or": bson.A{
			bson.M{"holder": holder.String()},
			bson.M{"until": bson.M{"$lte": t}},
		},
	}
	update := bson.M{"$set": bson.M{"holder": holder.String(), "until": t.Add(ttl)}}

	_, err := s.col(colCronLocks).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("manager/mongo: acquire cron lock: %w", err)
	}
	return true, nil
}

// ReleaseCronLock releases the named lock if holder owns it.
func (s *Store) ReleaseCronLock(ctx context.Context, name string, holder id.WorkerID) error {
	_, err := s.col(colCronLocks).DeleteOne(ctx, bson.M{"_id": name, "holder": holder.String()})
	if err != nil {
		return fmt.Errorf("manager/mongo: release cron lock: %w", err)
	}
	return nil
}
