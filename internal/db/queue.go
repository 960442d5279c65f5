package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GetQueueItem fetches a single queue item by id.
func (s *Store) GetQueueItem(ctx context.Context, id string) (*QueueItem, error) {
	var item QueueItem
	err := s.db.Collection(colQueue).FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

// ListDueQueueItems returns pending items whose scheduledFor has passed (or
// was never set), highest priority first, oldest first within a priority.
func (s *Store) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]QueueItem, error) {
	filter := bson.M{
		"status": StatusPending,
		"$or": bson.A{
			bson.M{"scheduledFor": bson.M{"$exists": false}},
			bson.M{"scheduledFor": nil},
			bson.M{"scheduledFor": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(colQueue).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list due queue items: %w", err)
	}
	defer cur.Close(ctx)

	var items []QueueItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode queue items: %w", err)
	}
	return items, nil
}

// ClaimQueueItem atomically moves a pending item to processing and counts
// the attempt. Returns ErrNotFound when the item is gone or another worker
// claimed it first.
func (s *Store) ClaimQueueItem(ctx context.Context, id string) (*QueueItem, error) {
	filter := bson.M{"_id": id, "status": StatusPending}
	update := bson.M{
		"$set": bson.M{"status": StatusProcessing, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var item QueueItem
	err := s.db.Collection(colQueue).FindOneAndUpdate(ctx, filter, update, opts).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue item: %w", err)
	}
	return &item, nil
}

// RescheduleQueueItem pushes a still-pending item to a later scheduledFor
// without consuming an attempt. A no-op if the item left pending meanwhile.
func (s *Store) RescheduleQueueItem(ctx context.Context, id string, at time.Time, reason string) error {
	filter := bson.M{"_id": id, "status": StatusPending}
	update := bson.M{"$set": bson.M{
		"scheduledFor": at,
		"lastError":    reason,
		"updatedAt":    time.Now().UTC(),
	}}
	if _, err := s.db.Collection(colQueue).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to reschedule queue item: %w", err)
	}
	return nil
}

// FinishQueueItem writes the terminal status of an item the caller holds in
// processing state.
func (s *Store) FinishQueueItem(ctx context.Context, id, status string, lastError *string) error {
	set := bson.M{"status": status, "updatedAt": time.Now().UTC()}
	if lastError != nil {
		set["lastError"] = *lastError
	}
	if _, err := s.db.Collection(colQueue).UpdateByID(ctx, id, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to finish queue item: %w", err)
	}
	return nil
}

// MarkQueueItemFailed moves a pending item straight to failed, used when its
// attempts are already exhausted. Returns whether this caller made the
// transition.
func (s *Store) MarkQueueItemFailed(ctx context.Context, id, reason string) (bool, error) {
	filter := bson.M{"_id": id, "status": StatusPending}
	update := bson.M{"$set": bson.M{
		"status":    StatusFailed,
		"lastError": reason,
		"updatedAt": time.Now().UTC(),
	}}
	res, err := s.db.Collection(colQueue).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// SweepFailedQueueItems deletes failed items that exhausted their attempts
// or went stale before cutoff, then resets the surviving failed items to
// pending, due at now. Returns the ids of the reset items and the delete
// count.
func (s *Store) SweepFailedQueueItems(ctx context.Context, cutoff, now time.Time) ([]string, int64, error) {
	col := s.db.Collection(colQueue)

	delFilter := bson.M{
		"status": StatusFailed,
		"$or": bson.A{
			bson.M{"$expr": bson.M{"$gte": bson.A{"$attempts", "$maxAttempts"}}},
			bson.M{"updatedAt": bson.M{"$lt": cutoff}},
		},
	}
	delRes, err := col.DeleteMany(ctx, delFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to delete exhausted queue items: %w", err)
	}

	cur, err := col.Find(ctx, bson.M{"status": StatusFailed}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, delRes.DeletedCount, fmt.Errorf("failed to list failed queue items: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, delRes.DeletedCount, fmt.Errorf("failed to decode queue item id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, delRes.DeletedCount, fmt.Errorf("failed to iterate failed queue items: %w", err)
	}

	if len(ids) > 0 {
		update := bson.M{"$set": bson.M{
			"status":       StatusPending,
			"scheduledFor": now,
			"updatedAt":    now,
		}}
		if _, err := col.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update); err != nil {
			return nil, delRes.DeletedCount, fmt.Errorf("failed to reset failed queue items: %w", err)
		}
	}

	return ids, delRes.DeletedCount, nil
}

// PurgeTerminalQueueItems deletes sent and failed items untouched since
// cutoff.
func (s *Store) PurgeTerminalQueueItems(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":    bson.M{"$in": bson.A{StatusSent, StatusFailed}},
		"updatedAt": bson.M{"$lt": cutoff},
	}
	res, err := s.db.Collection(colQueue).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal queue items: %w", err)
	}
	return res.DeletedCount, nil
}
