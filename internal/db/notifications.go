package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetDeliveryStatus records the terminal outcome of one channel on the
// parent notification.
func (s *Store) SetDeliveryStatus(ctx context.Context, notificationID, channel, status string) error {
	update := bson.M{"$set": bson.M{"deliveryStatus." + channel: status}}
	if _, err := s.db.Collection(colNotifications).UpdateByID(ctx, notificationID, update); err != nil {
		return fmt.Errorf("failed to set delivery status: %w", err)
	}
	return nil
}

// ArchiveReadNotifications moves notifications read before cutoff into the
// archive collection, in batches, and returns how many were moved. A batch
// is copied before it is deleted, so a crash between the two leaves
// duplicates in the archive rather than losing documents; the duplicate-key
// tolerance below absorbs the retry.
func (s *Store) ArchiveReadNotifications(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	src := s.db.Collection(colNotifications)
	dst := s.db.Collection(colArchive)
	filter := bson.M{"read": true, "readAt": bson.M{"$lt": cutoff}}

	var archived int64
	for {
		cur, err := src.Find(ctx, filter, options.Find().SetLimit(int64(batchSize)))
		if err != nil {
			return archived, fmt.Errorf("failed to list read notifications: %w", err)
		}

		var batch []Notification
		if err := cur.All(ctx, &batch); err != nil {
			return archived, fmt.Errorf("failed to decode read notifications: %w", err)
		}
		if len(batch) == 0 {
			return archived, nil
		}

		docs := make([]interface{}, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, n := range batch {
			docs = append(docs, n)
			ids = append(ids, n.ID)
		}

		_, err = dst.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return archived, fmt.Errorf("failed to copy notifications to archive: %w", err)
		}

		res, err := src.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return archived, fmt.Errorf("failed to delete archived notifications: %w", err)
		}
		archived += res.DeletedCount

		if len(batch) < batchSize {
			return archived, nil
		}
	}
}
