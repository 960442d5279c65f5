package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ListInstanceDates returns the set of dates, as YYYY-MM-DD strings, that
// already have an instance for the definition inside [from, to].
func (s *Store) ListInstanceDates(ctx context.Context, definitionID, from, to string) (map[string]bool, error) {
	filter := bson.M{
		"definitionId": definitionID,
		"date":         bson.M{"$gte": from, "$lte": to},
	}
	opts := options.Find().SetProjection(bson.M{"date": 1})
	cur, err := s.db.Collection(colInstances).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance dates: %w", err)
	}
	defer cur.Close(ctx)

	dates := make(map[string]bool)
	for cur.Next(ctx) {
		var doc struct {
			Date string `bson:"date"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode instance date: %w", err)
		}
		dates[doc.Date] = true
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instance dates: %w", err)
	}
	return dates, nil
}

// InsertInstances persists a batch of instances as insert-if-absent upserts
// on the composite _id. Dates that already exist are left untouched, so a
// concurrent or repeated run never duplicates an occurrence. Returns how
// many documents were actually inserted.
func (s *Store) InsertInstances(ctx context.Context, instances []ActivityInstance) (int, error) {
	if len(instances) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(instances))
	for _, inst := range instances {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": inst.ID}).
			SetUpdate(bson.M{"$setOnInsert": inst}).
			SetUpsert(true))
	}

	res, err := s.db.Collection(colInstances).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("failed to insert instances: %w", err)
	}
	return int(res.UpsertedCount), nil
}
