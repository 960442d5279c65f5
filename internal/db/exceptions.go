package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// ListExceptions returns the exceptions for one definition whose dates fall
// inside [from, to], both YYYY-MM-DD inclusive. Lexicographic comparison is
// correct for that format.
func (s *Store) ListExceptions(ctx context.Context, definitionID, from, to string) ([]ActivityException, error) {
	filter := bson.M{
		"definitionId": definitionID,
		"date":         bson.M{"$gte": from, "$lte": to},
	}
	cur, err := s.db.Collection(colExceptions).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}
	defer cur.Close(ctx)

	var excs []ActivityException
	if err := cur.All(ctx, &excs); err != nil {
		return nil, fmt.Errorf("failed to decode exceptions: %w", err)
	}
	return excs, nil
}
