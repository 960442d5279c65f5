package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// ListMembers returns the roster for one tenant.
func (s *Store) ListMembers(ctx context.Context, tenantID string) ([]Member, error) {
	cur, err := s.db.Collection(colMembers).Find(ctx, bson.M{"tenantId": tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer cur.Close(ctx)

	var members []Member
	if err := cur.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	return members, nil
}
