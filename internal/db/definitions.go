package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ListActiveDefinitions returns every definition eligible for
// materialization, across all tenants.
func (s *Store) ListActiveDefinitions(ctx context.Context) ([]RecurringDefinition, error) {
	cur, err := s.db.Collection(colDefinitions).Find(ctx, bson.M{"status": DefinitionActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active definitions: %w", err)
	}
	defer cur.Close(ctx)

	var defs []RecurringDefinition
	if err := cur.All(ctx, &defs); err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}
	return defs, nil
}

// UpdateDefinitionProgress records how far generation got for a definition.
// Called once per run, after all its batches were persisted.
func (s *Store) UpdateDefinitionProgress(ctx context.Context, definitionID, lastGeneratedDate string, rotationIndex int) error {
	update := bson.M{"$set": bson.M{
		"lastGeneratedDate":    lastGeneratedDate,
		"currentRotationIndex": rotationIndex,
		"updatedAt":            time.Now().UTC(),
	}}
	if _, err := s.db.Collection(colDefinitions).UpdateByID(ctx, definitionID, update); err != nil {
		return fmt.Errorf("failed to update definition progress: %w", err)
	}
	return nil
}
