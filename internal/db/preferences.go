package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// GetPreferences fetches a user's delivery preferences.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*UserPreferences, error) {
	var prefs UserPreferences
	err := s.db.Collection(colPreferences).FindOne(ctx, bson.M{"_id": userID}).Decode(&prefs)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &prefs, nil
}

// RemovePushToken drops one dead push token from a user's preferences.
func (s *Store) RemovePushToken(ctx context.Context, userID, token string) error {
	update := bson.M{
		"$pull": bson.M{"pushTokens": token},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := s.db.Collection(colPreferences).UpdateByID(ctx, userID, update); err != nil {
		return fmt.Errorf("failed to remove push token: %w", err)
	}
	return nil
}

// ClearTelegramChat unsets the user's telegram chat, but only if it still
// points at the chat that failed.
func (s *Store) ClearTelegramChat(ctx context.Context, userID string, chatID int64) error {
	filter := bson.M{"_id": userID, "telegramChatId": chatID}
	update := bson.M{
		"$unset": bson.M{"telegramChatId": ""},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := s.db.Collection(colPreferences).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear telegram chat: %w", err)
	}
	return nil
}

// ClearEmail unsets the user's email address, but only if it still matches
// the address that bounced.
func (s *Store) ClearEmail(ctx context.Context, userID, email string) error {
	filter := bson.M{"_id": userID, "email": email}
	update := bson.M{
		"$unset": bson.M{"email": ""},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := s.db.Collection(colPreferences).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear email: %w", err)
	}
	return nil
}
