// Package db provides the MongoDB persistence layer for recurring
// definitions, materialized instances and the notification delivery queue.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a single-document lookup matches nothing.
var ErrNotFound = errors.New("document not found")

// Collection names
const (
	colDefinitions   = "recurring_definitions"
	colExceptions    = "recurring_exceptions"
	colInstances     = "activity_instances"
	colNotifications = "notifications"
	colQueue         = "notification_queue"
	colArchive       = "notifications_archive"
	colPreferences   = "user_preferences"
	colMembers       = "members"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI      string
	Database string
}

// Store wraps the MongoDB client and exposes the collection operations the
// schedulers and the delivery worker need.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("connected to mongodb", zap.String("database", cfg.Database))

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks if MongoDB is responsive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the indexes the hot paths rely on. Creation is
// idempotent, so this runs on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colDefinitions: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "tenantId", Value: 1}}},
		},
		colExceptions: {
			{Keys: bson.D{{Key: "definitionId", Value: 1}, {Key: "date", Value: 1}}},
		},
		colInstances: {
			{Keys: bson.D{{Key: "definitionId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "date", Value: 1}}},
		},
		colQueue: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledFor", Value: 1}, {Key: "priority", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
			{Keys: bson.D{{Key: "notificationId", Value: 1}}},
		},
		colNotifications: {
			{Keys: bson.D{{Key: "read", Value: 1}, {Key: "readAt", Value: 1}}},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		colMembers: {
			{Keys: bson.D{{Key: "tenantId", Value: 1}}},
		},
	}

	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}

	s.logger.Info("mongodb indexes ensured")
	return nil
}
