package database

import (
	"context"
	"fmt"
	"time"

	"chat_sync_service/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// NewMongoDB connect and ping, retrying RetryCount times RetryInterval seconds apart
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	clientOpts := options.Client().
		ApplyURI(c.ConnectStr).
		SetAppName("chat_sync").
		SetServerSelectionTimeout(5 * time.Second)

	var lastErr error
	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		db, err := connectMongo(ctx, clientOpts, dbName)
		if err == nil {
			return db, nil
		}
		lastErr = err
		logger.Log.Warn("mongo connect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))

		if attempt == c.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryInterval * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to MongoDB after retries: %w", lastErr)
}

func connectMongo(ctx context.Context, opts *options.ClientOptions, dbName string) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoDB{Client: client, Database: client.Database(dbName)}, nil
}

// Close disconnect mongoDB
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
