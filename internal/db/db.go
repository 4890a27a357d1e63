// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	Users          = "users"
	Conversations  = "conversations"
	DirectMessages = "direct_messages"
	Groups         = "groups"
	GroupMessages  = "group_messages"
	ReadMarkers    = "read_markers"
	Presence       = "presence"
	Counters       = "counters"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	db *mongo.Database
}

// New connects to MongoDB and returns a Client for the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify the connection actually works; Connect is lazy.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// Collection returns the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Sequence returns the id sequence with the given name.
func (c *Client) Sequence(name string) *Sequence {
	return &Sequence{coll: c.db.Collection(Counters), name: name}
}

// Drop removes the whole database. Only used by integration tests.
func (c *Client) Drop(ctx context.Context) error {
	return c.db.Drop(ctx)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		// One row per unordered pair; the pair is stored lower id first.
		Conversations: {
			{Keys: bson.D{{Key: "user1", Value: 1}, {Key: "user2", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user2", Value: 1}}},
		},
		DirectMessages: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "is_read", Value: 1}, {Key: "sender_id", Value: 1}}},
			{Keys: bson.D{{Key: "read_batch", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "delete_batch", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		Groups: {
			{Keys: bson.D{{Key: "members", Value: 1}}},
		},
		GroupMessages: {
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "delete_batch", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		ReadMarkers: {
			{Keys: bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}}},
			{Keys: bson.D{{Key: "read_batch", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
	}

	for coll, models := range specs {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Sequence hands out increasing int64 ids backed by a counters document.
type Sequence struct {
	coll *mongo.Collection
	name string
}

// Next atomically increments and returns the sequence value.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": s.name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", s.name, err)
	}
	return doc.Seq, nil
}
