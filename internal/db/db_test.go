package db

import (
	"context"
	"os"
	"testing"
)

// These tests are integration tests and require a running MongoDB instance.
// Set MONGODB_URI in the environment before running them.

func connect(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	c, err := New(context.Background(), uri, "chat_db_test_db")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

func TestNewAndCreateIndexes(t *testing.T) {
	c := connect(t)

	if err := c.CreateIndexes(context.Background()); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	// creating them twice is a no-op
	if err := c.CreateIndexes(context.Background()); err != nil {
		t.Fatalf("CreateIndexes (again) failed: %v", err)
	}
}

func TestSequenceNext(t *testing.T) {
	c := connect(t)
	seq := c.Sequence("widgets")

	ctx := context.Background()
	first, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	second, err := seq.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected 1, 2 got %d, %d", first, second)
	}
}
