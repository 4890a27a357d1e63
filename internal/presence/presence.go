// Package presence tracks which users are connected and how many
// participants each chat room currently holds.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// SetStore is an ephemeral string-set store. Every method must be atomic on
// its own; callers never read-modify-write a set.
type SetStore interface {
	// Add inserts member and returns the resulting cardinality.
	Add(ctx context.Context, key, member string) (int64, error)
	// Remove deletes member and returns the resulting cardinality.
	Remove(ctx context.Context, key, member string) (int64, error)
	Card(ctx context.Context, key string) (int64, error)
	Members(ctx context.Context, key string) ([]string, error)
}

// Recorder persists the durable side of presence: the user's online flag
// and last-seen time.
type Recorder interface {
	SetPresence(ctx context.Context, userID int64, online bool, lastSeen time.Time) error
}

func userKey(userID int64) string { return "presence:user:" + strconv.FormatInt(userID, 10) }

func roomKey(topic string) string { return "presence:room:" + topic }

// Tracker combines per-user session sets with per-room participant sets.
// A user is online while at least one of its sessions is connected.
type Tracker struct {
	sets     SetStore
	recorder Recorder
	logger   *zap.Logger
}

// NewTracker creates a Tracker. recorder may be nil when no durable
// presence record is kept.
func NewTracker(sets SetStore, recorder Recorder, logger *zap.Logger) *Tracker {
	return &Tracker{sets: sets, recorder: recorder, logger: logger}
}

// Connect registers sessionID for userID and reports whether this was the
// user's first live session.
func (t *Tracker) Connect(ctx context.Context, userID int64, sessionID string, at time.Time) (bool, error) {
	n, err := t.sets.Add(ctx, userKey(userID), sessionID)
	if err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	if n != 1 {
		return false, nil
	}
	if err := t.record(ctx, userID, true, at); err != nil {
		return true, err
	}
	return true, nil
}

// Disconnect removes sessionID and reports whether userID has no live
// sessions left. The last-seen time is written only in that case.
func (t *Tracker) Disconnect(ctx context.Context, userID int64, sessionID string, at time.Time) (bool, error) {
	n, err := t.sets.Remove(ctx, userKey(userID), sessionID)
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	if n != 0 {
		return false, nil
	}
	if err := t.record(ctx, userID, false, at); err != nil {
		return true, err
	}
	return true, nil
}

func (t *Tracker) record(ctx context.Context, userID int64, online bool, at time.Time) error {
	if t.recorder == nil {
		return nil
	}
	if err := t.recorder.SetPresence(ctx, userID, online, at); err != nil {
		return fmt.Errorf("record presence for user %d: %w", userID, err)
	}
	t.logger.Debug("presence changed", zap.Int64("user_id", userID), zap.Bool("online", online))
	return nil
}

// IsOnline reports whether userID has at least one live session.
func (t *Tracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := t.sets.Card(ctx, userKey(userID))
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// JoinRoom adds userID to the participant set of topic and returns the
// number of distinct participants.
func (t *Tracker) JoinRoom(ctx context.Context, topic string, userID int64) (int64, error) {
	n, err := t.sets.Add(ctx, roomKey(topic), strconv.FormatInt(userID, 10))
	if err != nil {
		return 0, fmt.Errorf("join room %s: %w", topic, err)
	}
	return n, nil
}

// LeaveRoom removes userID from topic's participant set and returns the
// number of participants left.
func (t *Tracker) LeaveRoom(ctx context.Context, topic string, userID int64) (int64, error) {
	n, err := t.sets.Remove(ctx, roomKey(topic), strconv.FormatInt(userID, 10))
	if err != nil {
		return 0, fmt.Errorf("leave room %s: %w", topic, err)
	}
	return n, nil
}

// Participants returns the user ids currently in topic.
func (t *Tracker) Participants(ctx context.Context, topic string) ([]int64, error) {
	members, err := t.sets.Members(ctx, roomKey(topic))
	if err != nil {
		return nil, fmt.Errorf("room members %s: %w", topic, err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			t.logger.Warn("skipping malformed room member", zap.String("room", topic), zap.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
