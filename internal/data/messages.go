package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/db"
	"github.com/PaulBabatuyi/investchat/internal/normalize"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore persists direct conversations and their messages.
type MessagesStore struct {
	convs   *mongo.Collection
	msgs    *mongo.Collection
	convSeq *db.Sequence
	msgSeq  *db.Sequence
}

// NewMessagesStore returns a MessagesStore over the conversations and
// direct_messages collections of c.
func NewMessagesStore(c *db.Client) *MessagesStore {
	return &MessagesStore{
		convs:   c.Collection(db.Conversations),
		msgs:    c.Collection(db.DirectMessages),
		convSeq: c.Sequence(db.Conversations),
		msgSeq:  c.Sequence(db.DirectMessages),
	}
}

// GetOrCreateConversation returns the conversation between a and b, creating
// it on first contact. The pair is normalized so (a, b) and (b, a) resolve to
// the same row.
func (m *MessagesStore) GetOrCreateConversation(ctx context.Context, a, b int64) (*Conversation, error) {
	if a == b {
		return nil, fmt.Errorf("conversation needs two distinct users, got %d twice", a)
	}
	u1, u2 := normalize.Pair(a, b)
	filter := bson.M{"user1": u1, "user2": u2}

	conv, err := m.findConversation(ctx, filter)
	if !errors.Is(err, ErrNotFound) {
		return conv, err
	}

	id, err := m.convSeq.Next(ctx)
	if err != nil {
		return nil, err
	}
	conv = &Conversation{ID: id, User1: u1, User2: u2, UnreadFor: []int64{}, CreatedAt: time.Now()}
	if _, err := m.convs.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost a race with the peer opening the same conversation.
			return m.findConversation(ctx, filter)
		}
		return nil, err
	}
	return conv, nil
}

// GetConversation finds a conversation by id.
func (m *MessagesStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return m.findConversation(ctx, bson.M{"_id": id})
}

// ConversationsFor lists every conversation userID participates in.
func (m *MessagesStore) ConversationsFor(ctx context.Context, userID int64) ([]*Conversation, error) {
	cursor, err := m.convs.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"user1": userID},
		bson.M{"user2": userID},
	}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetUnread raises or clears userID's unread flag on the conversation.
func (m *MessagesStore) SetUnread(ctx context.Context, convID, userID int64, unread bool) error {
	op := "$pull"
	if unread {
		op = "$addToSet"
	}
	_, err := m.convs.UpdateOne(ctx, bson.M{"_id": convID}, bson.M{op: bson.M{"unread_for": userID}})
	return err
}

// CreateMessage inserts msg and assigns its id.
func (m *MessagesStore) CreateMessage(ctx context.Context, msg *DirectMessage) error {
	id, err := m.msgSeq.Next(ctx)
	if err != nil {
		return err
	}
	msg.ID = id
	if _, err := m.msgs.InsertOne(ctx, msg); err != nil {
		return err
	}
	return nil
}

// GetMessage finds a direct message by id.
func (m *MessagesStore) GetMessage(ctx context.Context, id int64) (*DirectMessage, error) {
	var msg DirectMessage
	if err := m.msgs.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// History returns every message in the conversation, oldest first.
func (m *MessagesStore) History(ctx context.Context, convID int64) ([]*DirectMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.msgs.Find(ctx, bson.M{"chat_id": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*DirectMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessage returns the newest message, or ErrNotFound for an empty conversation.
func (m *MessagesStore) LastMessage(ctx context.Context, convID int64) (*DirectMessage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var msg DirectMessage
	if err := m.msgs.FindOne(ctx, bson.M{"chat_id": convID}, opts).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// UnreadCount counts messages userID has not read yet.
func (m *MessagesStore) UnreadCount(ctx context.Context, convID, userID int64) (int64, error) {
	return m.msgs.CountDocuments(ctx, bson.M{
		"chat_id":   convID,
		"is_read":   false,
		"sender_id": bson.M{"$ne": userID},
	})
}

// MarkRead flips every unread message not sent by readerID and returns
// exactly the ids this call flipped. The flip and the id collection share a
// batch token, so two concurrent readers never both report the same id.
// Read and delete tokens live in separate fields so a concurrent delete can
// not steal ids from a read receipt.
func (m *MessagesStore) MarkRead(ctx context.Context, convID, readerID int64) ([]int64, error) {
	batch := bson.NewObjectID().Hex()
	res, err := m.msgs.UpdateMany(ctx,
		bson.M{"chat_id": convID, "is_read": false, "sender_id": bson.M{"$ne": readerID}},
		bson.M{"$set": bson.M{"is_read": true, "read_batch": batch}},
	)
	if err != nil {
		return nil, fmt.Errorf("mark conversation %d read: %w", convID, err)
	}
	if err := m.SetUnread(ctx, convID, readerID, false); err != nil {
		return nil, err
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}
	return collectBatch(ctx, m.msgs, "read_batch", batch)
}

// EditMessage replaces the content of a live message owned by senderID.
// It returns ErrNotFound when no such live message exists.
func (m *MessagesStore) EditMessage(ctx context.Context, id, senderID int64, content string, at time.Time) error {
	res, err := m.msgs.UpdateOne(ctx,
		bson.M{"_id": id, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{"content": content, "edited_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete tombstones the live messages among ids that senderID owns in
// the conversation and returns the ids actually affected.
func (m *MessagesStore) SoftDelete(ctx context.Context, convID, senderID int64, ids []int64, at time.Time) ([]int64, error) {
	batch := bson.NewObjectID().Hex()
	res, err := m.msgs.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "chat_id": convID, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "deleted_at": at, "content": "", "image": "", "delete_batch": batch}},
	)
	if err != nil {
		return nil, err
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}
	return collectBatch(ctx, m.msgs, "delete_batch", batch)
}

func (m *MessagesStore) findConversation(ctx context.Context, filter bson.M) (*Conversation, error) {
	var conv Conversation
	if err := m.convs.FindOne(ctx, filter).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// collectBatch returns the _id of every document whose field holds batch,
// ascending.
func collectBatch(ctx context.Context, coll *mongo.Collection, field, batch string) ([]int64, error) {
	return distinctInt64(ctx, coll, "_id", bson.M{field: batch})
}

func distinctInt64(ctx context.Context, coll *mongo.Collection, field string, filter bson.M) ([]int64, error) {
	opts := options.Find().
		SetProjection(bson.M{field: 1}).
		SetSort(bson.D{{Key: field, Value: 1}})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		v, err := cursor.Current.LookupErr(field)
		if err != nil {
			return nil, err
		}
		id, ok := v.Int64OK()
		if !ok {
			return nil, fmt.Errorf("%s is not an integer", field)
		}
		ids = append(ids, id)
	}
	return ids, cursor.Err()
}
