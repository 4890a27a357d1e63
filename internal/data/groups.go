package data

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/db"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// GroupsStore persists groups, group messages and per-member read markers.
type GroupsStore struct {
	groups   *mongo.Collection
	msgs     *mongo.Collection
	markers  *mongo.Collection
	groupSeq *db.Sequence
	msgSeq   *db.Sequence
}

// NewGroupsStore returns a GroupsStore over the group collections of c.
func NewGroupsStore(c *db.Client) *GroupsStore {
	return &GroupsStore{
		groups:   c.Collection(db.Groups),
		msgs:     c.Collection(db.GroupMessages),
		markers:  c.Collection(db.ReadMarkers),
		groupSeq: c.Sequence(db.Groups),
		msgSeq:   c.Sequence(db.GroupMessages),
	}
}

// CreateGroup inserts g and assigns its id.
func (s *GroupsStore) CreateGroup(ctx context.Context, g *Group) error {
	id, err := s.groupSeq.Next(ctx)
	if err != nil {
		return err
	}
	g.ID = id
	if g.MemberIDs == nil {
		g.MemberIDs = []int64{}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err = s.groups.InsertOne(ctx, g)
	return err
}

// GetGroup finds a group by id.
func (s *GroupsStore) GetGroup(ctx context.Context, id int64) (*Group, error) {
	var g Group
	if err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// AddMember adds userID to the group's member set. It reports whether the
// user was newly added.
func (s *GroupsStore) AddMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := s.groups.UpdateOne(ctx,
		bson.M{"_id": groupID},
		bson.M{"$addToSet": bson.M{"members": userID}},
	)
	if err != nil {
		return false, fmt.Errorf("add member %d to group %d: %w", userID, groupID, err)
	}
	if res.MatchedCount == 0 {
		return false, ErrNotFound
	}
	return res.ModifiedCount == 1, nil
}

// GroupsFor lists the groups userID belongs to.
func (s *GroupsStore) GroupsFor(ctx context.Context, userID int64) ([]*Group, error) {
	return s.findGroups(ctx, bson.M{"members": userID})
}

// SearchGroups lists userID's groups whose name contains query, ignoring case.
func (s *GroupsStore) SearchGroups(ctx context.Context, userID int64, query string) ([]*Group, error) {
	return s.findGroups(ctx, bson.M{
		"members": userID,
		"name":    bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"},
	})
}

// CreateMessage inserts msg, assigns its id and creates an unread marker for
// each recipient. Callers must leave the sender out of recipients.
func (s *GroupsStore) CreateMessage(ctx context.Context, msg *GroupMessage, recipients []int64) error {
	id, err := s.msgSeq.Next(ctx)
	if err != nil {
		return err
	}
	msg.ID = id
	if _, err := s.msgs.InsertOne(ctx, msg); err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(recipients))
	for _, uid := range recipients {
		docs = append(docs, &ReadMarker{
			MessageID: msg.ID,
			GroupID:   msg.GroupID,
			UserID:    uid,
			SenderID:  msg.SenderID,
		})
	}
	if _, err := s.markers.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("create read markers for message %d: %w", msg.ID, err)
	}
	return nil
}

// GetMessage finds a group message by id.
func (s *GroupsStore) GetMessage(ctx context.Context, id int64) (*GroupMessage, error) {
	var msg GroupMessage
	if err := s.msgs.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// History returns every message in the group, oldest first.
func (s *GroupsStore) History(ctx context.Context, groupID int64) ([]*GroupMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.msgs.Find(ctx, bson.M{"group_id": groupID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*GroupMessage
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessage returns the newest message, or ErrNotFound for an empty group.
func (s *GroupsStore) LastMessage(ctx context.Context, groupID int64) (*GroupMessage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var msg GroupMessage
	if err := s.msgs.FindOne(ctx, bson.M{"group_id": groupID}, opts).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// Markers returns every read marker in the group.
func (s *GroupsStore) Markers(ctx context.Context, groupID int64) ([]*ReadMarker, error) {
	cursor, err := s.markers.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*ReadMarker
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount counts userID's unread markers, ignoring messages userID sent.
func (s *GroupsStore) UnreadCount(ctx context.Context, groupID, userID int64) (int64, error) {
	return s.markers.CountDocuments(ctx, bson.M{
		"group_id":  groupID,
		"user_id":   userID,
		"is_read":   false,
		"sender_id": bson.M{"$ne": userID},
	})
}

// MarkRead flips readerID's unread markers in the group and returns the ids
// of the messages this call flipped.
func (s *GroupsStore) MarkRead(ctx context.Context, groupID, readerID int64) ([]int64, error) {
	batch := bson.NewObjectID().Hex()
	res, err := s.markers.UpdateMany(ctx,
		bson.M{"group_id": groupID, "user_id": readerID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_batch": batch}},
	)
	if err != nil {
		return nil, fmt.Errorf("mark group %d read: %w", groupID, err)
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}
	return distinctInt64(ctx, s.markers, "message_id", bson.M{"read_batch": batch})
}

// ReadCount counts the read markers of a message.
func (s *GroupsStore) ReadCount(ctx context.Context, messageID int64) (int64, error) {
	return s.markers.CountDocuments(ctx, bson.M{"message_id": messageID, "is_read": true})
}

// MarkFullyRead flags the message as read by everyone and settles its markers.
func (s *GroupsStore) MarkFullyRead(ctx context.Context, messageID int64) error {
	if _, err := s.msgs.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{"$set": bson.M{"read_by_all": true}}); err != nil {
		return err
	}
	_, err := s.markers.UpdateMany(ctx,
		bson.M{"message_id": messageID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	return err
}

// EditMessage replaces the content of a live message owned by senderID.
func (s *GroupsStore) EditMessage(ctx context.Context, id, senderID int64, content string, at time.Time) error {
	res, err := s.msgs.UpdateOne(ctx,
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
// the group and returns the ids actually affected.
func (s *GroupsStore) SoftDelete(ctx context.Context, groupID, senderID int64, ids []int64, at time.Time) ([]int64, error) {
	batch := bson.NewObjectID().Hex()
	res, err := s.msgs.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "group_id": groupID, "sender_id": senderID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "deleted_at": at, "content": "", "delete_batch": batch}},
	)
	if err != nil {
		return nil, err
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}
	return collectBatch(ctx, s.msgs, "delete_batch", batch)
}

func (s *GroupsStore) findGroups(ctx context.Context, filter bson.M) ([]*Group, error) {
	cursor, err := s.groups.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Group
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
