package data

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/investchat/internal/db"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PresenceSets is a set store kept in MongoDB so several chat processes
// share the same presence view. Every operation is a single atomic document
// update; nothing is read-modify-written in Go.
type PresenceSets struct {
	coll *mongo.Collection
}

// NewPresenceSets returns a PresenceSets over the presence collection of c.
func NewPresenceSets(c *db.Client) *PresenceSets {
	return &PresenceSets{coll: c.Collection(db.Presence)}
}

type setDoc struct {
	Members []string `bson:"members"`
}

// Add inserts member into the set at key and returns the new cardinality.
func (p *PresenceSets) Add(ctx context.Context, key, member string) (int64, error) {
	return p.update(ctx, key, bson.M{"$addToSet": bson.M{"members": member}}, true)
}

// Remove deletes member from the set at key and returns the new cardinality.
func (p *PresenceSets) Remove(ctx context.Context, key, member string) (int64, error) {
	return p.update(ctx, key, bson.M{"$pull": bson.M{"members": member}}, false)
}

// Card returns the cardinality of the set at key.
func (p *PresenceSets) Card(ctx context.Context, key string) (int64, error) {
	members, err := p.Members(ctx, key)
	return int64(len(members)), err
}

// Members returns the members of the set at key.
func (p *PresenceSets) Members(ctx context.Context, key string) ([]string, error) {
	var doc setDoc
	err := p.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Members, nil
}

func (p *PresenceSets) update(ctx context.Context, key string, update bson.M, upsert bool) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After)

	var doc setDoc
	err := p.coll.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(len(doc.Members)), nil
}
