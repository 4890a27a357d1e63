// Package data provides DB models and stores.
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
)

// UsersStore is the user directory: profile lookups, login lookups and
// presence writes.
type UsersStore struct {
	coll *mongo.Collection
	seq  *db.Sequence
}

// NewUsersStore returns a UsersStore using the provided collection and id sequence.
func NewUsersStore(coll *mongo.Collection, seq *db.Sequence) *UsersStore {
	return &UsersStore{coll: coll, seq: seq}
}

// CreateUser inserts a user and assigns its id. Password must already be hashed.
func (u *UsersStore) CreateUser(ctx context.Context, user *User) error {
	id, err := u.seq.Next(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	user.ID = id
	user.Email = normalize.Email(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetUser finds a user by id.
func (u *UsersStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return u.findOne(ctx, bson.M{"_id": id})
}

// GetUsers loads several users at once. Unknown ids are absent from the map.
func (u *UsersStore) GetUsers(ctx context.Context, ids []int64) (map[int64]*User, error) {
	out := make(map[int64]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, usr := range users {
		out[usr.ID] = usr
	}
	return out, nil
}

// SetPresence records the online flag and, when going offline, last-seen.
func (u *UsersStore) SetPresence(ctx context.Context, id int64, online bool, lastSeen time.Time) error {
	set := bson.M{"is_online": online}
	if !online {
		set["last_seen"] = lastSeen
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set presence for user %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}
