package data

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("already exists")
)

// User maps to the users collection. The chat core only reads profile fields
// and writes presence; accounts are managed elsewhere.
type User struct {
	ID        int64     `bson:"_id"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	FirstName string    `bson:"first_name"`
	Photo     string    `bson:"photo,omitempty"`     // media key
	TimeZone  string    `bson:"time_zone,omitempty"` // IANA name
	IsOnline  bool      `bson:"is_online"`
	LastSeen  time.Time `bson:"last_seen,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Conversation pairs two users. User1 is always the lower id.
type Conversation struct {
	ID        int64     `bson:"_id"`
	User1     int64     `bson:"user1"`
	User2     int64     `bson:"user2"`
	UnreadFor []int64   `bson:"unread_for"` // participants with unseen messages
	CreatedAt time.Time `bson:"created_at"`
}

// Has reports whether userID participates in c.
func (c *Conversation) Has(userID int64) bool {
	return c.User1 == userID || c.User2 == userID
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID int64) int64 {
	if c.User1 == userID {
		return c.User2
	}
	return c.User1
}

// HasUnread reports whether userID's unread flag is raised.
func (c *Conversation) HasUnread(userID int64) bool {
	for _, id := range c.UnreadFor {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectMessage maps to the direct_messages collection.
type DirectMessage struct {
	ID             int64      `bson:"_id"`
	ConversationID int64      `bson:"chat_id"`
	SenderID       int64      `bson:"sender_id"`
	Content        string     `bson:"content"`
	Image          string     `bson:"image,omitempty"` // media key
	ParentID       *int64     `bson:"parent_id,omitempty"`
	IsRead         bool       `bson:"is_read"`
	Deleted        bool       `bson:"deleted"`
	EditedAt       *time.Time `bson:"edited_at,omitempty"`
	DeletedAt      *time.Time `bson:"deleted_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	ReadBatch      string     `bson:"read_batch,omitempty"`   // last MarkRead token
	DeleteBatch    string     `bson:"delete_batch,omitempty"` // last SoftDelete token
}

// Group maps to the groups collection.
type Group struct {
	ID        int64     `bson:"_id"`
	Name      string    `bson:"name"`
	Image     string    `bson:"image,omitempty"` // media key
	MemberIDs []int64   `bson:"members"`
	CreatedAt time.Time `bson:"created_at"`
}

// IsMember reports whether userID belongs to g.
func (g *Group) IsMember(userID int64) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// GroupMessage maps to the group_messages collection.
type GroupMessage struct {
	ID          int64      `bson:"_id"`
	GroupID     int64      `bson:"group_id"`
	SenderID    int64      `bson:"sender_id"`
	Content     string     `bson:"content"`
	ReadByAll   bool       `bson:"read_by_all"`
	Deleted     bool       `bson:"deleted"`
	EditedAt    *time.Time `bson:"edited_at,omitempty"`
	DeletedAt   *time.Time `bson:"deleted_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	DeleteBatch string     `bson:"delete_batch,omitempty"`
}

// ReadMarker tracks whether one member has read one group message. Markers
// are never created for the message's own sender.
type ReadMarker struct {
	MessageID int64  `bson:"message_id"`
	GroupID   int64  `bson:"group_id"`
	UserID    int64  `bson:"user_id"`
	SenderID  int64  `bson:"sender_id"`
	IsRead    bool   `bson:"is_read"`
	ReadBatch string `bson:"read_batch,omitempty"`
}
