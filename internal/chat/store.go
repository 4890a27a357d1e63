package chat

import (
	"context"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/data"
)

// Directory is the user lookup the chat core consumes. Accounts are owned
// elsewhere; the core only reads profiles and writes presence.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*data.User, error)
	GetUsers(ctx context.Context, ids []int64) (map[int64]*data.User, error)
	SetPresence(ctx context.Context, id int64, online bool, lastSeen time.Time) error
}

// DirectStore persists conversations and direct messages. MarkRead and
// SoftDelete must be atomic and return exactly the ids they changed.
type DirectStore interface {
	GetOrCreateConversation(ctx context.Context, a, b int64) (*data.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*data.Conversation, error)
	ConversationsFor(ctx context.Context, userID int64) ([]*data.Conversation, error)
	SetUnread(ctx context.Context, convID, userID int64, unread bool) error
	CreateMessage(ctx context.Context, msg *data.DirectMessage) error
	GetMessage(ctx context.Context, id int64) (*data.DirectMessage, error)
	History(ctx context.Context, convID int64) ([]*data.DirectMessage, error)
	LastMessage(ctx context.Context, convID int64) (*data.DirectMessage, error)
	UnreadCount(ctx context.Context, convID, userID int64) (int64, error)
	MarkRead(ctx context.Context, convID, readerID int64) ([]int64, error)
	EditMessage(ctx context.Context, id, senderID int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, convID, senderID int64, ids []int64, at time.Time) ([]int64, error)
}

// GroupStore persists groups, group messages and per-member read markers.
type GroupStore interface {
	GetGroup(ctx context.Context, id int64) (*data.Group, error)
	AddMember(ctx context.Context, groupID, userID int64) (bool, error)
	GroupsFor(ctx context.Context, userID int64) ([]*data.Group, error)
	SearchGroups(ctx context.Context, userID int64, query string) ([]*data.Group, error)
	CreateMessage(ctx context.Context, msg *data.GroupMessage, recipients []int64) error
	GetMessage(ctx context.Context, id int64) (*data.GroupMessage, error)
	History(ctx context.Context, groupID int64) ([]*data.GroupMessage, error)
	LastMessage(ctx context.Context, groupID int64) (*data.GroupMessage, error)
	Markers(ctx context.Context, groupID int64) ([]*data.ReadMarker, error)
	UnreadCount(ctx context.Context, groupID, userID int64) (int64, error)
	MarkRead(ctx context.Context, groupID, readerID int64) ([]int64, error)
	ReadCount(ctx context.Context, messageID int64) (int64, error)
	MarkFullyRead(ctx context.Context, messageID int64) error
	EditMessage(ctx context.Context, id, senderID int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, groupID, senderID int64, ids []int64, at time.Time) ([]int64, error)
}

// JoinPolicy decides whether a user may enter a group it does not yet
// belong to.
type JoinPolicy interface {
	CanJoin(ctx context.Context, user *data.User, group *data.Group) bool
}

// JoinPolicyFunc adapts a function to JoinPolicy.
type JoinPolicyFunc func(ctx context.Context, user *data.User, group *data.Group) bool

func (f JoinPolicyFunc) CanJoin(ctx context.Context, user *data.User, group *data.Group) bool {
	return f(ctx, user, group)
}

// OpenJoin admits anyone who knows the group id; the connecting user is
// added to the membership.
var OpenJoin JoinPolicy = JoinPolicyFunc(func(context.Context, *data.User, *data.Group) bool { return true })

// MembersOnly admits existing members only.
var MembersOnly JoinPolicy = JoinPolicyFunc(func(_ context.Context, u *data.User, g *data.Group) bool {
	return g.IsMember(u.ID)
})

// PolicyByName maps a configuration value to a JoinPolicy. Unknown names
// get OpenJoin.
func PolicyByName(name string) JoinPolicy {
	if name == "members" {
		return MembersOnly
	}
	return OpenJoin
}
