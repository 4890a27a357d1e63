package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := &data.User{Email: " Alice@Example.COM ", FirstName: "Alice"}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.EqualValues(t, 1, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	assert.ErrorIs(t, s.CreateUser(ctx, &data.User{Email: "alice@example.com"}), data.ErrDuplicate)
	assert.ErrorIs(t, s.CreateUser(ctx, &data.User{ID: 1, Email: "other@example.com"}), data.ErrDuplicate)

	_, err = s.GetUser(ctx, 99)
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestSetPresence(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, &data.User{ID: 7, Email: "a@b.c"}))

	seen := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetPresence(ctx, 7, true, seen))
	u, _ := s.GetUser(ctx, 7)
	assert.True(t, u.IsOnline)
	assert.True(t, u.LastSeen.IsZero())

	require.NoError(t, s.SetPresence(ctx, 7, false, seen))
	u, _ = s.GetUser(ctx, 7)
	assert.False(t, u.IsOnline)
	assert.True(t, u.LastSeen.Equal(seen))
}

func TestConversationIsSymmetric(t *testing.T) {
	ctx := context.Background()
	s := New()

	ab, err := s.GetOrCreateConversation(ctx, 9, 5)
	require.NoError(t, err)
	ba, err := s.GetOrCreateConversation(ctx, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, ab.ID, ba.ID)
	assert.EqualValues(t, 5, ab.User1)
	assert.EqualValues(t, 9, ab.User2)

	_, err = s.GetOrCreateConversation(ctx, 5, 5)
	assert.Error(t, err)
}

func TestDirectReadAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	c, _ := s.GetOrCreateConversation(ctx, 1, 2)
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, sender := range []int64{1, 1, 2} {
		m := &data.DirectMessage{ConversationID: c.ID, SenderID: sender, Content: "m", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.CreateMessage(ctx, m))
	}
	require.NoError(t, s.SetUnread(ctx, c.ID, 2, true))

	n, _ := s.UnreadCount(ctx, c.ID, 2)
	assert.EqualValues(t, 2, n)

	ids, err := s.MarkRead(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
	conv, _ := s.GetConversation(ctx, c.ID)
	assert.False(t, conv.HasUnread(2))

	last, err := s.LastMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, last.ID)

	deleted, err := s.SoftDelete(ctx, c.ID, 1, []int64{3, 2, 1, 42}, base)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, deleted)

	m, _ := s.GetMessage(ctx, 2)
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Content)
	assert.ErrorIs(t, s.EditMessage(ctx, 2, 1, "again", base), data.ErrNotFound)
}

func TestGroupMarkers(t *testing.T) {
	ctx := context.Background()
	g := New().Groups()

	grp := &data.Group{Name: "Investors", MemberIDs: []int64{1, 2}}
	require.NoError(t, g.CreateGroup(ctx, grp))

	added, err := g.AddMember(ctx, grp.ID, 3)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = g.AddMember(ctx, grp.ID, 3)
	require.NoError(t, err)
	assert.False(t, added)

	m := &data.GroupMessage{GroupID: grp.ID, SenderID: 1, Content: "hi", CreatedAt: time.Now()}
	require.NoError(t, g.CreateMessage(ctx, m, []int64{2, 3}))

	n, _ := g.UnreadCount(ctx, grp.ID, 2)
	assert.EqualValues(t, 1, n)
	n, _ = g.UnreadCount(ctx, grp.ID, 1)
	assert.Zero(t, n)

	ids, err := g.MarkRead(ctx, grp.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, ids)
	read, _ := g.ReadCount(ctx, m.ID)
	assert.EqualValues(t, 1, read)

	require.NoError(t, g.MarkFullyRead(ctx, m.ID))
	got, _ := g.GetMessage(ctx, m.ID)
	assert.True(t, got.ReadByAll)
	read, _ = g.ReadCount(ctx, m.ID)
	assert.EqualValues(t, 2, read)

	found, _ := g.SearchGroups(ctx, 3, "invest")
	assert.Len(t, found, 1)
	found, _ = g.SearchGroups(ctx, 4, "invest")
	assert.Empty(t, found)
}
