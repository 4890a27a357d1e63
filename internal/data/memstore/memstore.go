// Package memstore keeps the directory, direct and group stores in process
// memory. It backs STORE=memory development runs and the chat tests, and
// mirrors the semantics of the MongoDB stores in package data.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/normalize"
)

// Store holds every collection behind one mutex, which plays the part of the
// database's per-operation atomicity.
type Store struct {
	mu sync.Mutex

	users    map[int64]*data.User
	convs    map[int64]*data.Conversation
	pairs    map[[2]int64]int64
	direct   map[int64]*data.DirectMessage
	groups   map[int64]*data.Group
	groupMsg map[int64]*data.GroupMessage
	markers  []*data.ReadMarker

	nextUser, nextConv, nextDirect, nextGroup, nextGroupMsg int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:    map[int64]*data.User{},
		convs:    map[int64]*data.Conversation{},
		pairs:    map[[2]int64]int64{},
		direct:   map[int64]*data.DirectMessage{},
		groups:   map[int64]*data.Group{},
		groupMsg: map[int64]*data.GroupMessage{},
	}
}

// Directory

// CreateUser inserts u. A zero ID is assigned from the sequence.
func (s *Store) CreateUser(_ context.Context, u *data.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = normalize.Email(u.Email)
	for _, existing := range s.users {
		if u.Email != "" && existing.Email == u.Email {
			return data.ErrDuplicate
		}
	}
	if u.ID == 0 {
		s.nextUser++
		u.ID = s.nextUser
	} else if _, taken := s.users[u.ID]; taken {
		return data.ErrDuplicate
	}
	if u.ID > s.nextUser {
		s.nextUser = u.ID
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = normalize.Email(email)
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *Store) GetUsers(_ context.Context, ids []int64) (map[int64]*data.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*data.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) SetPresence(_ context.Context, id int64, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return data.ErrNotFound
	}
	u.IsOnline = online
	if !online {
		u.LastSeen = lastSeen
	}
	return nil
}

// Direct conversations

func (s *Store) GetOrCreateConversation(_ context.Context, a, b int64) (*data.Conversation, error) {
	if a == b {
		return nil, fmt.Errorf("conversation needs two distinct users, got %d twice", a)
	}
	u1, u2 := normalize.Pair(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[[2]int64{u1, u2}]; ok {
		return copyConv(s.convs[id]), nil
	}
	s.nextConv++
	c := &data.Conversation{ID: s.nextConv, User1: u1, User2: u2, UnreadFor: []int64{}, CreatedAt: time.Now()}
	s.convs[c.ID] = c
	s.pairs[[2]int64{u1, u2}] = c.ID
	return copyConv(c), nil
}

func (s *Store) GetConversation(_ context.Context, id int64) (*data.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyConv(c), nil
}

func (s *Store) ConversationsFor(_ context.Context, userID int64) ([]*data.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Conversation
	for _, c := range s.convs {
		if c.Has(userID) {
			out = append(out, copyConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetUnread(_ context.Context, convID, userID int64, unread bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil
	}
	s.setUnreadLocked(c, userID, unread)
	return nil
}

func (s *Store) setUnreadLocked(c *data.Conversation, userID int64, unread bool) {
	kept := c.UnreadFor[:0:0]
	for _, id := range c.UnreadFor {
		if id != userID {
			kept = append(kept, id)
		}
	}
	if unread {
		kept = append(kept, userID)
	}
	c.UnreadFor = kept
}

func (s *Store) CreateMessage(_ context.Context, m *data.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDirect++
	m.ID = s.nextDirect
	cp := *m
	s.direct[m.ID] = &cp
	return nil
}

func (s *Store) GetMessage(_ context.Context, id int64) (*data.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.direct[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) History(_ context.Context, convID int64) ([]*data.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directHistoryLocked(convID), nil
}

func (s *Store) directHistoryLocked(convID int64) []*data.DirectMessage {
	var out []*data.DirectMessage
	for _, m := range s.direct {
		if m.ConversationID == convID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) LastMessage(_ context.Context, convID int64) (*data.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.directHistoryLocked(convID)
	if len(h) == 0 {
		return nil, data.ErrNotFound
	}
	return h[len(h)-1], nil
}

func (s *Store) UnreadCount(_ context.Context, convID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.direct {
		if m.ConversationID == convID && !m.IsRead && m.SenderID != userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkRead(_ context.Context, convID, readerID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, m := range s.direct {
		if m.ConversationID == convID && !m.IsRead && m.SenderID != readerID {
			m.IsRead = true
			ids = append(ids, m.ID)
		}
	}
	if c, ok := s.convs[convID]; ok {
		s.setUnreadLocked(c, readerID, false)
	}
	sortIDs(ids)
	return ids, nil
}

func (s *Store) EditMessage(_ context.Context, id, senderID int64, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.direct[id]
	if !ok || m.SenderID != senderID || m.Deleted {
		return data.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &at
	return nil
}

func (s *Store) SoftDelete(_ context.Context, convID, senderID int64, ids []int64, at time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, id := range ids {
		m, ok := s.direct[id]
		if !ok || m.ConversationID != convID || m.SenderID != senderID || m.Deleted {
			continue
		}
		m.Deleted = true
		m.DeletedAt = &at
		m.Content = ""
		m.Image = ""
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

func copyConv(c *data.Conversation) *data.Conversation {
	cp := *c
	cp.UnreadFor = append([]int64(nil), c.UnreadFor...)
	return &cp
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// lowerContains reports whether s contains sub, ignoring case.
func lowerContains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
