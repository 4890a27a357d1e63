package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/data"
)

// Groups is a view of Store that satisfies the group store contract. It is
// separate from Store because both contracts name methods like History.
type Groups struct {
	s *Store
}

// Groups returns the group store view of s.
func (s *Store) Groups() *Groups {
	return &Groups{s: s}
}

func (g *Groups) CreateGroup(_ context.Context, grp *data.Group) error {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroup++
	grp.ID = s.nextGroup
	if grp.CreatedAt.IsZero() {
		grp.CreatedAt = time.Now()
	}
	s.groups[grp.ID] = copyGroup(grp)
	return nil
}

func (g *Groups) GetGroup(_ context.Context, id int64) (*data.Group, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	grp, ok := s.groups[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return copyGroup(grp), nil
}

func (g *Groups) AddMember(_ context.Context, groupID, userID int64) (bool, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	grp, ok := s.groups[groupID]
	if !ok {
		return false, data.ErrNotFound
	}
	if grp.IsMember(userID) {
		return false, nil
	}
	grp.MemberIDs = append(grp.MemberIDs, userID)
	return true, nil
}

func (g *Groups) GroupsFor(_ context.Context, userID int64) ([]*data.Group, error) {
	return g.find(func(grp *data.Group) bool { return grp.IsMember(userID) }), nil
}

func (g *Groups) SearchGroups(_ context.Context, userID int64, query string) ([]*data.Group, error) {
	return g.find(func(grp *data.Group) bool {
		return grp.IsMember(userID) && lowerContains(grp.Name, query)
	}), nil
}

func (g *Groups) find(match func(*data.Group) bool) []*data.Group {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Group
	for _, grp := range s.groups {
		if match(grp) {
			out = append(out, copyGroup(grp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Groups) CreateMessage(_ context.Context, m *data.GroupMessage, recipients []int64) error {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroupMsg++
	m.ID = s.nextGroupMsg
	cp := *m
	s.groupMsg[m.ID] = &cp
	for _, uid := range recipients {
		s.markers = append(s.markers, &data.ReadMarker{
			MessageID: m.ID,
			GroupID:   m.GroupID,
			UserID:    uid,
			SenderID:  m.SenderID,
		})
	}
	return nil
}

func (g *Groups) GetMessage(_ context.Context, id int64) (*data.GroupMessage, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMsg[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (g *Groups) History(_ context.Context, groupID int64) ([]*data.GroupMessage, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return g.historyLocked(groupID), nil
}

func (g *Groups) historyLocked(groupID int64) []*data.GroupMessage {
	var out []*data.GroupMessage
	for _, m := range g.s.groupMsg {
		if m.GroupID == groupID {
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

func (g *Groups) LastMessage(_ context.Context, groupID int64) (*data.GroupMessage, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	h := g.historyLocked(groupID)
	if len(h) == 0 {
		return nil, data.ErrNotFound
	}
	return h[len(h)-1], nil
}

func (g *Groups) Markers(_ context.Context, groupID int64) ([]*data.ReadMarker, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.ReadMarker
	for _, mk := range s.markers {
		if mk.GroupID == groupID {
			cp := *mk
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (g *Groups) UnreadCount(_ context.Context, groupID, userID int64) (int64, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, mk := range s.markers {
		if mk.GroupID == groupID && mk.UserID == userID && !mk.IsRead && mk.SenderID != userID {
			n++
		}
	}
	return n, nil
}

func (g *Groups) MarkRead(_ context.Context, groupID, readerID int64) ([]int64, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, mk := range s.markers {
		if mk.GroupID == groupID && mk.UserID == readerID && !mk.IsRead {
			mk.IsRead = true
			ids = append(ids, mk.MessageID)
		}
	}
	sortIDs(ids)
	return ids, nil
}

func (g *Groups) ReadCount(_ context.Context, messageID int64) (int64, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, mk := range s.markers {
		if mk.MessageID == messageID && mk.IsRead {
			n++
		}
	}
	return n, nil
}

func (g *Groups) MarkFullyRead(_ context.Context, messageID int64) error {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.groupMsg[messageID]; ok {
		m.ReadByAll = true
	}
	for _, mk := range s.markers {
		if mk.MessageID == messageID {
			mk.IsRead = true
		}
	}
	return nil
}

func (g *Groups) EditMessage(_ context.Context, id, senderID int64, content string, at time.Time) error {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groupMsg[id]
	if !ok || m.SenderID != senderID || m.Deleted {
		return data.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &at
	return nil
}

func (g *Groups) SoftDelete(_ context.Context, groupID, senderID int64, ids []int64, at time.Time) ([]int64, error) {
	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, id := range ids {
		m, ok := s.groupMsg[id]
		if !ok || m.GroupID != groupID || m.SenderID != senderID || m.Deleted {
			continue
		}
		m.Deleted = true
		m.DeletedAt = &at
		m.Content = ""
		out = append(out, id)
	}
	sortIDs(out)
	return out, nil
}

func copyGroup(g *data.Group) *data.Group {
	cp := *g
	cp.MemberIDs = append([]int64(nil), g.MemberIDs...)
	return &cp
}
