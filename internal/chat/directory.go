package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"golang.org/x/sync/errgroup"
)

// pushFanout bounds concurrent list rebuilds for one directory push.
const pushFanout = 8

func sortByActivity(entries []ListEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].activity > entries[j].activity
	})
}

func preview(content string, deleted bool) *string {
	if deleted {
		return nil
	}
	return &content
}

// chatList builds user's conversation directory, most recent first.
func (s *Service) chatList(ctx context.Context, user *data.User) ([]ListEntry, error) {
	convs, err := s.direct.ConversationsFor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations of %d: %w", user.ID, err)
	}
	peerIDs := make([]int64, 0, len(convs))
	for _, c := range convs {
		peerIDs = append(peerIDs, c.Peer(user.ID))
	}
	peers, err := s.directory.GetUsers(ctx, peerIDs)
	if err != nil {
		return nil, fmt.Errorf("load conversation peers: %w", err)
	}

	loc := s.locationFor(user)
	entries := make([]ListEntry, 0, len(convs))
	for _, c := range convs {
		peer, ok := peers[c.Peer(user.ID)]
		if !ok {
			continue
		}
		unread, err := s.direct.UnreadCount(ctx, c.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("count unread in chat %d: %w", c.ID, err)
		}
		other := s.userView(ctx, peer, loc)
		e := ListEntry{
			Type:           "private",
			ChatID:         c.ID,
			OtherUser:      &other,
			UnreadMessages: unread,
			HasUnread:      unread > 0 || c.HasUnread(user.ID),
			activity:       c.CreatedAt.UnixNano(),
		}
		last, err := s.direct.LastMessage(ctx, c.ID)
		switch {
		case errors.Is(err, data.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("last message of chat %d: %w", c.ID, err)
		default:
			e.LastMessage = preview(last.Content, last.Deleted)
			e.LastUpdated = formatTimePtr(&last.CreatedAt, loc)
			e.activity = last.CreatedAt.UnixNano()
		}
		entries = append(entries, e)
	}
	sortByActivity(entries)
	return entries, nil
}

func (s *Service) groupEntry(ctx context.Context, g *data.Group, user *data.User) (ListEntry, error) {
	loc := s.locationFor(user)
	unread, err := s.groups.UnreadCount(ctx, g.ID, user.ID)
	if err != nil {
		return ListEntry{}, fmt.Errorf("count unread in group %d: %w", g.ID, err)
	}
	e := ListEntry{
		Type:           "group",
		GroupID:        g.ID,
		Name:           g.Name,
		Image:          s.mediaURL(ctx, g.Image),
		UnreadMessages: unread,
		HasUnread:      unread > 0,
		activity:       g.CreatedAt.UnixNano(),
	}
	last, err := s.groups.LastMessage(ctx, g.ID)
	switch {
	case errors.Is(err, data.ErrNotFound):
	case err != nil:
		return ListEntry{}, fmt.Errorf("last message of group %d: %w", g.ID, err)
	default:
		e.LastMessage = preview(last.Content, last.Deleted)
		e.LastUpdated = formatTimePtr(&last.CreatedAt, loc)
		e.activity = last.CreatedAt.UnixNano()
	}
	return e, nil
}

func (s *Service) groupEntries(ctx context.Context, groups []*data.Group, user *data.User) ([]ListEntry, error) {
	entries := make([]ListEntry, 0, len(groups))
	for _, g := range groups {
		e, err := s.groupEntry(ctx, g, user)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sortByActivity(entries)
	return entries, nil
}

// groupList builds user's group directory with unread counts that never
// include the user's own messages.
func (s *Service) groupList(ctx context.Context, user *data.User) ([]ListEntry, error) {
	groups, err := s.groups.GroupsFor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list groups of %d: %w", user.ID, err)
	}
	return s.groupEntries(ctx, groups, user)
}

// pushLists rebuilds one list per user in parallel and publishes it to the
// user's own topic.
func (s *Service) pushLists(ctx context.Context, userIDs []int64, build func(context.Context, *data.User) (Event, error)) error {
	users, err := s.directory.GetUsers(ctx, dedup(userIDs))
	if err != nil {
		return fmt.Errorf("load users for directory push: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pushFanout)
	for _, u := range users {
		u := u
		g.Go(func() error {
			ev, err := build(gctx, u)
			if err != nil {
				return err
			}
			s.router.Publish(fanout.UserTopic(u.ID), ev)
			return nil
		})
	}
	return g.Wait()
}

// pushChatLists sends a fresh chat_list_update to every listed user.
func (s *Service) pushChatLists(ctx context.Context, userIDs ...int64) error {
	return s.pushLists(ctx, userIDs, func(ctx context.Context, u *data.User) (Event, error) {
		chats, err := s.chatList(ctx, u)
		if err != nil {
			return nil, err
		}
		return ChatListUpdate{Chats: chats}, nil
	})
}

// pushGroupLists sends a fresh group_list_update to every listed user.
func (s *Service) pushGroupLists(ctx context.Context, userIDs ...int64) error {
	return s.pushLists(ctx, userIDs, func(ctx context.Context, u *data.User) (Event, error) {
		groups, err := s.groupList(ctx, u)
		if err != nil {
			return nil, err
		}
		return GroupListUpdate{Groups: groups}, nil
	})
}

// search answers a search frame. An empty query matches nothing. Direct
// sessions search peers and groups; group sessions search groups only.
func (s *Session) search(ctx context.Context, query string) error {
	results, err := s.svc.searchEntries(ctx, s.user, s.kind, query)
	if err != nil {
		return err
	}
	s.send(SearchResults{Query: query, Results: results})
	return nil
}

func (s *Service) searchEntries(ctx context.Context, user *data.User, kind Kind, query string) ([]ListEntry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []ListEntry{}, nil
	}

	var results []ListEntry
	if kind == KindDirect {
		chats, err := s.chatList(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, c := range chats {
			if strings.Contains(strings.ToLower(c.OtherUser.Username), q) {
				results = append(results, c)
			}
		}
	}

	groups, err := s.groups.SearchGroups(ctx, user.ID, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("search groups: %w", err)
	}
	matched, err := s.groupEntries(ctx, groups, user)
	if err != nil {
		return nil, err
	}
	results = append(results, matched...)
	sortByActivity(results)
	if results == nil {
		results = []ListEntry{}
	}
	return results, nil
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
