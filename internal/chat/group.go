package chat

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"go.uber.org/zap"
)

// fullyRead reports whether a message has been read by every member other
// than its sender.
func fullyRead(readCount int64, memberCount int) bool {
	return memberCount <= 1 || readCount >= int64(memberCount-1)
}

func (s *Session) startGroup(ctx context.Context) error {
	svc := s.svc
	if !s.group.IsMember(s.user.ID) {
		added, err := svc.groups.AddMember(ctx, s.group.ID, s.user.ID)
		if err != nil {
			return fmt.Errorf("join group %d: %w", s.group.ID, err)
		}
		s.group.MemberIDs = append(s.group.MemberIDs, s.user.ID)
		if added {
			s.logger.Info("joined group")
			if err := svc.pushGroupLists(ctx, s.group.MemberIDs...); err != nil {
				return err
			}
		}
	}

	topic := fanout.GroupTopic(s.group.ID)
	if err := s.joinRoom(ctx, topic, topic, fanout.GlobalGroupDirectory); err != nil {
		return err
	}

	history, err := svc.groupHistory(ctx, s.group, s.user)
	if err != nil {
		return err
	}
	s.send(history)
	return nil
}

// groupHistory renders the group's messages for viewer, bucketed by
// calendar day in the viewer's zone, with the member roster.
func (s *Service) groupHistory(ctx context.Context, g *data.Group, viewer *data.User) (GroupHistory, error) {
	msgs, err := s.groups.History(ctx, g.ID)
	if err != nil {
		return GroupHistory{}, fmt.Errorf("load history of group %d: %w", g.ID, err)
	}
	markers, err := s.groups.Markers(ctx, g.ID)
	if err != nil {
		return GroupHistory{}, fmt.Errorf("load read markers of group %d: %w", g.ID, err)
	}

	ids := append([]int64(nil), g.MemberIDs...)
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	users, err := s.directory.GetUsers(ctx, dedup(ids))
	if err != nil {
		return GroupHistory{}, fmt.Errorf("load group members: %w", err)
	}

	type readState struct {
		read int64
		mine *bool
	}
	state := make(map[int64]*readState, len(msgs))
	for _, mk := range markers {
		st, ok := state[mk.MessageID]
		if !ok {
			st = &readState{}
			state[mk.MessageID] = st
		}
		if mk.IsRead {
			st.read++
		}
		if mk.UserID == viewer.ID {
			read := mk.IsRead
			st.mine = &read
		}
	}

	loc := s.locationFor(viewer)
	days := make(map[string][]GroupMessageView)
	for _, m := range msgs {
		v := GroupMessageView{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Timestamp: formatTime(m.CreatedAt, loc),
			IsRead:    m.ReadByAll || len(g.MemberIDs) <= 1,
			ReadByMe:  true,
			Deleted:   m.Deleted,
		}
		if st, ok := state[m.ID]; ok {
			v.IsRead = v.IsRead || fullyRead(st.read, len(g.MemberIDs))
			if m.SenderID != viewer.ID && st.mine != nil {
				v.ReadByMe = *st.mine
			}
		}
		if u, ok := users[m.SenderID]; ok {
			v.Username = u.FirstName
			v.Photo = s.mediaURL(ctx, u.Photo)
		}
		if !m.Deleted {
			v.Message = m.Content
			v.EditedAt = formatTimePtr(m.EditedAt, loc)
		}
		day := m.CreatedAt.In(loc).Format(dayLayout)
		days[day] = append(days[day], v)
	}

	members := make([]UserView, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if u, ok := users[id]; ok {
			members = append(members, s.userView(ctx, u, loc))
		}
	}

	return GroupHistory{GroupID: g.ID, Name: g.Name, Days: days, Members: members}, nil
}

// currentGroup reloads the session's group so membership changes made by
// other sessions are seen.
func (s *Session) currentGroup(ctx context.Context) (*data.Group, error) {
	g, err := s.svc.groups.GetGroup(ctx, s.group.ID)
	if err != nil {
		return nil, fmt.Errorf("reload group %d: %w", s.group.ID, err)
	}
	return g, nil
}

func (s *Session) sendGroup(ctx context.Context, text string) error {
	svc := s.svc
	if emptyText(text) {
		return apperr.MalformedFrame("empty message", nil)
	}
	g, err := s.currentGroup(ctx)
	if err != nil {
		return err
	}

	recipients := make([]int64, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id != s.user.ID {
			recipients = append(recipients, id)
		}
	}
	msg := &data.GroupMessage{
		GroupID:   g.ID,
		SenderID:  s.user.ID,
		Content:   html.EscapeString(text),
		CreatedAt: svc.now(),
	}
	if err := svc.groups.CreateMessage(ctx, msg, recipients); err != nil {
		return fmt.Errorf("save group message: %w", err)
	}

	svc.router.Publish(fanout.GroupTopic(g.ID), ChatMessage{
		GroupID:   g.ID,
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Username:  s.user.FirstName,
		Photo:     svc.mediaURL(ctx, s.user.Photo),
		Message:   msg.Content,
		Timestamp: formatTime(msg.CreatedAt, svc.locationFor(s.user)),
	})
	return svc.pushGroupLists(ctx, g.MemberIDs...)
}

// markGroupRead flips the reader's markers, promotes messages every other
// member has now read, and notifies each original sender.
func (s *Session) markGroupRead(ctx context.Context) error {
	svc := s.svc
	ids, err := svc.groups.MarkRead(ctx, s.group.ID, s.user.ID)
	if err != nil {
		return fmt.Errorf("mark group %d read: %w", s.group.ID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	g, err := s.currentGroup(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		msg, err := svc.groups.GetMessage(ctx, id)
		if errors.Is(err, data.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load group message %d: %w", id, err)
		}
		count, err := svc.groups.ReadCount(ctx, id)
		if err != nil {
			return fmt.Errorf("count readers of %d: %w", id, err)
		}
		full := fullyRead(count, len(g.MemberIDs))
		if full && !msg.ReadByAll {
			if err := svc.groups.MarkFullyRead(ctx, id); err != nil {
				return fmt.Errorf("mark %d fully read: %w", id, err)
			}
		}
		svc.router.Publish(fanout.UserTopic(msg.SenderID), ChatRead{
			GroupID:   g.ID,
			MessageID: id,
			ReaderID:  s.user.ID,
			IsRead:    full,
		})
	}

	s.logger.Debug("group messages read", zap.Int64s("message_ids", ids))
	svc.router.Publish(fanout.UserTopic(s.user.ID), GroupMessagesRead{
		GroupID:    g.ID,
		MessageIDs: ids,
		ReaderID:   s.user.ID,
	})
	return svc.pushGroupLists(ctx, s.user.ID)
}

func (s *Session) probeGroup(ctx context.Context, id int64) (messageFacts, error) {
	m, err := s.svc.groups.GetMessage(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return messageFacts{}, nil
	}
	if err != nil {
		return messageFacts{}, fmt.Errorf("load group message %d: %w", id, err)
	}
	if m.GroupID != s.group.ID {
		return messageFacts{}, nil
	}
	return messageFacts{found: true, sender: m.SenderID, deleted: m.Deleted}, nil
}

func (s *Session) editGroup(ctx context.Context, id int64, text string) error {
	svc := s.svc
	if emptyText(text) {
		return apperr.MalformedFrame("empty message", nil)
	}
	if err := checkMutable(ctx, s.probeGroup, id, s.user.ID); err != nil {
		return err
	}
	at := svc.now()
	content := html.EscapeString(text)
	err := svc.groups.EditMessage(ctx, id, s.user.ID, content, at)
	if errors.Is(err, data.ErrNotFound) {
		return apperr.AlreadyDeleted("message was deleted")
	}
	if err != nil {
		return fmt.Errorf("edit group message %d: %w", id, err)
	}
	svc.router.Publish(fanout.GroupTopic(s.group.ID), MessageEdited{
		GroupID:  s.group.ID,
		ID:       id,
		Message:  content,
		EditedAt: formatTime(at, svc.locationFor(s.user)),
	})

	g, err := s.currentGroup(ctx)
	if err != nil {
		return err
	}
	return svc.pushGroupLists(ctx, g.MemberIDs...)
}

func (s *Session) deleteGroup(ctx context.Context, ids []int64) error {
	svc := s.svc
	if len(ids) == 0 {
		return apperr.NoValidIDs("no valid message ids")
	}
	deleted, err := svc.groups.SoftDelete(ctx, s.group.ID, s.user.ID, ids, svc.now())
	if err != nil {
		return fmt.Errorf("delete group messages: %w", err)
	}
	if len(deleted) == 0 {
		return untouchedReason(ctx, s.probeGroup, ids, s.user.ID)
	}
	svc.router.Publish(fanout.GroupTopic(s.group.ID), MessagesDeleted{GroupID: s.group.ID, IDs: deleted})

	g, err := s.currentGroup(ctx)
	if err != nil {
		return err
	}
	return svc.pushGroupLists(ctx, g.MemberIDs...)
}
