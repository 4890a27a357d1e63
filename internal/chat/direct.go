package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"go.uber.org/zap"
)

// resolveConversation finds or creates the conversation between user and
// peerID. The pair is stored lower id first, so both sides resolve to the
// same conversation.
func (s *Service) resolveConversation(ctx context.Context, user *data.User, peerID int64) (*data.User, *data.Conversation, error) {
	if peerID == user.ID {
		return nil, nil, apperr.PeerNotFound("cannot open a conversation with yourself")
	}
	peer, err := s.lookupUser(ctx, peerID, apperr.PeerNotFound("receiver not found"))
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.direct.GetOrCreateConversation(ctx, user.ID, peer.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve conversation %d/%d: %w", user.ID, peer.ID, err)
	}
	return peer, conv, nil
}

func (s *Session) startDirect(ctx context.Context) error {
	svc := s.svc
	peerTopic := fanout.UserTopic(s.peer.ID)

	svc.router.Publish(peerTopic, UserStatusUpdate{UserID: s.user.ID, IsOnline: true})

	online, err := svc.presence.IsOnline(ctx, s.peer.ID)
	if err != nil {
		return err
	}
	status := UserStatus{UserID: s.peer.ID, IsOnline: online}
	if !online && !s.peer.LastSeen.IsZero() {
		status.LastSeen = formatTimePtr(&s.peer.LastSeen, svc.locationFor(s.user))
	}
	s.send(status)

	topic := fanout.ConversationTopic(s.conv.ID)
	if err := s.joinRoom(ctx, topic, topic); err != nil {
		return err
	}

	history, err := svc.directHistory(ctx, s.conv, s.user, s.peer)
	if err != nil {
		return err
	}
	s.send(history)

	return s.markDirectRead(ctx)
}

// directHistory renders every message of conv, oldest first, for viewer.
func (s *Service) directHistory(ctx context.Context, conv *data.Conversation, viewer, peer *data.User) (ChatHistory, error) {
	msgs, err := s.direct.History(ctx, conv.ID)
	if err != nil {
		return ChatHistory{}, fmt.Errorf("load history of chat %d: %w", conv.ID, err)
	}
	loc := s.locationFor(viewer)
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.messageView(ctx, m, loc))
	}
	return ChatHistory{
		ChatID:    conv.ID,
		OtherUser: s.userView(ctx, peer, loc),
		Messages:  views,
	}, nil
}

func (s *Service) messageView(ctx context.Context, m *data.DirectMessage, loc *time.Location) MessageView {
	v := MessageView{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Timestamp: formatTime(m.CreatedAt, loc),
		IsRead:    m.IsRead,
		ParentID:  m.ParentID,
		Deleted:   m.Deleted,
	}
	if !m.Deleted {
		v.Message = m.Content
		v.Image = s.mediaURL(ctx, m.Image)
		v.EditedAt = formatTimePtr(m.EditedAt, loc)
	}
	return v
}

// markDirectRead flips the peer's unread messages and tells the peer
// exactly which ones were read.
func (s *Session) markDirectRead(ctx context.Context) error {
	svc := s.svc
	ids, err := svc.direct.MarkRead(ctx, s.conv.ID, s.user.ID)
	if err != nil {
		return fmt.Errorf("mark chat %d read: %w", s.conv.ID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	s.logger.Debug("messages read", zap.Int64s("message_ids", ids))
	svc.router.Publish(fanout.UserTopic(s.peer.ID), MessagesRead{ChatID: s.conv.ID, MessageIDs: ids})
	return svc.pushChatLists(ctx, s.user.ID, s.peer.ID)
}

func (s *Session) sendDirect(ctx context.Context, text string, parentID *int64) error {
	svc := s.svc
	if emptyText(text) {
		return apperr.MalformedFrame("empty message", nil)
	}
	if parentID != nil {
		parent, err := svc.direct.GetMessage(ctx, *parentID)
		if errors.Is(err, data.ErrNotFound) || (err == nil && parent.ConversationID != s.conv.ID) {
			return apperr.MessageNotFound("reply target not found")
		}
		if err != nil {
			return fmt.Errorf("load parent message: %w", err)
		}
	}

	msg := &data.DirectMessage{
		ConversationID: s.conv.ID,
		SenderID:       s.user.ID,
		Content:        html.EscapeString(text),
		ParentID:       parentID,
		CreatedAt:      svc.now(),
	}
	if err := svc.direct.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	svc.router.Publish(fanout.ConversationTopic(s.conv.ID), ChatMessage{
		ChatID:    s.conv.ID,
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Message:   msg.Content,
		Timestamp: formatTime(msg.CreatedAt, svc.locationFor(s.user)),
		ParentID:  msg.ParentID,
	})

	if s.peer.ID != s.user.ID {
		if err := svc.direct.SetUnread(ctx, s.conv.ID, s.peer.ID, true); err != nil {
			return fmt.Errorf("flag unread: %w", err)
		}
	}
	return svc.pushChatLists(ctx, s.user.ID, s.peer.ID)
}

func (s *Session) probeDirect(ctx context.Context, id int64) (messageFacts, error) {
	m, err := s.svc.direct.GetMessage(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return messageFacts{}, nil
	}
	if err != nil {
		return messageFacts{}, fmt.Errorf("load message %d: %w", id, err)
	}
	if m.ConversationID != s.conv.ID {
		return messageFacts{}, nil
	}
	return messageFacts{found: true, sender: m.SenderID, deleted: m.Deleted}, nil
}

func (s *Session) editDirect(ctx context.Context, id int64, text string) error {
	svc := s.svc
	if emptyText(text) {
		return apperr.MalformedFrame("empty message", nil)
	}
	if err := checkMutable(ctx, s.probeDirect, id, s.user.ID); err != nil {
		return err
	}
	at := svc.now()
	content := html.EscapeString(text)
	err := svc.direct.EditMessage(ctx, id, s.user.ID, content, at)
	if errors.Is(err, data.ErrNotFound) {
		// deleted between the check and the update
		return apperr.AlreadyDeleted("message was deleted")
	}
	if err != nil {
		return fmt.Errorf("edit message %d: %w", id, err)
	}

	svc.router.Publish(fanout.ConversationTopic(s.conv.ID), MessageEdited{
		ChatID:   s.conv.ID,
		ID:       id,
		Message:  content,
		EditedAt: formatTime(at, svc.locationFor(s.user)),
	})
	return svc.pushChatLists(ctx, s.user.ID, s.peer.ID)
}

func (s *Session) deleteDirect(ctx context.Context, ids []int64) error {
	svc := s.svc
	if len(ids) == 0 {
		return apperr.NoValidIDs("no valid message ids")
	}
	deleted, err := svc.direct.SoftDelete(ctx, s.conv.ID, s.user.ID, ids, svc.now())
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if len(deleted) == 0 {
		return untouchedReason(ctx, s.probeDirect, ids, s.user.ID)
	}

	svc.router.Publish(fanout.ConversationTopic(s.conv.ID), MessagesDeleted{ChatID: s.conv.ID, IDs: deleted})
	return svc.pushChatLists(ctx, s.user.ID, s.peer.ID)
}
