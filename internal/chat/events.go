package chat

import (
	"encoding/json"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
)

// Event is one outbound frame. The set of implementations below is closed;
// transports encode them with encoding/json and every variant writes its
// own "type" field.
type Event = fanout.Event

// Outbound type tags.
const (
	TypeChatHistory       = "chat_history"
	TypeChatMessage       = "chat_message"
	TypeMessageEdited     = "message_edited"
	TypeMessagesDeleted   = "messages_deleted"
	TypeChatList          = "chat_list"
	TypeChatListUpdate    = "chat_list_update"
	TypeGroupList         = "group_list"
	TypeGroupListUpdate   = "group_list_update"
	TypeMessagesRead      = "messages_read"
	TypeGroupMessagesRead = "group_messages_read"
	TypeChatRead          = "chat_read"
	TypeSearchResults     = "search_results"
	TypeParticipantsCount = "participants_count"
	TypeUserStatus        = "user_status"
	TypeUserStatusUpdate  = "user_status_update"
	TypeError             = "error"
)

// UserView is the public profile shown next to messages and list entries.
type UserView struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Photo    *string `json:"photo"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

// MessageView is one direct message as rendered for a viewer.
type MessageView struct {
	ID        int64   `json:"id"`
	SenderID  int64   `json:"sender_id"`
	Message   string  `json:"message"`
	Image     *string `json:"image"`
	Timestamp string  `json:"timestamp"`
	IsRead    bool    `json:"is_read"`
	ParentID  *int64  `json:"parent_id"`
	EditedAt  *string `json:"edited_at,omitempty"`
	Deleted   bool    `json:"deleted"`
}

// GroupMessageView is one group message as rendered for a viewer. IsRead
// means read by every other member; ReadByMe is the viewer's own marker.
type GroupMessageView struct {
	ID        int64   `json:"id"`
	SenderID  int64   `json:"sender_id"`
	Username  string  `json:"username"`
	Photo     *string `json:"photo"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	IsRead    bool    `json:"is_read"`
	ReadByMe  bool    `json:"read_by_me"`
	EditedAt  *string `json:"edited_at,omitempty"`
	Deleted   bool    `json:"deleted"`
}

// ListEntry is a conversation or group in a directory listing. Type is
// "private" or "group".
type ListEntry struct {
	Type           string    `json:"type"`
	ChatID         int64     `json:"chat_id,omitempty"`
	GroupID        int64     `json:"group_id,omitempty"`
	Name           string    `json:"name,omitempty"`
	Image          *string   `json:"image,omitempty"`
	OtherUser      *UserView `json:"other_user,omitempty"`
	LastMessage    *string   `json:"last_message"`
	LastUpdated    *string   `json:"last_updated"`
	UnreadMessages int64     `json:"unread_messages"`
	HasUnread      bool      `json:"has_unread"`

	activity int64 // unix nanos of the last activity, for ordering
}

func tagged(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	head, _ := json.Marshal(typ)
	if len(body) == 2 { // "{}"
		return append(append([]byte(`{"type":`), head...), '}'), nil
	}
	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// ChatHistory is the initial snapshot of a direct conversation.
type ChatHistory struct {
	ChatID    int64         `json:"chat_id"`
	OtherUser UserView      `json:"other_user"`
	Messages  []MessageView `json:"messages"`
}

func (ChatHistory) EventType() string { return TypeChatHistory }
func (e ChatHistory) MarshalJSON() ([]byte, error) {
	type plain ChatHistory
	return tagged(e.EventType(), plain(e))
}

// GroupHistory is the initial snapshot of a group: messages by calendar day
// plus the member roster.
type GroupHistory struct {
	GroupID int64                         `json:"group_id"`
	Name    string                        `json:"name"`
	Days    map[string][]GroupMessageView `json:"days"`
	Members []UserView                    `json:"members"`
}

func (GroupHistory) EventType() string { return TypeChatHistory }
func (e GroupHistory) MarshalJSON() ([]byte, error) {
	type plain GroupHistory
	return tagged(e.EventType(), plain(e))
}

// ChatMessage announces a new message. Group messages carry the group id and
// the sender's display name and photo.
type ChatMessage struct {
	ChatID    int64   `json:"chat_id,omitempty"`
	GroupID   int64   `json:"group_id,omitempty"`
	ID        int64   `json:"id"`
	SenderID  int64   `json:"sender_id"`
	Username  string  `json:"username,omitempty"`
	Photo     *string `json:"photo,omitempty"`
	Message   string  `json:"message"`
	Image     *string `json:"image,omitempty"`
	Timestamp string  `json:"timestamp"`
	ParentID  *int64  `json:"parent_id,omitempty"`
}

func (ChatMessage) EventType() string { return TypeChatMessage }
func (e ChatMessage) MarshalJSON() ([]byte, error) {
	type plain ChatMessage
	return tagged(e.EventType(), plain(e))
}

type MessageEdited struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	GroupID  int64  `json:"group_id,omitempty"`
	ID       int64  `json:"id"`
	Message  string `json:"message"`
	EditedAt string `json:"edited_at"`
}

func (MessageEdited) EventType() string { return TypeMessageEdited }
func (e MessageEdited) MarshalJSON() ([]byte, error) {
	type plain MessageEdited
	return tagged(e.EventType(), plain(e))
}

type MessagesDeleted struct {
	ChatID  int64   `json:"chat_id,omitempty"`
	GroupID int64   `json:"group_id,omitempty"`
	IDs     []int64 `json:"ids"`
}

func (MessagesDeleted) EventType() string { return TypeMessagesDeleted }
func (e MessagesDeleted) MarshalJSON() ([]byte, error) {
	type plain MessagesDeleted
	return tagged(e.EventType(), plain(e))
}

// ChatList is the conversation directory snapshot; ChatListUpdate the
// same payload pushed after a change.
type ChatList struct {
	Chats []ListEntry `json:"chats"`
}

func (ChatList) EventType() string { return TypeChatList }
func (e ChatList) MarshalJSON() ([]byte, error) {
	type plain ChatList
	return tagged(e.EventType(), plain(e))
}

type ChatListUpdate struct {
	Chats []ListEntry `json:"chats"`
}

func (ChatListUpdate) EventType() string { return TypeChatListUpdate }
func (e ChatListUpdate) MarshalJSON() ([]byte, error) {
	type plain ChatListUpdate
	return tagged(e.EventType(), plain(e))
}

type GroupList struct {
	Groups []ListEntry `json:"groups"`
}

func (GroupList) EventType() string { return TypeGroupList }
func (e GroupList) MarshalJSON() ([]byte, error) {
	type plain GroupList
	return tagged(e.EventType(), plain(e))
}

type GroupListUpdate struct {
	Groups []ListEntry `json:"groups"`
}

func (GroupListUpdate) EventType() string { return TypeGroupListUpdate }
func (e GroupListUpdate) MarshalJSON() ([]byte, error) {
	type plain GroupListUpdate
	return tagged(e.EventType(), plain(e))
}

// MessagesRead tells a direct-message sender which of its messages the
// peer has just read.
type MessagesRead struct {
	ChatID     int64   `json:"chat_id"`
	MessageIDs []int64 `json:"message_ids"`
}

func (MessagesRead) EventType() string { return TypeMessagesRead }
func (e MessagesRead) MarshalJSON() ([]byte, error) {
	type plain MessagesRead
	return tagged(e.EventType(), plain(e))
}

// GroupMessagesRead syncs a reader's own devices after a group markRead.
type GroupMessagesRead struct {
	GroupID    int64   `json:"group_id"`
	MessageIDs []int64 `json:"message_ids"`
	ReaderID   int64   `json:"reader_id"`
}

func (GroupMessagesRead) EventType() string { return TypeGroupMessagesRead }
func (e GroupMessagesRead) MarshalJSON() ([]byte, error) {
	type plain GroupMessagesRead
	return tagged(e.EventType(), plain(e))
}

// ChatRead tells a group-message sender that one reader has read the
// message. IsRead reports whether every other member has now read it.
type ChatRead struct {
	GroupID   int64 `json:"group_id"`
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
	IsRead    bool  `json:"is_read"`
}

func (ChatRead) EventType() string { return TypeChatRead }
func (e ChatRead) MarshalJSON() ([]byte, error) {
	type plain ChatRead
	return tagged(e.EventType(), plain(e))
}

type SearchResults struct {
	Query   string      `json:"query"`
	Results []ListEntry `json:"results"`
}

func (SearchResults) EventType() string { return TypeSearchResults }
func (e SearchResults) MarshalJSON() ([]byte, error) {
	type plain SearchResults
	return tagged(e.EventType(), plain(e))
}

// ParticipantsCount reports how many distinct users are connected to a room.
type ParticipantsCount struct {
	Room  string `json:"room"`
	Count int64  `json:"count"`

	// members limits who may see a group room's count; nil means anyone
	// subscribed to the topic.
	members []int64
}

func (e ParticipantsCount) visibleTo(userID int64) bool {
	if e.members == nil {
		return true
	}
	for _, id := range e.members {
		if id == userID {
			return true
		}
	}
	return false
}

func (ParticipantsCount) EventType() string { return TypeParticipantsCount }
func (e ParticipantsCount) MarshalJSON() ([]byte, error) {
	type plain ParticipantsCount
	return tagged(e.EventType(), plain(e))
}

// UserStatus is the peer presence snapshot sent to a session when it opens
// a direct conversation.
type UserStatus struct {
	UserID   int64   `json:"user_id"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

func (UserStatus) EventType() string { return TypeUserStatus }
func (e UserStatus) MarshalJSON() ([]byte, error) {
	type plain UserStatus
	return tagged(e.EventType(), plain(e))
}

type UserStatusUpdate struct {
	UserID   int64   `json:"user_id"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

func (UserStatusUpdate) EventType() string { return TypeUserStatusUpdate }
func (e UserStatusUpdate) MarshalJSON() ([]byte, error) {
	type plain UserStatusUpdate
	return tagged(e.EventType(), plain(e))
}

// ErrorEvent reports a failed action inline; the connection stays open.
type ErrorEvent struct {
	Error *apperr.AppError `json:"error"`
}

func (ErrorEvent) EventType() string { return TypeError }
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type plain ErrorEvent
	return tagged(e.EventType(), plain(e))
}

// errorEvent converts err to an ErrorEvent. Foreign errors are reported as
// INTERNAL without their text.
func errorEvent(err error) ErrorEvent {
	if ae, ok := apperr.As(err); ok {
		return ErrorEvent{Error: &apperr.AppError{Code: ae.Code, Message: ae.Message}}
	}
	return ErrorEvent{Error: &apperr.AppError{Code: apperr.CodeInternal, Message: "internal error"}}
}
