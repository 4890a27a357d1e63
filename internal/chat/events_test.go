package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsCarryTypeTag(t *testing.T) {
	events := []Event{
		ChatHistory{}, GroupHistory{}, ChatMessage{}, MessageEdited{}, MessagesDeleted{},
		ChatList{}, ChatListUpdate{}, GroupList{}, GroupListUpdate{},
		MessagesRead{}, GroupMessagesRead{}, ChatRead{}, SearchResults{},
		ParticipantsCount{}, UserStatus{}, UserStatusUpdate{}, errorEvent(errors.New("x")),
	}
	for _, ev := range events {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(b, &decoded), string(b))
		assert.Equal(t, ev.EventType(), decoded["type"], string(b))
	}
}

func TestChatMessageJSON(t *testing.T) {
	parent := int64(3)
	b, err := json.Marshal(ChatMessage{ChatID: 1, ID: 7, SenderID: 5, Message: "hi", Timestamp: "2024-01-01T00:00:00Z", ParentID: &parent})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat_message","chat_id":1,"id":7,"sender_id":5,"message":"hi","timestamp":"2024-01-01T00:00:00Z","parent_id":3}`, string(b))
}

func TestErrorEventHidesInternalErrors(t *testing.T) {
	ev := errorEvent(errors.New("mongo: connection refused"))
	assert.Equal(t, apperr.CodeInternal, ev.Error.Code)
	assert.NotContains(t, ev.Error.Message, "mongo")

	ev = errorEvent(apperr.NotOwner("message belongs to another user"))
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"code":"NOT_OWNER","message":"message belongs to another user"}}`, string(b))
}
