package chat

import (
	"testing"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullyRead(t *testing.T) {
	tests := []struct {
		name    string
		read    int64
		members int
		want    bool
	}{
		{"alone", 0, 1, true},
		{"pair unread", 0, 2, false},
		{"pair read", 1, 2, true},
		{"three one read", 1, 3, false},
		{"three all read", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fullyRead(tt.read, tt.members))
		})
	}
}

func TestGroupReadScenario(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	h.user(3, "carol")
	g := h.group("team", 1, 2, 3)

	alice := h.open(1, KindGroup, g.ID)
	assert.Equal(t, StateGroup, alice.State())
	drain(alice)

	h.handle(alice, `{"message":"hi"}`)
	msg := only[ChatMessage](t, drain(alice))
	assert.Equal(t, g.ID, msg.GroupID)
	assert.Equal(t, "alice", msg.Username)

	markers, err := h.store.Groups().Markers(h.ctx, g.ID)
	require.NoError(t, err)
	var readers []int64
	for _, mk := range markers {
		assert.False(t, mk.IsRead)
		readers = append(readers, mk.UserID)
	}
	assert.ElementsMatch(t, []int64{2, 3}, readers)

	bob := h.open(2, KindGroup, g.ID)
	drain(bob)
	h.handle(bob, `{"read":true}`)

	receipt := only[ChatRead](t, drain(alice))
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.EqualValues(t, 2, receipt.ReaderID)
	assert.False(t, receipt.IsRead)

	own := only[GroupMessagesRead](t, drain(bob))
	assert.Equal(t, []int64{msg.ID}, own.MessageIDs)

	stored, err := h.store.Groups().GetMessage(h.ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.ReadByAll)

	carol := h.open(3, KindGroup, g.ID)
	drain(carol)
	h.handle(carol, `{"read":true}`)

	receipt = only[ChatRead](t, drain(alice))
	assert.EqualValues(t, 3, receipt.ReaderID)
	assert.True(t, receipt.IsRead)
	drain(carol)

	stored, err = h.store.Groups().GetMessage(h.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.ReadByAll)

	// Nothing left to read.
	h.handle(carol, `{"read":true}`)
	assert.Empty(t, ofType[GroupMessagesRead](drain(carol)))
}

func TestGroupOfTwoIsReadAfterPeerReads(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("pair", 1, 2)

	alice := h.open(1, KindGroup, g.ID)
	h.handle(alice, `{"message":"ping"}`)
	id := only[ChatMessage](t, drain(alice)).ID

	bob := h.open(2, KindGroup, g.ID)
	history := only[GroupHistory](t, drain(bob))
	var view GroupMessageView
	for _, msgs := range history.Days {
		require.Len(t, msgs, 1)
		view = msgs[0]
	}
	assert.False(t, view.IsRead)
	assert.False(t, view.ReadByMe)

	h.handle(bob, `{"read":true}`)
	assert.True(t, only[ChatRead](t, drain(alice)).IsRead)

	stored, err := h.store.Groups().GetMessage(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.ReadByAll)
}

func TestGroupHistoryShape(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("team", 1, 2)

	alice := h.open(1, KindGroup, g.ID)
	h.handle(alice, `{"message":"first"}`)
	h.now = h.now.AddDate(0, 0, 1)
	h.handle(alice, `{"message":"second"}`)
	alice.Close(h.ctx)

	again := h.open(1, KindGroup, g.ID)
	history := only[GroupHistory](t, drain(again))
	assert.Equal(t, g.ID, history.GroupID)
	require.Len(t, history.Days, 2)
	assert.Len(t, history.Days["2024-03-10"], 1)
	assert.Len(t, history.Days["2024-03-11"], 1)
	assert.Equal(t, "second", history.Days["2024-03-11"][0].Message)
	assert.True(t, history.Days["2024-03-10"][0].ReadByMe, "own messages count as read by me")

	require.Len(t, history.Members, 2)
	names := []string{history.Members[0].Username, history.Members[1].Username}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestGroupAutoJoin(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("open house", 1)

	directory := h.open(1, KindGroup, 0)
	drain(directory)

	bob := h.open(2, KindGroup, g.ID)
	stored, err := h.store.Groups().GetGroup(h.ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, stored.MemberIDs)

	events := drain(directory)
	update := only[GroupListUpdate](t, events)
	require.Len(t, update.Groups, 1)
	assert.Equal(t, "open house", update.Groups[0].Name)

	count := only[ParticipantsCount](t, events)
	assert.Equal(t, fanout.GroupTopic(g.ID), count.Room)
	assert.EqualValues(t, 1, count.Count)

	// Sessions inside the room do not render list updates.
	assert.Empty(t, ofType[GroupListUpdate](drain(bob)))
}

func TestGroupMembersOnlyPolicy(t *testing.T) {
	h := newHarness(t, Options{JoinPolicy: MembersOnly})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("private", 1)

	_, err := h.svc.Open(h.ctx, 2, KindGroup, g.ID)
	assert.Equal(t, apperr.CodeJoinDenied, apperr.CodeOf(err))

	s := h.open(1, KindGroup, g.ID)
	assert.Equal(t, StateGroup, s.State())
}

func TestGroupListUnreadExcludesOwnMessages(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("team", 1, 2)

	bobList := h.open(2, KindGroup, 0)
	drain(bobList)
	aliceList := h.open(1, KindGroup, 0)
	drain(aliceList)

	alice := h.open(1, KindGroup, g.ID)
	h.handle(alice, `{"message":"news"}`)

	update := only[GroupListUpdate](t, drain(bobList))
	require.Len(t, update.Groups, 1)
	assert.EqualValues(t, 1, update.Groups[0].UnreadMessages)
	assert.True(t, update.Groups[0].HasUnread)
	assert.Equal(t, "news", *update.Groups[0].LastMessage)

	update = only[GroupListUpdate](t, drain(aliceList))
	assert.Zero(t, update.Groups[0].UnreadMessages)
}

func TestGroupEditAndDelete(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("team", 1, 2)

	alice := h.open(1, KindGroup, g.ID)
	bob := h.open(2, KindGroup, g.ID)
	h.handle(alice, `{"message":"draft"}`)
	id := only[ChatMessage](t, drain(alice)).ID
	drain(bob)

	h.handle(bob, `{"action":"edit_message","id":"`+itoa(id)+`","text":"mine now"}`)
	assert.Equal(t, []string{string(apperr.CodeNotOwner)}, errorCodes(drain(bob)))

	h.handle(alice, `{"action":"edit_message","id":`+itoa(id)+`,"text":"final"}`)
	edited := only[MessageEdited](t, drain(bob))
	assert.Equal(t, g.ID, edited.GroupID)
	assert.Equal(t, "final", edited.Message)

	h.handle(bob, `{"action":"delete_messages","ids":[`+itoa(id)+`]}`)
	assert.Equal(t, []string{string(apperr.CodeNotOwner)}, errorCodes(drain(bob)))

	h.handle(alice, `{"action":"delete_messages","ids":[`+itoa(id)+`, "junk"]}`)
	deleted := only[MessagesDeleted](t, drain(bob))
	assert.Equal(t, []int64{id}, deleted.IDs)

	stored, err := h.store.Groups().GetMessage(h.ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Empty(t, stored.Content)
}

func TestGroupDirectoryCountsOnLeave(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("team", 1, 2)

	watcher := h.open(2, KindGroup, 0)
	alice := h.open(1, KindGroup, g.ID)
	drain(watcher)

	alice.Close(h.ctx)
	count := only[ParticipantsCount](t, drain(watcher))
	assert.Zero(t, count.Count)
}

func TestGroupReadStateCountsLateJoiners(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	h.user(3, "carol")
	g := h.group("growing", 1, 2)

	alice := h.open(1, KindGroup, g.ID)
	h.handle(alice, `{"message":"before carol"}`)
	id := only[ChatMessage](t, drain(alice)).ID

	carol := h.open(3, KindGroup, g.ID)
	drain(carol)
	drain(alice)

	bob := h.open(2, KindGroup, g.ID)
	drain(bob)
	h.handle(bob, `{"read":true}`)
	receipt := only[ChatRead](t, drain(alice))
	assert.Equal(t, id, receipt.MessageID)
	assert.False(t, receipt.IsRead)

	// A reopened history agrees with the receipt.
	again := h.open(1, KindGroup, g.ID)
	history := only[GroupHistory](t, drain(again))
	msgs := history.Days["2024-03-10"]
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsRead)
}

func TestGroupCountsHiddenFromNonMembers(t *testing.T) {
	h := newHarness(t, Options{JoinPolicy: MembersOnly})
	h.user(1, "alice")
	h.user(2, "bob")
	h.user(9, "outsider")
	g := h.group("private", 1, 2)

	outsider := h.open(9, KindGroup, 0)
	member := h.open(2, KindGroup, 0)
	drain(outsider)
	drain(member)

	alice := h.open(1, KindGroup, g.ID)
	assert.Empty(t, ofType[ParticipantsCount](drain(outsider)))
	count := only[ParticipantsCount](t, drain(member))
	assert.Equal(t, fanout.GroupTopic(g.ID), count.Room)
	assert.EqualValues(t, 1, count.Count)

	alice.Close(h.ctx)
	assert.Empty(t, ofType[ParticipantsCount](drain(outsider)))
	assert.Zero(t, only[ParticipantsCount](t, drain(member)).Count)
}

func TestGroupEditRefreshesListPreview(t *testing.T) {
	h := newHarness(t, Options{})
	h.user(1, "alice")
	h.user(2, "bob")
	g := h.group("team", 1, 2)

	directory := h.open(2, KindGroup, 0)
	alice := h.open(1, KindGroup, g.ID)
	h.handle(alice, `{"message":"draft"}`)
	id := only[ChatMessage](t, drain(alice)).ID
	drain(directory)

	h.handle(alice, `{"action":"edit_message","id":`+itoa(id)+`,"text":"final"}`)
	update := only[GroupListUpdate](t, drain(directory))
	require.Len(t, update.Groups, 1)
	require.NotNil(t, update.Groups[0].LastMessage)
	assert.Equal(t, "final", *update.Groups[0].LastMessage)
}
