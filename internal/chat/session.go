package chat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind selects the channel a session speaks.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// State is the session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateDirectory
	StateChat  // bound to a direct conversation
	StateGroup // bound to a group
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDirectory:
		return "directory"
	case StateChat:
		return "chat"
	case StateGroup:
		return "group"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	// ErrSessionClosed is returned by Deliver after the session stopped.
	ErrSessionClosed = errors.New("session closed")
	// ErrSlowConsumer is returned by Deliver when the egress queue is full.
	// The session is stopped and the router drops it.
	ErrSlowConsumer = errors.New("egress queue full")
)

// Session is one live connection bound to an authenticated user. Handle
// must be called from a single goroutine; Deliver may be called from any.
type Session struct {
	id   string
	svc  *Service
	user *data.User
	kind Kind

	state atomic.Int32

	// Set while opening, read-only afterwards.
	peer  *data.User
	conv  *data.Conversation
	group *data.Group
	rooms []string

	egress   chan Event
	done     chan struct{}
	stopOnce sync.Once

	closeOnce sync.Once
	logger    *zap.Logger
}

func newSession(svc *Service, user *data.User, kind Kind) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		svc:    svc,
		user:   user,
		kind:   kind,
		egress: make(chan Event, svc.egressSize),
		done:   make(chan struct{}),
		logger: svc.logger.With(
			zap.String("session_id", id),
			zap.Int64("user_id", user.ID),
			zap.String("kind", string(kind)),
		),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) SubscriberID() string { return s.id }
func (s *Session) UserID() int64        { return s.user.ID }
func (s *Session) Kind() Kind           { return s.kind }
func (s *Session) State() State         { return State(s.state.Load()) }

// Outbound is the queue a transport drains and writes to the client.
func (s *Session) Outbound() <-chan Event { return s.egress }

// Done is closed when the session stops, either through Close or because
// it fell behind. The transport should then call Close and hang up.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Deliver queues ev without blocking.
func (s *Session) Deliver(ev Event) error {
	// A session sitting in a group room renders the room, not the list.
	if _, ok := ev.(GroupListUpdate); ok && s.State() == StateGroup {
		return nil
	}
	if pc, ok := ev.(ParticipantsCount); ok && !pc.visibleTo(s.user.ID) {
		return nil
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.egress <- ev:
		return nil
	default:
		s.logger.Warn("egress queue full, kicking session", zap.String("event", ev.EventType()))
		s.stop()
		return ErrSlowConsumer
	}
}

// send delivers an event to this session only.
func (s *Session) send(ev Event) {
	if err := s.Deliver(ev); err != nil {
		s.svc.router.UnsubscribeAll(s)
	}
}

func (s *Session) subscribe(topic string) {
	s.svc.router.Subscribe(topic, s)
}

// joinRoom subscribes to topic, counts the user into its participant set
// and announces the new count on each of the announce topics.
func (s *Session) joinRoom(ctx context.Context, topic string, announce ...string) error {
	s.subscribe(topic)
	n, err := s.svc.presence.JoinRoom(ctx, topic, s.user.ID)
	if err != nil {
		return err
	}
	s.rooms = append(s.rooms, topic)
	ev := s.roomCount(topic, n)
	for _, t := range announce {
		s.svc.router.Publish(t, ev)
	}
	return nil
}

// roomCount builds the count event for one of the session's rooms. Group
// counts are also seen on the shared directory topic, so they are limited
// to the group's members.
func (s *Session) roomCount(room string, n int64) ParticipantsCount {
	ev := ParticipantsCount{Room: room, Count: n}
	if s.group != nil {
		ev.members = append([]int64{}, s.group.MemberIDs...)
	}
	return ev
}

// start runs the open sequence: presence, subscriptions, then the snapshot.
// Presence is published before any history so peers see the right state
// first.
func (s *Session) start(ctx context.Context) error {
	svc := s.svc
	now := svc.now()
	switch {
	case s.conv != nil:
		s.logger = s.logger.With(zap.Int64("chat_id", s.conv.ID))
	case s.group != nil:
		s.logger = s.logger.With(zap.Int64("group_id", s.group.ID))
	}

	if _, err := svc.presence.Connect(ctx, s.user.ID, s.id, now); err != nil {
		return err
	}
	s.user.IsOnline = true
	s.subscribe(fanout.UserTopic(s.user.ID))

	switch {
	case s.kind == KindDirect && s.conv != nil:
		s.state.Store(int32(StateChat))
		return s.startDirect(ctx)
	case s.kind == KindGroup && s.group != nil:
		s.state.Store(int32(StateGroup))
		return s.startGroup(ctx)
	}

	s.state.Store(int32(StateDirectory))
	s.subscribe(fanout.GlobalGroupDirectory)
	if s.kind == KindDirect {
		chats, err := svc.chatList(ctx, s.user)
		if err != nil {
			return err
		}
		s.send(ChatList{Chats: chats})
		return nil
	}
	groups, err := svc.groupList(ctx, s.user)
	if err != nil {
		return err
	}
	s.send(GroupList{Groups: groups})
	return nil
}

// Handle processes one inbound frame to completion. Action failures are
// reported to the client as error events and a nil error is returned; a
// non-nil error means the session can not continue.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if s.svc.frames != nil && !s.svc.frames.Allow(strconv.FormatInt(s.user.ID, 10)) {
		s.send(errorEvent(apperr.RateLimited("too many frames")))
		return nil
	}

	frame, err := ParseFrame(raw)
	if err != nil {
		s.logger.Warn("dropping malformed frame", zap.Error(err))
		s.send(errorEvent(err))
		return nil
	}

	err = s.dispatch(ctx, frame)
	if err == nil {
		return nil
	}
	if ae, ok := apperr.As(err); ok {
		s.logger.Debug("action failed", zap.String("action", string(frame.Action)), zap.String("code", string(ae.Code)))
		s.send(errorEvent(err))
		return nil
	}
	s.logger.Error("action failed, closing session", zap.String("action", string(frame.Action)), zap.Error(err))
	return err
}

func (s *Session) dispatch(ctx context.Context, f Frame) error {
	if f.Action == ActionSearch {
		return s.search(ctx, f.Query)
	}
	switch s.State() {
	case StateChat:
		switch f.Action {
		case ActionSend:
			return s.sendDirect(ctx, f.Text, f.ParentID)
		case ActionRead:
			return s.markDirectRead(ctx)
		case ActionEdit:
			return s.editDirect(ctx, f.ID, f.Text)
		case ActionDelete:
			return s.deleteDirect(ctx, f.IDs)
		}
	case StateGroup:
		switch f.Action {
		case ActionSend:
			return s.sendGroup(ctx, f.Text)
		case ActionRead:
			return s.markGroupRead(ctx)
		case ActionEdit:
			return s.editGroup(ctx, f.ID, f.Text)
		case ActionDelete:
			return s.deleteGroup(ctx, f.IDs)
		}
	}
	return apperr.InvalidState(string(f.Action) + " is not allowed in " + s.State().String() + " mode")
}

// Close tears the session down: it leaves every topic first so nothing is
// published to it afterwards, then updates presence. Safe to call more
// than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.stop()
		svc := s.svc
		svc.router.UnsubscribeAll(s)

		for _, room := range s.rooms {
			n, err := svc.presence.LeaveRoom(ctx, room, s.user.ID)
			if err != nil {
				s.logger.Error("leave room", zap.String("room", room), zap.Error(err))
				continue
			}
			ev := s.roomCount(room, n)
			svc.router.Publish(room, ev)
			if s.group != nil {
				svc.router.Publish(fanout.GlobalGroupDirectory, ev)
			}
		}

		at := svc.now()
		offline, err := svc.presence.Disconnect(ctx, s.user.ID, s.id, at)
		if err != nil {
			s.logger.Error("presence disconnect", zap.Error(err))
		}
		if offline && s.peer != nil {
			loc := svc.locationFor(s.peer)
			svc.router.Publish(fanout.UserTopic(s.peer.ID), UserStatusUpdate{
				UserID:   s.user.ID,
				IsOnline: false,
				LastSeen: formatTimePtr(&at, loc),
			})
		}
		s.logger.Debug("session closed")
	})
}
