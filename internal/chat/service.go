// Package chat is the real-time core: sessions bound to one connection,
// the direct and group channels, and the directory pushes that keep every
// device of a user in sync.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/PaulBabatuyi/investchat/internal/media"
	"github.com/PaulBabatuyi/investchat/internal/middleware"
	"github.com/PaulBabatuyi/investchat/internal/presence"
	"go.uber.org/zap"
)

// DefaultEgressSize is the per-session outbound queue length.
const DefaultEgressSize = 256

// Options tunes a Service. Zero values select defaults.
type Options struct {
	DefaultTimeZone string
	JoinPolicy      JoinPolicy
	Media           media.Resolver
	// FrameLimiter throttles inbound frames per user. Nil disables it.
	FrameLimiter *middleware.LimiterStore
	EgressSize   int
	Now          func() time.Time
}

// Service owns the collaborators shared by every session.
type Service struct {
	directory Directory
	direct    DirectStore
	groups    GroupStore
	router    *fanout.Router
	presence  *presence.Tracker

	policy     JoinPolicy
	media      media.Resolver
	frames     *middleware.LimiterStore
	egressSize int
	defaultLoc *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

// NewService wires a Service.
func NewService(dir Directory, direct DirectStore, groups GroupStore, router *fanout.Router, tracker *presence.Tracker, logger *zap.Logger, opts Options) *Service {
	s := &Service{
		directory:  dir,
		direct:     direct,
		groups:     groups,
		router:     router,
		presence:   tracker,
		policy:     opts.JoinPolicy,
		media:      opts.Media,
		frames:     opts.FrameLimiter,
		egressSize: opts.EgressSize,
		now:        opts.Now,
		logger:     logger,
	}
	if s.policy == nil {
		s.policy = OpenJoin
	}
	if s.media == nil {
		s.media = media.SiteResolver{}
	}
	if s.egressSize <= 0 {
		s.egressSize = DefaultEgressSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.defaultLoc = loadLocation(opts.DefaultTimeZone)
	if s.defaultLoc == nil {
		if opts.DefaultTimeZone != "" {
			logger.Warn("unknown default time zone, using UTC", zap.String("zone", opts.DefaultTimeZone))
		}
		s.defaultLoc = time.UTC
	}
	return s
}

// Router exposes the fan-out router, mainly for transports and tests.
func (s *Service) Router() *fanout.Router { return s.router }

func (s *Service) mediaURL(ctx context.Context, key string) *string {
	if key == "" {
		return nil
	}
	u := s.media.URL(ctx, key)
	if u == "" {
		return nil
	}
	return &u
}

func (s *Service) userView(ctx context.Context, u *data.User, loc *time.Location) UserView {
	v := UserView{
		ID:       u.ID,
		Username: u.FirstName,
		Photo:    s.mediaURL(ctx, u.Photo),
		IsOnline: u.IsOnline,
	}
	if !u.IsOnline && !u.LastSeen.IsZero() {
		v.LastSeen = formatTimePtr(&u.LastSeen, loc)
	}
	return v
}

// lookupUser maps a missing user to notFound and wraps other failures.
func (s *Service) lookupUser(ctx context.Context, id int64, notFound error) (*data.User, error) {
	u, err := s.directory.GetUser(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// Open authenticates userID, binds the new session to its target and pushes
// the initial snapshot. targetID 0 opens the session in directory mode.
// On error nothing is left subscribed.
func (s *Service) Open(ctx context.Context, userID int64, kind Kind, targetID int64) (*Session, error) {
	if userID <= 0 {
		return nil, apperr.Unauthenticated("no identity")
	}
	user, err := s.lookupUser(ctx, userID, apperr.Unauthenticated("unknown user"))
	if err != nil {
		return nil, err
	}

	sess := newSession(s, user, kind)

	switch kind {
	case KindDirect:
		if targetID != 0 {
			peer, conv, err := s.resolveConversation(ctx, user, targetID)
			if err != nil {
				if apperr.CodeOf(err) == apperr.CodePeerNotFound {
					return nil, apperr.Wrap(apperr.CodeTargetNotFound, "receiver not found", err)
				}
				return nil, err
			}
			sess.peer, sess.conv = peer, conv
		}
	case KindGroup:
		if targetID != 0 {
			group, err := s.groups.GetGroup(ctx, targetID)
			if errors.Is(err, data.ErrNotFound) {
				return nil, apperr.TargetNotFound("group not found")
			}
			if err != nil {
				return nil, fmt.Errorf("get group %d: %w", targetID, err)
			}
			if !group.IsMember(user.ID) && !s.policy.CanJoin(ctx, user, group) {
				return nil, apperr.JoinDenied("not a member of this group")
			}
			sess.group = group
		}
	default:
		return nil, apperr.InvalidState("unknown channel " + string(kind))
	}

	if err := sess.start(ctx); err != nil {
		sess.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return sess, nil
}
