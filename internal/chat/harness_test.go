package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/data/memstore"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/PaulBabatuyi/investchat/internal/presence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	svc   *Service
	now   time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memstore.New(),
		now:   time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop()
	tracker := presence.NewTracker(presence.NewMemorySets(), h.store, logger)
	if opts.Now == nil {
		opts.Now = func() time.Time {
			h.now = h.now.Add(time.Second)
			return h.now
		}
	}
	if opts.DefaultTimeZone == "" {
		opts.DefaultTimeZone = "UTC"
	}
	h.svc = NewService(h.store, h.store, h.store.Groups(), fanout.NewRouter(logger), tracker, logger, opts)
	return h
}

func (h *harness) user(id int64, name string) *data.User {
	h.t.Helper()
	u := &data.User{ID: id, FirstName: name, Email: name + "@example.com"}
	require.NoError(h.t, h.store.CreateUser(h.ctx, u))
	return u
}

func (h *harness) group(name string, members ...int64) *data.Group {
	h.t.Helper()
	g := &data.Group{Name: name, MemberIDs: members, CreatedAt: h.now}
	require.NoError(h.t, h.store.Groups().CreateGroup(h.ctx, g))
	return g
}

func (h *harness) open(userID int64, kind Kind, target int64) *Session {
	h.t.Helper()
	s, err := h.svc.Open(h.ctx, userID, kind, target)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func (h *harness) handle(s *Session, frame string) {
	h.t.Helper()
	require.NoError(h.t, s.Handle(h.ctx, []byte(frame)))
}

// drain returns every event queued for s so far.
func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Outbound():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ofType keeps the events of type T.
func ofType[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func only[T Event](t *testing.T, events []Event) T {
	t.Helper()
	got := ofType[T](events)
	require.Len(t, got, 1, "events: %s", describe(events))
	return got[0]
}

func describe(events []Event) string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType())
	}
	b, _ := json.Marshal(types)
	return string(b)
}

func errorCodes(events []Event) []string {
	var codes []string
	for _, e := range ofType[ErrorEvent](events) {
		codes = append(codes, string(e.Error.Code))
	}
	return codes
}
