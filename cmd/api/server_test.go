package main

import (
	"context"
	"testing"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/auth"
	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/data/memstore"
	"github.com/PaulBabatuyi/investchat/internal/fanout"
	"github.com/PaulBabatuyi/investchat/internal/presence"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	srv   *Server
	store *memstore.Store
	jwt   *auth.JWTManager
}

func newTestEnv(t *testing.T, policy chat.JoinPolicy) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	tracker := presence.NewTracker(presence.NewMemorySets(), store, logger)
	svc := chat.NewService(store, store, store.Groups(), fanout.NewRouter(logger), tracker, logger, chat.Options{
		DefaultTimeZone: "UTC",
		JoinPolicy:      policy,
	})
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	return &testEnv{
		srv:   newServer(svc, store, jwtMgr, nil, nil, nil, logger),
		store: store,
		jwt:   jwtMgr,
	}
}

func (e *testEnv) user(t *testing.T, id int64, name, password string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &data.User{ID: id, FirstName: name, Email: name + "@example.com", Password: hash}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	token, _, err := e.jwt.GenerateToken(id, u.Email)
	require.NoError(t, err)
	return token
}
