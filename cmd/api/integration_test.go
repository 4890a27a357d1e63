package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// startGRPC serves env over an in-memory listener and returns a client
// connection to it.
func startGRPC(t *testing.T, env *testEnv) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authUnaryInterceptor(env.jwt)),
		grpc.ChainStreamInterceptor(authStreamInterceptor(env.jwt)),
	)
	registerService(s, env.srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openStream(ctx context.Context, t *testing.T, conn *grpc.ClientConn, kv ...string) grpc.ClientStream {
	t.Helper()
	ctx = metadata.AppendToOutgoingContext(ctx, kv...)
	stream, err := conn.NewStream(ctx, &chatServiceDesc.Streams[0], connectMethod, grpc.CallContentSubtype(jsonCodecName))
	require.NoError(t, err)
	return stream
}

// recvUntil receives events until one of type typ arrives.
func recvUntil(t *testing.T, stream grpc.ClientStream, typ string) map[string]any {
	t.Helper()
	for {
		var raw json.RawMessage
		require.NoError(t, stream.RecvMsg(&raw), "waiting for %s", typ)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev["type"] == typ {
			return ev
		}
	}
}

func TestGRPCHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := startGRPC(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: chatServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCConnectRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.user(t, 1, "alice", "pw")
	conn := startGRPC(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := []struct {
		name string
		md   []string
		code codes.Code
	}{
		{"no token", nil, codes.Unauthenticated},
		{"bad token", []string{"authorization", "Bearer nope"}, codes.Unauthenticated},
		{"unknown peer", []string{"authorization", "Bearer " + token, "receiver_id", "42"}, codes.NotFound},
		{"unknown channel", []string{"authorization", "Bearer " + token, "channel", "radio"}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stream := openStream(ctx, t, conn, tc.md...)
			var raw json.RawMessage
			err := stream.RecvMsg(&raw)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err), err.Error())
		})
	}
}

func TestGRPCDirectChat(t *testing.T) {
	env := newTestEnv(t, nil)
	aliceToken := env.user(t, 1, "alice", "pw")
	bobToken := env.user(t, 2, "bob", "pw")
	conn := startGRPC(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := openStream(ctx, t, conn, "authorization", "Bearer "+aliceToken, "receiver_id", "2")
	recvUntil(t, alice, chat.TypeChatHistory)
	bob := openStream(ctx, t, conn, "authorization", "Bearer "+bobToken, "receiver_id", "1")
	recvUntil(t, bob, chat.TypeChatHistory)

	require.NoError(t, alice.SendMsg(json.RawMessage(`{"message":"over grpc"}`)))
	msg := recvUntil(t, bob, chat.TypeChatMessage)
	assert.Equal(t, "over grpc", msg["message"])

	require.NoError(t, bob.SendMsg(json.RawMessage(`{"search":"ali"}`)))
	res := recvUntil(t, bob, chat.TypeSearchResults)
	assert.Equal(t, "ali", res["query"])
	assert.Len(t, res["results"], 1)

	require.NoError(t, bob.CloseSend())
	st := recvUntil(t, alice, chat.TypeUserStatusUpdate)
	for st["is_online"] != false {
		st = recvUntil(t, alice, chat.TypeUserStatusUpdate)
	}
	assert.EqualValues(t, 2, st["user_id"])
}
