package main

import (
	"context"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/auth"
	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// credentialStore is the slice of the user directory the login endpoint
// needs.
type credentialStore interface {
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
}

// Server exposes the chat service over websocket and gRPC and issues tokens.
type Server struct {
	chat    *chat.Service
	users   credentialStore
	auth    *auth.JWTManager
	login   *middleware.LimiterStore
	connect *middleware.LimiterStore

	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

// newServer returns a ready-to-use Server wired with the chat service, the
// credential store and the auth manager. Nil limiters disable limiting.
func newServer(svc *chat.Service, users credentialStore, authMgr *auth.JWTManager, login, connect *middleware.LimiterStore, allowedOrigins []string, logger *zap.Logger) *Server {
	s := &Server{
		chat:           svc,
		users:          users,
		auth:           authMgr,
		login:          login,
		connect:        connect,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// checkOrigin accepts same-origin requests, clients that send no Origin
// header and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// registerService registers the ChatService and the health service on the
// given gRPC server.
func registerService(g *grpc.Server, srv *Server) *health.Server {
	g.RegisterService(&chatServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(chatServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, hs)
	return hs
}
