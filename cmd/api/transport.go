package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	closeKickedMsg = "too slow"
)

// pumpWebsocket runs the read loop on the calling goroutine and the write
// loop on another. Either side ending tears the session down.
func (s *Server) pumpWebsocket(ctx context.Context, conn *websocket.Conn, sess *chat.Session) {
	ctx, cancel := context.WithCancel(ctx)
	log := s.logger.With(zap.String("session_id", sess.ID()), zap.Int64("user_id", sess.UserID()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeWebsocket(ctx, conn, sess, log)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read ended", zap.Error(err))
			}
			break
		}
		if err := sess.Handle(ctx, raw); err != nil {
			log.Error("closing websocket after failure", zap.Error(err))
			break
		}
	}

	sess.Close(context.WithoutCancel(ctx))
	cancel()
	<-writerDone
}

func (s *Server) writeWebsocket(ctx context.Context, conn *websocket.Conn, sess *chat.Session, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if sess.State() != chat.StateClosed {
				msg = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, closeKickedMsg)
			}
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			return
		}
	}
}

// grpcStatus converts an open failure to a status error.
func grpcStatus(err error) error {
	msg := err.Error()
	switch apperr.CodeOf(err) {
	case apperr.CodeUnauthenticated:
		return status.Error(codes.Unauthenticated, msg)
	case apperr.CodeTargetNotFound, apperr.CodePeerNotFound:
		return status.Error(codes.NotFound, msg)
	case apperr.CodeJoinDenied:
		return status.Error(codes.PermissionDenied, msg)
	case apperr.CodeInvalidState:
		return status.Error(codes.InvalidArgument, msg)
	}
	return status.Error(codes.Internal, "internal error")
}

// streamTarget reads the channel selector from the call metadata.
func streamTarget(ctx context.Context) (chat.Kind, int64, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}

	kind, param := chat.KindDirect, "receiver_id"
	switch first("channel") {
	case "", string(chat.KindDirect):
	case string(chat.KindGroup):
		kind, param = chat.KindGroup, "group_id"
	default:
		return "", 0, apperr.InvalidState("unknown channel " + first("channel"))
	}

	v := first(param)
	if v == "" {
		return kind, 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, apperr.TargetNotFound(param + " is not a valid id")
	}
	return kind, id, nil
}

// Connect is the bidirectional chat stream. Inbound messages are JSON
// frames, outbound messages are chat events.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	kind, target, err := streamTarget(ctx)
	if err != nil {
		return grpcStatus(err)
	}

	sess, err := s.chat.Open(ctx, claims.UserID, kind, target)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			s.logger.Error("open session failed", zap.Error(err))
		}
		return grpcStatus(err)
	}
	defer sess.Close(context.WithoutCancel(ctx))

	// Only this goroutine calls RecvMsg and only the loop below calls
	// SendMsg, as grpc requires.
	recvErr := make(chan error, 1)
	go func() {
		for {
			var raw json.RawMessage
			if err := stream.RecvMsg(&raw); err != nil {
				recvErr <- err
				return
			}
			if err := sess.Handle(ctx, raw); err != nil {
				recvErr <- err
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sess.Outbound():
			if err := stream.SendMsg(ev); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			if _, ok := status.FromError(err); ok {
				return err
			}
			s.logger.Error("chat stream failed", zap.String("session_id", sess.ID()), zap.Error(err))
			return status.Error(codes.Internal, "internal error")
		case <-sess.Done():
			if sess.State() == chat.StateClosed {
				return nil
			}
			return status.Error(codes.ResourceExhausted, "session fell behind")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
