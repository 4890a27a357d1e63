package main

import (
	"context"
	"strings"

	"github.com/PaulBabatuyi/investchat/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// context key type for storing auth claims in context
type authContextKey struct{}

// publicMethods don't require authentication.
var publicMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
	"/grpc.health.v1.Health/List":  true,
}

// getClaimsFromContext extracts auth claims from the context, if present.
func getClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	v := ctx.Value(authContextKey{})
	if v == nil {
		return nil, false
	}
	c, ok := v.(*auth.Claims)
	return c, ok
}

// bearerToken strips an optional "Bearer" prefix.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "bearer") {
		header = header[6:]
	}
	return strings.TrimSpace(header)
}

// authenticate verifies the authorization metadata of an incoming call.
func authenticate(ctx context.Context, j *auth.JWTManager) (*auth.Claims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
	}

	token := bearerToken(authHeaders[0])
	if token == "" {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token")
	}

	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	return claims, nil
}

// authUnaryInterceptor returns a UnaryServerInterceptor that enforces JWT
// authentication for all methods except publicMethods.
func authUnaryInterceptor(j *auth.JWTManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		claims, err := authenticate(ctx, j)
		if err != nil {
			return nil, err
		}
		// attach claims into context for handlers
		return handler(context.WithValue(ctx, authContextKey{}, claims), req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(j *auth.JWTManager) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if publicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		claims, err := authenticate(ss.Context(), j)
		if err != nil {
			return err
		}

		// wrap stream context with claims
		newCtx := context.WithValue(ss.Context(), authContextKey{}, claims)
		wrapped := grpcmiddlewareServerStream{ServerStream: ss, ctx: newCtx}
		return handler(srv, wrapped)
	}
}

// grpcmiddlewareServerStream wraps grpc.ServerStream to override Context()
type grpcmiddlewareServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with claims)
func (g grpcmiddlewareServerStream) Context() context.Context { return g.ctx }
