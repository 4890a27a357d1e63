package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
	"github.com/PaulBabatuyi/investchat/internal/auth"
	"github.com/PaulBabatuyi/investchat/internal/chat"
	"github.com/PaulBabatuyi/investchat/internal/data"
	"github.com/PaulBabatuyi/investchat/internal/middleware"
	"github.com/PaulBabatuyi/investchat/internal/normalize"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// routes builds the HTTP handler: health, login and the two websocket
// channels, behind CORS.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	login := http.Handler(http.HandlerFunc(s.handleLogin))
	if s.login != nil {
		login = middleware.RateLimitHTTP(s.login, middleware.RemoteIP)(login)
	}
	r.Handle("/api/login", login).Methods(http.MethodPost)

	ws := r.PathPrefix("/ws").Subrouter()
	if s.connect != nil {
		ws.Use(mux.MiddlewareFunc(middleware.RateLimitHTTP(s.connect, middleware.RemoteIP)))
	}
	ws.HandleFunc("/chat", s.serveWS(chat.KindDirect, "receiver_id")).Methods(http.MethodGet)
	ws.HandleFunc("/gr_chat", s.serveWS(chat.KindGroup, "group_id")).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin authenticates a user and returns a JWT token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := normalize.Email(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	// Lookup user by email
	user, err := s.users.GetUserByEmail(r.Context(), email)
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Verify password
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("token generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID, ExpiresAt: expiresAt})
}

// requestToken reads the bearer token from the Authorization header or,
// for browsers that can not set headers on websocket requests, the token
// query parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearerToken(h)
	}
	return r.URL.Query().Get("token")
}

// parseTarget reads an optional positive id query parameter. A present but
// unusable value can never resolve.
func parseTarget(r *http.Request, param string) (int64, error) {
	v := r.URL.Query().Get(param)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.TargetNotFound(param + " is not a valid id")
	}
	return id, nil
}

// httpStatus maps an open failure to the handshake response code.
func httpStatus(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeTargetNotFound, apperr.CodePeerNotFound:
		return http.StatusNotFound
	case apperr.CodeJoinDenied:
		return http.StatusForbidden
	case apperr.CodeInvalidState:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// serveWS authenticates and opens the session before upgrading, so every
// establishment failure is a plain HTTP error and no event is ever sent.
func (s *Server) serveWS(kind chat.Kind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.VerifyToken(requestToken(r))
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		target, err := parseTarget(r, param)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}

		sess, err := s.chat.Open(r.Context(), claims.UserID, kind, target)
		if err != nil {
			code := httpStatus(err)
			if code == http.StatusInternalServerError {
				s.logger.Error("open session failed", zap.Error(err))
			}
			http.Error(w, http.StatusText(code), code)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client.
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			sess.Close(r.Context())
			return
		}
		s.pumpWebsocket(r.Context(), conn, sess)
	}
}
