package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/investchat/internal/normalize"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// JWTManager signs and validates JWT tokens used by the API.
// It holds one or more HMAC keys indexed by key id so secrets can be rotated:
// new tokens are signed with the active key, tokens signed with any known key
// still verify.
type JWTManager struct {
	keys      map[string]string // kid -> secret
	activeKid string
	duration  time.Duration // How long tokens are valid (e.g., 24 hours)
}

// Claims is the custom JWT payload (user id + email).
type Claims struct {
	UserID               int64  `json:"user_id"`
	Email                string `json:"email"`
	jwt.RegisteredClaims        // Includes ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a JWTManager using a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a JWTManager that signs with keys[activeKid]
// and verifies with whichever key the token's "kid" header names.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &JWTManager{keys: cp, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a signed JWT token for a user.
func (m *JWTManager) GenerateToken(userID int64, email string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		UserID: userID,
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Security check: ensure token was signed with HMAC (not asymmetric key)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	// CompareHashAndPassword returns nil if password matches hash, error otherwise
	// This is timing-safe against brute-force attacks
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
