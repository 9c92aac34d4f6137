package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fyzo-chat/internal/models"
	"fyzo-chat/internal/repositories"
)

var (
	ErrMissingToken    = errors.New("identity: missing token")
	ErrInvalidToken    = errors.New("identity: invalid token")
	ErrTokenExpired    = errors.New("identity: token expired")
	ErrSessionInactive = errors.New("identity: session not found or expired")
)

// Identity is the verified caller behind a token.
type Identity struct {
	UserID string
	Role   string
}

// Claims are the token claims issued by the identity service.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionFinder looks up login sessions by token.
type SessionFinder interface {
	FindSession(ctx context.Context, refreshToken string) (models.Session, error)
}

// Verifier validates HS256 tokens and, optionally, the session they belong to.
type Verifier struct {
	secret       []byte
	sessions     SessionFinder
	checkSession bool
	now          func() time.Time
}

func NewVerifier(secret string, sessions SessionFinder, checkSession bool) *Verifier {
	return &Verifier{secret: []byte(secret), sessions: sessions, checkSession: checkSession, now: time.Now}
}

// Verify parses token and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return Identity{}, ErrInvalidToken
	}

	if v.checkSession {
		if v.sessions == nil {
			return Identity{}, ErrSessionInactive
		}
		session, err := v.sessions.FindSession(ctx, token)
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return Identity{}, ErrSessionInactive
		}
		if err != nil {
			return Identity{}, fmt.Errorf("find session: %w", err)
		}
		if !session.Live(v.now()) || session.UserID != claims.ID {
			return Identity{}, ErrSessionInactive
		}
	}
	return Identity{UserID: claims.ID, Role: claims.Role}, nil
}

// TokenFromRequest reads the bearer token, then the refreshToken cookie, then
// the token query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie("refreshToken"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// IssueToken signs a token the way the identity service does. Used by tooling and tests.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:   userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
