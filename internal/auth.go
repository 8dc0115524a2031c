package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roomchat/internal/logging"
)

var errUnauthorized = errors.New("unauthorized")

// tokenClaims are carried by every access token. The registered ID (jti) is
// the session row, so deleting the session revokes the token.
type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager signs and checks HS256 access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is how long an issued token stays valid.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

func (m *TokenManager) issue(userID int64, username, sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.ttl)
	claims := &tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   fmt.Sprint(userID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (m *TokenManager) parse(raw string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

type authContext struct {
	UserID   int64
	Username string
	Avatar   string
	Session  string
}

type authKey struct{}

func withAuth(ctx context.Context, a *authContext) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

func authFrom(ctx context.Context) *authContext {
	a, _ := ctx.Value(authKey{}).(*authContext)
	return a
}

// bearerToken reads the token from the Authorization header, falling back to
// the token query parameter used by websocket clients.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticateRequest resolves the caller from a signed token backed by a live
// session. It returns errUnauthorized for every client-side failure.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, errUnauthorized
	}
	claims, err := s.tokens.parse(raw)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("rejected access token")
		return nil, errUnauthorized
	}
	session, err := s.store.GetSession(r.Context(), claims.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{UserID: user.ID, Username: user.Username, Avatar: user.Avatar, Session: session.Token}, nil
}

// requireAuth rejects anonymous requests with 401 and stores the caller in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := s.authenticateRequest(r)
		if err != nil {
			if errors.Is(err, errUnauthorized) {
				writeError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
			logging.Ctx(r.Context()).Error().Err(err).Msg("authenticate request")
			writeError(w, http.StatusInternalServerError, errInternal)
			return
		}
		ctx := logging.ContextWithUserID(withAuth(r.Context(), a), a.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
