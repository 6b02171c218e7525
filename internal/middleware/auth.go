// Package middleware provides the HTTP cross-cutting layers: bearer-token
// authentication, per-client rate limiting and CORS.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stackgenhq/platform/internal/app/session"
	"github.com/stackgenhq/platform/pkg/logger"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// Claims are the JWT claims minted at login. The embedded session id ties
// the token to a revocable server-side session.
type Claims struct {
	AccountID int64  `json:"account_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Auth validates bearer tokens and resolves them against the session
// store, so deleting a session revokes its tokens immediately.
type Auth struct {
	secret    []byte
	sessions  session.Store
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuth builds the authentication middleware. skipPaths are served
// without a token.
func NewAuth(secret string, sessions session.Store, log *logger.Logger, skipPaths ...string) *Auth {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Auth{
		secret:    []byte(secret),
		sessions:  sessions,
		log:       log,
		skipPaths: skip,
	}
}

// IssueToken mints a signed token for an existing session.
func (a *Auth) IssueToken(accountID int64, sessionID string, expiresAt time.Time) (string, error) {
	claims := Claims{
		AccountID: accountID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequestClaims validates the bearer token on r and returns its claims.
// It does not consult the session store; callers needing revocation
// semantics resolve the session id themselves.
func (a *Auth) RequestClaims(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.New("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("malformed authorization header")
	}
	return a.validateToken(parts[1])
}

// Handler wraps next with bearer-token authentication.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.RequestClaims(r)
		if err != nil {
			a.log.WithError(err).Warnf("token rejected for %s %s", r.Method, r.URL.Path)
			unauthorized(w, "invalid token")
			return
		}

		if a.sessions != nil && claims.SessionID != "" {
			if _, err := a.sessions.Get(r.Context(), claims.SessionID); err != nil {
				if errors.Is(err, session.ErrNotFound) {
					unauthorized(w, "session expired")
					return
				}
				// Session backend trouble is not the caller's fault.
				http.Error(w, "session store unavailable", http.StatusInternalServerError)
				return
			}
		}

		ctx := context.WithValue(r.Context(), accountIDKey, claims.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if claims.AccountID <= 0 {
		return nil, errors.New("token missing account id")
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// AccountID extracts the authenticated account id from a request context.
// The second return is false for unauthenticated requests.
func AccountID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok
}
