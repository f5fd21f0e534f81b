// Package auth resolves bearer tokens into operator sessions.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	ScopeAll       = "*"
	ScopeThreadsRO = "threads:ro"
	ScopeThreadsRW = "threads:rw"
	ScopeEventsRO  = "events:ro"
)

// TokenConfig binds a bearer token to an operator and its scopes. A token
// with OperatorID zero is a service token with no operator session.
type TokenConfig struct {
	Token      string
	OperatorID int64
	Scopes     []string
}

// Session is the authenticated caller.
type Session struct {
	OperatorID int64
	Scopes     map[string]struct{}
}

// HasOperator reports whether the session carries an operator.
func (s Session) HasOperator() bool { return s.OperatorID > 0 }

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errors.New("missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", errors.New("invalid Authorization header format")
	}
	token := strings.TrimSpace(h[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// Authenticate finds the configured token matching presented.
func Authenticate(presented string, tokens []TokenConfig) (Session, bool) {
	if presented == "" {
		return Session{}, false
	}
	for _, t := range tokens {
		if t.Token == "" || len(t.Token) != len(presented) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(t.Token)) == 1 {
			return Session{OperatorID: t.OperatorID, Scopes: scopeSet(t.Scopes)}, true
		}
	}
	return Session{}, false
}

func scopeSet(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes)+1)
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	if _, ok := out[ScopeThreadsRW]; ok {
		out[ScopeThreadsRO] = struct{}{}
	}
	return out
}

// Allowed reports whether the session holds one of required.
func (s Session) Allowed(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := s.Scopes[ScopeAll]; ok {
		return true
	}
	for _, r := range required {
		if _, ok := s.Scopes[r]; ok {
			return true
		}
	}
	return false
}
