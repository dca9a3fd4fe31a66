// Package auth resolves the participant behind an HTTP request. The ledger
// itself never authenticates; handlers read the id this package stores in
// the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderParticipant carries the participant id when no JWT secret is
// configured (development only).
const HeaderParticipant = "X-Participant-ID"

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

type ctxKey struct{}

// Claims is the JWT payload. The participant id travels in Subject.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 participant tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// New returns an Authenticator. An empty secret puts it in header mode:
// X-Participant-ID is trusted as-is.
func New(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// HeaderMode reports whether tokens are disabled.
func (a *Authenticator) HeaderMode() bool {
	return len(a.secret) == 0
}

// GenerateToken signs a token for participantID valid for ttl.
func (a *Authenticator) GenerateToken(participantID, name string, ttl time.Duration) (string, error) {
	if a.HeaderMode() {
		return "", fmt.Errorf("auth: JWT secret not configured")
	}
	now := a.now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses tokenString and returns its claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identify extracts the participant id from r.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if a.HeaderMode() {
		id := strings.TrimSpace(r.Header.Get(HeaderParticipant))
		if id == "" {
			return "", ErrMissingToken
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", ErrMissingToken
	}
	claims, err := a.ValidateToken(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Middleware puts the participant id into the request context when the
// request carries a valid identity. Anonymous requests pass through; routes
// that need an identity check ParticipantFrom. A bad token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		switch {
		case err == nil:
			r = r.WithContext(WithParticipant(r.Context(), id))
		case errors.Is(err, ErrMissingToken):
		default:
			slog.Debug("rejected token", "path", r.URL.Path, "err", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token","kind":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithParticipant returns a context carrying id.
func WithParticipant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ParticipantFrom returns the participant id stored by Middleware.
func ParticipantFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
