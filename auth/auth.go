// Package auth resolves bearer tokens into player identities.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/jwtauth"

	"github.com/wfunc/geoguess/errs"
	"github.com/wfunc/geoguess/models"
)

// Provider maps a token to the player it identifies.
type Provider interface {
	Authenticate(ctx context.Context, token string) (models.PlayerID, error)
}

// JWTProvider validates HS256 tokens. The player id is read from the
// user_id, userId or sub claim, in that order.
type JWTProvider struct {
	ja *jwtauth.JWTAuth
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{ja: jwtauth.New("HS256", []byte(secret), nil)}
}

func (p *JWTProvider) Authenticate(ctx context.Context, token string) (models.PlayerID, error) {
	const op = "auth.authenticate"
	if token == "" {
		return "", errs.E(errs.Auth, op, "missing token")
	}
	tok, err := jwtauth.VerifyToken(p.ja, token)
	if err != nil {
		return "", errs.Wrap(errs.Auth, op, err)
	}
	claims, err := tok.AsMap(ctx)
	if err != nil {
		return "", errs.Wrap(errs.Auth, op, err)
	}
	for _, key := range []string{"user_id", "userId", "sub"} {
		if id, ok := claimString(claims[key]); ok {
			return models.PlayerID(id), nil
		}
	}
	return "", errs.E(errs.Auth, op, "token carries no player id")
}

// IssueToken signs a token for player valid for ttl.
func (p *JWTProvider) IssueToken(player models.PlayerID, ttl time.Duration) (string, error) {
	_, s, err := p.ja.Encode(map[string]interface{}{
		"user_id": string(player),
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return s, err
}

func claimString(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatInt(int64(id), 10), true
	case json.Number:
		return id.String(), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

type ctxKey struct{}

func WithPlayer(ctx context.Context, id models.PlayerID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func PlayerFrom(ctx context.Context) (models.PlayerID, bool) {
	id, ok := ctx.Value(ctxKey{}).(models.PlayerID)
	return id, ok && id != ""
}

// TokenFromRequest reads the bearer header first, then the jwt query parameter.
func TokenFromRequest(r *http.Request) string {
	if t := jwtauth.TokenFromHeader(r); t != "" {
		return t
	}
	return jwtauth.TokenFromQuery(r)
}

// Middleware rejects requests without a valid token with 401 and stores the
// player id in the request context.
func Middleware(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Authenticate(r.Context(), TokenFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = fmt.Fprintf(w, `{"error":%q,"code":%d}`, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPlayer(r.Context(), id)))
		})
	}
}
