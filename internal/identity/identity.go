// Package identity verifies the bearer tokens presented by clients.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"soulbomber-arena/internal/apperr"
)

type Identity struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

const (
	DriverHMAC  = "hmac"
	DriverRedis = "redis"
)

var (
	ErrMissingToken = apperr.New(apperr.CodeUnauthorized, "missing identity token")
	ErrInvalidToken = apperr.New(apperr.CodeUnauthorized, "invalid identity token")
	ErrExpiredToken = apperr.New(apperr.CodeUnauthorized, "identity token expired")
)

// TokenFromRequest reads the token from the "token" query parameter or an
// Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

type claims struct {
	Identity
	Exp int64 `json:"exp"`
}

// HMAC verifies tokens of the form base64url(claims).base64url(sig), signed
// with HMAC-SHA256 by the identity provider.
type HMAC struct {
	secret []byte
	now    func() time.Time
}

func NewHMAC(secret string) *HMAC {
	return &HMAC{secret: []byte(secret), now: time.Now}
}

// Issue signs a token. The server only verifies in production; Issue backs
// tests and local tooling.
func (h *HMAC) Issue(id Identity, ttl time.Duration) (string, error) {
	body, err := json.Marshal(claims{Identity: id, Exp: h.now().Add(ttl).Unix()})
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + base64.RawURLEncoding.EncodeToString(h.sign(payload)), nil
}

func (h *HMAC) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, h.sign(payload)) {
		return Identity{}, ErrInvalidToken
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(body, &c); err != nil || c.UID == "" {
		return Identity{}, ErrInvalidToken
	}
	if c.Exp != 0 && h.now().Unix() >= c.Exp {
		return Identity{}, ErrExpiredToken
	}
	return c.Identity, nil
}

func (h *HMAC) sign(payload string) []byte {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// RedisSessions looks tokens up in hashes written by the identity
// provider under "session:<token>" with fields uid, name and photoURL.
type RedisSessions struct {
	client *redis.Client
	prefix string
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client, prefix: "session:"}
}

func (s *RedisSessions) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	fields, err := s.client.HGetAll(ctx, s.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, apperr.Wrap(err, apperr.CodeUnavailable, "identity store unavailable")
	}
	if fields["uid"] == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UID: fields["uid"], Name: fields["name"], PhotoURL: fields["photoURL"]}, nil
}
