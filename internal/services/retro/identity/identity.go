// Package identity resolves the calling user of an HTTP request.
//
// With an access-token public key configured, requests must carry an EdDSA
// JWT either as a Bearer token or in the rb_token cookie. Without one, the
// X-User-ID and X-Username headers set by an upstream gateway are trusted.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/requestctx"
)

const (
	// HeaderUserID carries the user id in trusted-header mode.
	HeaderUserID = "X-User-ID"
	// HeaderUsername carries the display name in trusted-header mode.
	HeaderUsername = "X-Username"
	// TokenCookie is the cookie name checked when no Authorization header is sent.
	TokenCookie = "rb_token"
)

// accessTokenEnv holds raw env values before post-parse validation.
type accessTokenEnv struct {
	Issuer    string `env:"RETROBOARD_ACCESS_TOKEN_ISSUER"`
	Audience  string `env:"RETROBOARD_ACCESS_TOKEN_AUDIENCE"`
	PublicKey string `env:"RETROBOARD_ACCESS_TOKEN_PUBLIC_KEY"`
}

// Config defines how callers are identified. A nil Key selects trusted-header mode.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// accessTokenClaims is the internal claims type used for JWT parsing.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// LoadConfigFromEnv reads access token verification configuration. An unset
// public key is valid and selects trusted-header mode.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw accessTokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse access token env: %w", err)
	}
	return configFromRaw(raw, now)
}

func configFromRaw(raw accessTokenEnv, now func() time.Time) (Config, error) {
	if now == nil {
		now = time.Now
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return Config{Now: now}, nil
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return Config{}, fmt.Errorf("RETROBOARD_ACCESS_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("RETROBOARD_ACCESS_TOKEN_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode access token public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("access token public key must be %d bytes", ed25519.PublicKeySize)
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Resolver identifies callers.
type Resolver struct {
	cfg Config
}

// NewResolver builds a resolver for cfg.
func NewResolver(cfg Config) *Resolver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{cfg: cfg}
}

// TokenMode reports whether access tokens are required.
func (r *Resolver) TokenMode() bool {
	return len(r.cfg.Key) == ed25519.PublicKeySize
}

// Resolve returns the caller of req or an UNAUTHENTICATED error.
func (r *Resolver) Resolve(req *http.Request) (requestctx.User, error) {
	if !r.TokenMode() {
		user := requestctx.User{
			ID:       strings.TrimSpace(req.Header.Get(HeaderUserID)),
			Username: strings.TrimSpace(req.Header.Get(HeaderUsername)),
		}
		if user.ID == "" {
			return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, HeaderUserID+" header is required")
		}
		if user.Username == "" {
			user.Username = user.ID
		}
		return user, nil
	}
	return r.VerifyToken(tokenFromRequest(req))
}

func tokenFromRequest(req *http.Request) string {
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := req.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// VerifyToken validates an access token and returns its user.
func (r *Resolver) VerifyToken(token string) (requestctx.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "access token is required")
	}
	if !r.TokenMode() {
		return requestctx.User{}, errors.New("access token verifier is not configured")
	}

	var parsed accessTokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return r.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return requestctx.User{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != r.cfg.Issuer {
		return requestctx.User{}, mismatch("issuer")
	}
	if !audienceContains(parsed.Audience, r.cfg.Audience) {
		return requestctx.User{}, mismatch("audience")
	}
	if parsed.ExpiresAt == nil {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "access token exp is required")
	}
	now := r.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.After(now) {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "access token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "access token not active yet")
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return requestctx.User{}, apperrors.New(apperrors.CodeUnauthenticated, "access token sub is required")
	}
	username := strings.TrimSpace(parsed.Username)
	if username == "" {
		username = subject
	}
	return requestctx.User{ID: subject, Username: username}, nil
}

func mismatch(field string) error {
	return apperrors.WithMetadata(
		apperrors.CodeUnauthenticated,
		"access token "+field+" mismatch",
		map[string]string{"Field": field},
	)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token alg is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "access token is malformed", err)
	}
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, value := range audience {
		if value == expected {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

// Middleware stores the resolved caller in the request context when one can
// be resolved. Handlers decide whether a missing caller is an error.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if user, err := r.Resolve(req); err == nil {
			req = req.WithContext(requestctx.WithUser(req.Context(), user))
		}
		next.ServeHTTP(w, req)
	})
}
