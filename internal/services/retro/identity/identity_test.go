package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/requestctx"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return public, private
}

func tokenResolver(public ed25519.PublicKey) *Resolver {
	return NewResolver(Config{
		Issuer:   "retroboard-auth",
		Audience: "retroboard",
		Key:      public,
		Now:      func() time.Time { return testNow },
	})
}

func sign(t *testing.T, private ed25519.PrivateKey, mutate func(*accessTokenClaims)) string {
	t.Helper()
	claims := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "retroboard-auth",
			Audience:  jwt.ClaimStrings{"retroboard"},
			Subject:   "user-alice",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
		},
		Username: "alice",
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(private)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestLoadConfigFromEnvHeaderMode(t *testing.T) {
	t.Setenv("RETROBOARD_ACCESS_TOKEN_PUBLIC_KEY", "")
	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if NewResolver(cfg).TokenMode() {
		t.Fatal("expected header mode without a public key")
	}
}

func TestLoadConfigFromEnvTokenMode(t *testing.T) {
	public, _ := newKeys(t)
	t.Setenv("RETROBOARD_ACCESS_TOKEN_PUBLIC_KEY", base64.RawStdEncoding.EncodeToString(public))
	t.Setenv("RETROBOARD_ACCESS_TOKEN_ISSUER", "retroboard-auth")
	t.Setenv("RETROBOARD_ACCESS_TOKEN_AUDIENCE", "retroboard")

	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !NewResolver(cfg).TokenMode() || !cfg.Key.Equal(public) {
		t.Fatal("expected token mode with the configured key")
	}
}

func TestConfigFromRawValidation(t *testing.T) {
	public, _ := newKeys(t)
	encoded := base64.StdEncoding.EncodeToString(public)
	tests := []struct {
		name string
		raw  accessTokenEnv
	}{
		{name: "missing issuer", raw: accessTokenEnv{Audience: "a", PublicKey: encoded}},
		{name: "missing audience", raw: accessTokenEnv{Issuer: "i", PublicKey: encoded}},
		{name: "bad base64", raw: accessTokenEnv{Issuer: "i", Audience: "a", PublicKey: "!!!"}},
		{name: "short key", raw: accessTokenEnv{Issuer: "i", Audience: "a", PublicKey: base64.StdEncoding.EncodeToString([]byte("short"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := configFromRaw(tt.raw, nil); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestVerifyTokenAcceptsValidToken(t *testing.T) {
	public, private := newKeys(t)
	user, err := tokenResolver(public).VerifyToken(sign(t, private, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != "user-alice" || user.Username != "alice" {
		t.Fatalf("user = %+v", user)
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	public, private := newKeys(t)
	_, otherPrivate := newKeys(t)
	resolver := tokenResolver(public)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong key", token: sign(t, otherPrivate, nil)},
		{name: "issuer", token: sign(t, private, func(c *accessTokenClaims) { c.Issuer = "someone-else" })},
		{name: "audience", token: sign(t, private, func(c *accessTokenClaims) { c.Audience = jwt.ClaimStrings{"other"} })},
		{name: "expired", token: sign(t, private, func(c *accessTokenClaims) { c.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Second)) })},
		{name: "no exp", token: sign(t, private, func(c *accessTokenClaims) { c.ExpiresAt = nil })},
		{name: "not before", token: sign(t, private, func(c *accessTokenClaims) { c.NotBefore = jwt.NewNumericDate(testNow.Add(time.Hour)) })},
		{name: "no subject", token: sign(t, private, func(c *accessTokenClaims) { c.Subject = "" })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.VerifyToken(tt.token)
			if apperrors.CodeOf(err) != apperrors.CodeUnauthenticated {
				t.Fatalf("err = %v, want UNAUTHENTICATED", err)
			}
		})
	}
}

func TestResolveFromBearerAndCookie(t *testing.T) {
	public, private := newKeys(t)
	resolver := tokenResolver(public)
	token := sign(t, private, nil)

	bearer := httptest.NewRequest(http.MethodGet, "/", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	if user, err := resolver.Resolve(bearer); err != nil || user.ID != "user-alice" {
		t.Fatalf("bearer resolve = %+v, %v", user, err)
	}

	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	if user, err := resolver.Resolve(cookie); err != nil || user.ID != "user-alice" {
		t.Fatalf("cookie resolve = %+v, %v", user, err)
	}

	headers := httptest.NewRequest(http.MethodGet, "/", nil)
	headers.Header.Set(HeaderUserID, "spoofed")
	if _, err := resolver.Resolve(headers); apperrors.CodeOf(err) != apperrors.CodeUnauthenticated {
		t.Fatalf("trusted headers must be ignored in token mode, err = %v", err)
	}

	basic := httptest.NewRequest(http.MethodGet, "/", nil)
	basic.Header.Set("Authorization", "Basic abc")
	if _, err := resolver.Resolve(basic); err == nil {
		t.Fatal("expected basic auth to be rejected")
	}
}

func TestResolveHeaderMode(t *testing.T) {
	resolver := NewResolver(Config{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, " bob ")
	user, err := resolver.Resolve(req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.ID != "bob" || user.Username != "bob" {
		t.Fatalf("user = %+v", user)
	}

	req.Header.Set(HeaderUsername, "Bob")
	if user, _ := resolver.Resolve(req); user.Username != "Bob" {
		t.Fatalf("username = %q, want Bob", user.Username)
	}

	if _, err := resolver.Resolve(httptest.NewRequest(http.MethodGet, "/", nil)); apperrors.CodeOf(err) != apperrors.CodeUnauthenticated {
		t.Fatalf("missing header err = %v", err)
	}
}

func TestMiddlewareStoresUser(t *testing.T) {
	resolver := NewResolver(Config{})
	var seen requestctx.User
	var found bool
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, found = requestctx.UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "carol")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !found || seen.ID != "carol" {
		t.Fatalf("context user = %+v, %v", seen, found)
	}

	found = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if found {
		t.Fatal("anonymous request must not carry a user")
	}
}
