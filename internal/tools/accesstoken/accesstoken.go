// Package accesstoken generates the Ed25519 key pair used to sign retro
// access tokens and mints tokens for local development.
package accesstoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of minted tokens when none is given.
const DefaultTTL = time.Hour

// GenerateKeys generates a key pair and writes shell exports.
func GenerateKeys(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate access token key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export RETROBOARD_ACCESS_TOKEN_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export RETROBOARD_ACCESS_TOKEN_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// MintInput describes one token.
type MintInput struct {
	// PrivateKey is the base64 Ed25519 private key.
	PrivateKey string
	Issuer     string
	Audience   string
	Subject    string
	Username   string
	TTL        time.Duration
	Now        time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// Mint signs an access token for input.
func Mint(input MintInput) (string, error) {
	raw := strings.TrimSpace(input.PrivateKey)
	if raw == "" {
		return "", errors.New("private key is required")
	}
	keyBytes, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		keyBytes, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if strings.TrimSpace(input.Issuer) == "" || strings.TrimSpace(input.Audience) == "" {
		return "", errors.New("issuer and audience are required")
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    strings.TrimSpace(input.Issuer),
			Audience:  jwt.ClaimStrings{strings.TrimSpace(input.Audience)},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: strings.TrimSpace(input.Username),
	})
	signed, err := token.SignedString(ed25519.PrivateKey(keyBytes))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
