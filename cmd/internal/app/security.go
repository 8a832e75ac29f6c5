package app

import (
	"crypto/rand"
	"errors"
	"fmt"

	"rememberme/cmd/security/token"
)

const minSecretBytes = 32

// ValidateSecurityConfig enforces the startup security policy. It fails fast rather than
// falling back to weaker token hashing.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.CookieSecret != "" && len(cfg.CookieSecret) < minSecretBytes {
		return fmt.Errorf("security policy: REMEMBERME_COOKIE_SECRET is too short (min %d bytes)", minSecretBytes)
	}
	if !cfg.RequireTokenHMAC {
		return nil
	}
	if _, err := token.HMACKeyFromEnv(minSecretBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: REMEMBERME_REQUIRE_TOKEN_HMAC=true but REMEMBERME_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: REMEMBERME_REQUIRE_TOKEN_HMAC=true but REMEMBERME_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}

// newTokenGenerator returns an HMAC generator when a key is configured and a plain
// SHA-256 one otherwise. A key that is set but too short is an error.
func newTokenGenerator() (token.Generator, error) {
	key, err := token.HMACKeyFromEnv(minSecretBytes)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.NewGenerator(0, nil)
	case err != nil:
		return token.Generator{}, fmt.Errorf("security policy: %w", err)
	}
	return token.NewGenerator(0, key)
}

// cookieKeyMaterial returns the codec secret and salt. ephemeral is true when the
// secret was generated for this process only.
func cookieKeyMaterial(cfg Config) (secret, salt []byte, ephemeral bool, err error) {
	salt = []byte(cfg.CookieSalt)
	if cfg.CookieSecret != "" {
		return []byte(cfg.CookieSecret), salt, false, nil
	}
	secret = make([]byte, minSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, false, err
	}
	return secret, salt, true, nil
}
