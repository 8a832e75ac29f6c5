package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token pepper.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "REMEMBERME_TOKEN_HMAC_KEY"

	// MinEntropyBytes is the floor for random input per generated value.
	MinEntropyBytes = 16

	// DefaultEntropyBytes is used when a Generator is built with zero entropy.
	DefaultEntropyBytes = 32

	// DigestLen is the length of every generated value and digest (hex SHA-256).
	DigestLen = 64
)

// Generator creates series and token values.
//
// A zero Generator is usable: 32 random bytes, SHA-256, crypto/rand.
type Generator struct {
	// Entropy is the number of random bytes mixed into each value.
	Entropy int
	// Key, when non-empty, switches hashing to HMAC-SHA256.
	Key []byte
	// Rand overrides the random source (tests only).
	Rand io.Reader
}

// NewGenerator returns a Generator with the given entropy and optional pepper key.
func NewGenerator(entropy int, key []byte) (Generator, error) {
	if entropy == 0 {
		entropy = DefaultEntropyBytes
	}
	if entropy < MinEntropyBytes {
		return Generator{}, ErrEntropyTooLow
	}
	return Generator{Entropy: entropy, Key: key}, nil
}

// Generate returns hash(hex(random) + seed) as 64 hex chars.
// The seed personalizes the value (e.g. owner model and id) but never determines it.
func (g Generator) Generate(seed string) (string, error) {
	n := g.Entropy
	if n == 0 {
		n = DefaultEntropyBytes
	}
	if n < MinEntropyBytes {
		return "", ErrEntropyTooLow
	}

	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", err
	}

	return g.hash(hex.EncodeToString(b) + seed), nil
}

// Digest returns the storage digest of a plain token.
func (g Generator) Digest(plain string) string {
	return g.hash(plain)
}

func (g Generator) hash(s string) string {
	if len(g.Key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, g.Key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// EqualHex64 compares two expected 64-char hex strings in constant time.
// Either side with the wrong length is a mismatch.
func EqualHex64(a, b string) bool {
	if len(a) != DigestLen || len(b) != DigestLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HMACKeyFromEnv returns the configured pepper (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}
