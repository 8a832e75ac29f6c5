package rememberme

import (
	"errors"
	"hash"
	"io"
	"strings"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	codecKeyLen     = 32
	codecHeader     = "v4.local."
	codecMaxLen     = 4096
	codecKDFInfo    = "rememberme cookie v1"
	minSecretLength = 32

	claimUsername = "username"
	claimSeries   = "series"
	claimToken    = "token"
)

// Codec seals cookie payloads as PASETO v4.local tokens.
//
// The key is fixed for the lifetime of the Codec. The implicit assertion binds a
// sealed value to one cookie name.
type Codec struct {
	key      paseto.V4SymmetricKey
	implicit []byte
	parser   paseto.Parser
}

// NewCodec derives the symmetric key from secret and salt (HKDF over BLAKE2b-256).
// secret must be at least 32 bytes.
func NewCodec(secret, salt []byte, cookieName string) (*Codec, error) {
	if len(secret) < minSecretLength {
		return nil, errors.New("rememberme: codec secret must be at least 32 bytes")
	}

	raw, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return &Codec{
		key:      key,
		implicit: []byte(cookieName),
		parser:   paseto.NewParserWithoutExpiryCheck(),
	}, nil
}

func deriveKey(secret, salt []byte) ([]byte, error) {
	nhash := func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		return h
	}

	out := make([]byte, codecKeyLen)
	if _, err := io.ReadFull(hkdf.New(nhash, secret, salt, []byte(codecKDFInfo)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode seals the triple into a cookie-safe string.
func (c *Codec) Encode(username, series, token string) (string, error) {
	if c == nil {
		return "", errors.New("rememberme: nil codec")
	}

	t := paseto.NewToken()
	t.SetString(claimUsername, username)
	t.SetString(claimSeries, series)
	t.SetString(claimToken, token)

	return t.V4Encrypt(c.key, c.implicit), nil
}

// Decode opens a cookie value. Every failure is a DecodeError.
// Missing claims decode as empty strings; completeness is the verifier's concern.
func (c *Codec) Decode(value string) (Credentials, error) {
	if c == nil {
		return Credentials{}, DecodeError{Reason: "nil codec"}
	}

	value = strings.TrimSpace(value)
	if len(value) > codecMaxLen {
		return Credentials{}, DecodeError{Reason: "oversized"}
	}
	if !strings.HasPrefix(value, codecHeader) {
		return Credentials{}, DecodeError{Reason: "framing"}
	}

	t, err := c.parser.ParseV4Local(c.key, value, c.implicit)
	if err != nil {
		return Credentials{}, DecodeError{Reason: "open", Err: err}
	}

	return Credentials{
		Username: claimString(t, claimUsername),
		Series:   claimString(t, claimSeries),
		Token:    claimString(t, claimToken),
	}, nil
}

func claimString(t *paseto.Token, key string) string {
	v, err := t.GetString(key)
	if err != nil {
		return ""
	}
	return v
}
