package token

import "errors"

var (
	// ErrHMACKeyMissing is returned when HMAC digests are required but no key is configured.
	ErrHMACKeyMissing = errors.New("token: hmac key not set")
	// ErrHMACKeyTooShort is returned for keys under 32 bytes.
	ErrHMACKeyTooShort = errors.New("token: hmac key shorter than 32 bytes")
	// ErrEntropyTooLow is returned when a Generator would mix in fewer than MinEntropyBytes.
	ErrEntropyTooLow = errors.New("token: entropy below minimum")
)
