package password

import "errors"

// Length and strength errors come from Config.Validate, ErrInvalidHash from Verify.
var (
	ErrPasswordTooShort = errors.New("password: below minimum length")
	ErrPasswordTooLong  = errors.New("password: above maximum length")
	ErrWeakPassword     = errors.New("password: too weak")
	ErrInvalidHash      = errors.New("password: malformed or unsupported hash")
	ErrInvalidConfig    = errors.New("password: invalid config")
)
