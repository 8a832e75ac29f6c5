package rememberme

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is returned when a cookie value cannot be unframed, decrypted or parsed.
	ErrDecode = errors.New("remember-me cookie undecodable")

	// ErrTokenNotFound is returned when no token row matches.
	ErrTokenNotFound = errors.New("remember-me token not found")

	// ErrIdentityNotFound is returned by identity sources when no identity matches.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrPersistence is the kind carried by every PersistenceError.
	ErrPersistence = errors.New("remember-me persistence failed")

	// ErrRedisUnavailable wraps transport-level Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")

	// ErrDuplicateSource is returned when two identity sources claim the same model.
	ErrDuplicateSource = errors.New("duplicate identity source")

	// ErrUnknownSource is returned when no identity source is registered for a model.
	ErrUnknownSource = errors.New("unknown identity source")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	errNilToken     = errors.New("nil token")
	errInvalidToken = errors.New("token row incomplete or oversized")
)

// DecodeError reports why a cookie value was rejected. It never carries the value itself.
type DecodeError struct {
	Reason string
	Err    error
}

func (e DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrDecode, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Reason, e.Err)
}

func (e DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// PersistenceError reports a store failure (unavailable backend, constraint violation,
// vanished row). Callers surface it as "remember-me not set" and keep the primary login.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPersistence, e.Err)
}

func (e PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }
