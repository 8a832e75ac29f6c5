// Package session issues the short-lived login session that sits in front of the
// remember-me cookie.
//
// Session tokens are PASETO v4.public, signed with an Ed25519 key, and carry only the
// owner model, user id and username. They are stateless: when a session cookie expires
// the HTTP layer falls back to the remember-me cookie and mints a new session.
package session
