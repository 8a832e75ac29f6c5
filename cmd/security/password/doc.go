// Package password hashes and verifies primary-login passwords with Argon2id.
//
// Hashes use the PHC string format. Stored hashes are treated as untrusted input
// and are refused when their cost parameters are far above the configured ones.
package password
