// Package token produces and digests remember-me secrets.
//
// It is the single source of truth for series/token generation and for the
// digest that is persisted in place of the plain token.
//
// Design goals:
//   - Every value mixes at least 16 bytes of crypto/rand output into a hash, so no
//     value is derivable from the identity seed alone.
//   - Output is 64 lowercase hex chars (fits the series column and compares in constant time).
//   - Optional pepper: when REMEMBERME_TOKEN_HMAC_KEY is set, hashing is HMAC-SHA256.
//
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST NOT fall back to plain SHA-256.
package token
