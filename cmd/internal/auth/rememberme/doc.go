// Package rememberme implements persistent "remember me" logins with
// per-device series and rotating tokens.
//
// A browser holds an encrypted cookie carrying {username, series, token}.
// The server keeps one row per (owner model, owner id, series) holding a digest of
// the current token and its expiry. A valid cookie re-establishes the identity and
// rotates the token while keeping the series. A cookie whose token does not match
// (replayed after rotation) or whose row has expired deletes that row, so a stolen
// cookie works at most once.
//
// Concurrency:
//   - Two requests rotating the same series race as last-write-wins on one row.
//     Rotation always updates by row id and never inserts, so the unique key holds.
//   - A failed verification deleting a row may race a concurrent successful rotation
//     of the same row. Theft detection is best effort; no distributed locking is attempted.
//   - DropExpired only removes rows already past their expiry and may run at any time.
//
// Rotating the codec secret invalidates every outstanding cookie.
package rememberme
