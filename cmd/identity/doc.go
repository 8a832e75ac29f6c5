// Package identity holds the user records that remember-me tokens belong to.
//
// It provides Record (a rememberme.Identity), an in-memory and a Postgres directory
// of users, and password checking for the primary login.
package identity
