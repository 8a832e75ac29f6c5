package rememberme

import (
	"log/slog"
	"strings"
	"time"
)

// Token mirrors one remember_me_tokens row.
//
// TokenHash is the digest of the cookie secret; the plain secret is never stored.
type Token struct {
	ID         string
	OwnerModel string
	OwnerID    string
	Series     string
	TokenHash  string `json:"-"`
	Expires    time.Time
	Created    time.Time
	Modified   time.Time
}

// ValidAt reports whether the token is still live at now. Expiry equal to now is invalid.
func (t Token) ValidAt(now time.Time) bool { return t.Expires.After(now) }

// Ref returns the non-secret reference attached to a remembered identity.
func (t Token) Ref() TokenRef {
	return TokenRef{ID: t.ID, Series: t.Series, Expires: t.Expires}
}

// LogValue keeps the digest out of logs.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID),
		slog.String("owner_model", t.OwnerModel),
		slog.String("owner_id", t.OwnerID),
		slog.String("series", t.Series),
		slog.Time("expires", t.Expires),
	)
}

// TokenRef identifies the token row that re-established an identity.
type TokenRef struct {
	ID      string
	Series  string
	Expires time.Time
}

// Credentials is the decoded cookie payload.
type Credentials struct {
	Username string
	Series   string
	Token    string `json:"-"`
}

// Complete reports whether all three fields are non-blank.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Username) != "" &&
		strings.TrimSpace(c.Series) != "" &&
		strings.TrimSpace(c.Token) != ""
}

// LogValue keeps the secret out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("series", c.Series),
	)
}
