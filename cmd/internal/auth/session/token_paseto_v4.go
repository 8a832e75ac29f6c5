package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Subject is the user a session is issued for.
type Subject struct {
	Model    string
	UserID   string
	Username string
}

// Claims is the verified content of a session token.
type Claims struct {
	Subject
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Manager issues and verifies session tokens.
type Manager interface {
	Issue(sub Subject, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
	CookieName() string
	TTL() time.Duration
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	cookie    string

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a Manager based on PASETO v4.public.
//
// An empty cfg.SecretKeyHex generates an ephemeral keypair.
func NewPasetoV4PublicManager(cfg Config) (Manager, error) {
	if cfg.TTL <= 0 || strings.TrimSpace(cfg.CookieName) == "" {
		return nil, ErrConfig
	}

	var secret paseto.V4AsymmetricSecretKey
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		var err error
		secret, err = paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		cookie:    cfg.CookieName,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) CookieName() string { return m.cookie }

func (m *pasetoV4PublicManager) TTL() time.Duration { return m.ttl }

func (m *pasetoV4PublicManager) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if sub.Model == "" || sub.UserID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetSubject(sub.UserID)
	tok.SetString("mdl", sub.Model)
	tok.SetString("usr", sub.Username)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future so "nbf" tolerates clock differences.
	validNow := now.Add(m.clockSkew)

	// A fresh parser per call keeps rules from accumulating.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil || !exp.After(now) {
		return Claims{}, ErrInvalidToken
	}
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetSubject()
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	model, err := parsed.GetString("mdl")
	if err != nil || model == "" {
		return Claims{}, ErrInvalidToken
	}
	username, _ := parsed.GetString("usr")

	return Claims{
		Subject:   Subject{Model: model, UserID: uid, Username: username},
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
