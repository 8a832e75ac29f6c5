package rememberme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rememberme/cmd/security/token"
)

// Outcome is the externally visible result of a cookie verification.
type Outcome int

const (
	// CredentialsMissing means no cookie was presented.
	CredentialsMissing Outcome = iota
	// CredentialsInvalid means the cookie could not be decoded or was incomplete.
	CredentialsInvalid
	// IdentityNotFound covers unknown series, token mismatch and expiry alike.
	IdentityNotFound
	// Valid means the identity was re-established.
	Valid
)

func (o Outcome) String() string {
	switch o {
	case CredentialsMissing:
		return "credentials_missing"
	case CredentialsInvalid:
		return "credentials_invalid"
	case IdentityNotFound:
		return "identity_not_found"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reason is the internal cause behind an Outcome. It is for logs, metrics and audit;
// it must not be shown to end users.
type Reason string

const (
	ReasonNoCookie       Reason = "no_cookie"
	ReasonDecodeFailed   Reason = "decode_failed"
	ReasonIncomplete     Reason = "incomplete"
	ReasonSeriesNotFound Reason = "series_not_found"
	ReasonLookupFailed   Reason = "lookup_failed"
	ReasonTokenMismatch  Reason = "token_mismatch"
	ReasonExpired        Reason = "expired"
	ReasonOK             Reason = "ok"
)

// Verification is the result of Verifier.Verify.
type Verification struct {
	Outcome Outcome
	Reason  Reason

	// Identity is a Remembered value when Outcome is Valid.
	Identity Identity

	// Username and Series are the decoded cookie fields, when decoding got that far.
	Username string
	Series   string

	// Err is the underlying failure, if any (decode or lookup).
	Err error
}

// OK reports whether the identity was re-established.
func (v Verification) OK() bool { return v.Outcome == Valid }

// Verifier turns a cookie value into an identity. Every failure is terminal and
// reported as an Outcome; Verify never returns an error.
type Verifier struct {
	codec    *Codec
	store    Store
	source   IdentitySource
	tokens   token.Generator
	combined bool

	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics
	audit   AuditSink
}

// NewVerifier constructs a Verifier for identities of source.Model().
//
// When combined is true and source implements SeriesFinder, the identity and its token
// row are loaded in one query; this is only correct when source and store share a database.
func NewVerifier(codec *Codec, store Store, source IdentitySource, tokens token.Generator, combined bool) (*Verifier, error) {
	if codec == nil || store == nil || source == nil {
		return nil, fmt.Errorf("%w: verifier needs codec, store and identity source", ErrConfig)
	}
	return &Verifier{
		codec:    codec,
		store:    store,
		source:   source,
		tokens:   tokens,
		combined: combined,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		audit:    NopAudit{},
	}, nil
}

// Verify runs the remember-me state machine against one cookie value.
func (v *Verifier) Verify(ctx context.Context, cookieValue string) Verification {
	res := v.verify(ctx, cookieValue)
	v.metrics.verified(res.Outcome, res.Reason)

	switch res.Reason {
	case ReasonNoCookie, ReasonOK:
	case ReasonDecodeFailed, ReasonIncomplete:
		v.log.DebugContext(ctx, "rememberme.verify.invalid", "reason", string(res.Reason), "err", res.Err)
	case ReasonLookupFailed:
		v.log.ErrorContext(ctx, "rememberme.verify.lookup.fail", "username", res.Username, "err", res.Err)
	default:
		v.log.InfoContext(ctx, "rememberme.verify.rejected",
			"reason", string(res.Reason),
			"username", res.Username,
			"series", res.Series,
		)
	}
	return res
}

func (v *Verifier) verify(ctx context.Context, cookieValue string) Verification {
	if strings.TrimSpace(cookieValue) == "" {
		return Verification{Outcome: CredentialsMissing, Reason: ReasonNoCookie}
	}

	creds, err := v.codec.Decode(cookieValue)
	if err != nil {
		return Verification{Outcome: CredentialsInvalid, Reason: ReasonDecodeFailed, Err: err}
	}
	res := Verification{Username: creds.Username, Series: creds.Series}
	if !creds.Complete() {
		res.Outcome, res.Reason = CredentialsInvalid, ReasonIncomplete
		return res
	}

	id, row, err := v.lookup(ctx, creds)
	if err != nil {
		res.Outcome, res.Err = IdentityNotFound, err
		res.Reason = ReasonLookupFailed
		if errors.Is(err, ErrIdentityNotFound) || errors.Is(err, ErrTokenNotFound) {
			res.Reason = ReasonSeriesNotFound
		}
		return res
	}

	if !token.EqualHex64(row.TokenHash, v.tokens.Digest(creds.Token)) {
		v.revoke(ctx, row, ReasonTokenMismatch)
		res.Outcome, res.Reason = IdentityNotFound, ReasonTokenMismatch
		return res
	}

	if !row.ValidAt(v.now()) {
		v.revoke(ctx, row, ReasonExpired)
		res.Outcome, res.Reason = IdentityNotFound, ReasonExpired
		return res
	}

	res.Outcome, res.Reason = Valid, ReasonOK
	res.Identity = Remembered{Identity: id, Token: row.Ref()}
	return res
}

// lookup resolves the identity by username and its token row for series, scoped to that owner.
func (v *Verifier) lookup(ctx context.Context, creds Credentials) (Identity, Token, error) {
	if sf, ok := v.source.(SeriesFinder); ok && v.combined {
		return sf.FindBySeries(ctx, creds.Username, creds.Series)
	}

	id, err := v.source.FindByUsername(ctx, creds.Username)
	if err != nil {
		return nil, Token{}, err
	}
	row, err := v.store.FindBySeries(ctx, v.source.Model(), id.PrimaryKey(), creds.Series)
	if err != nil {
		return nil, Token{}, err
	}
	return id, row, nil
}

// revoke deletes the row behind a failed verification. Failures are logged only;
// the verification outcome is unaffected.
func (v *Verifier) revoke(ctx context.Context, row Token, reason Reason) {
	if err := v.store.Delete(ctx, row); err != nil {
		v.metrics.persistFailed("delete")
		v.log.ErrorContext(ctx, "rememberme.verify.revoke.fail", "token", row, "err", err)
		return
	}
	v.metrics.revokedRows(string(reason), 1)

	action := AuditExpired
	if reason == ReasonTokenMismatch {
		action = AuditTheftSuspected
	}
	v.audit.Record(ctx, AuditEvent{
		Action:     action,
		OwnerModel: row.OwnerModel,
		OwnerID:    row.OwnerID,
		Series:     row.Series,
		At:         v.now(),
	}.withClient(ctx))
}
