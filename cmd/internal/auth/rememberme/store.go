package rememberme

import (
	"context"
	"strings"
	"time"
)

// Column limits shared by every backend.
const (
	maxOwnerModelLen = 64
	maxOwnerIDLen    = 36
	maxSeriesLen     = 64
	maxTokenHashLen  = 255
)

// Store abstracts persistence for remember-me token rows.
//
// Every failure other than "not found" is returned as a PersistenceError.
type Store interface {
	// FindBySeries loads the row for one owner's device. Returns ErrTokenNotFound when absent.
	FindBySeries(ctx context.Context, ownerModel, ownerID, series string) (Token, error)

	// Save inserts or updates t and fills its store-managed fields.
	//
	// With t.ID set it updates token hash, expiry and modified time of that row only,
	// returning a PersistenceError wrapping ErrTokenNotFound if the row is gone.
	// Without t.ID it upserts on (owner model, owner id, series).
	Save(ctx context.Context, t *Token, now time.Time) error

	// Delete removes a single row. Deleting a missing row is not an error.
	Delete(ctx context.Context, t Token) error

	// DeleteAllMatching removes the owner's row for series, or every row of the owner
	// when series is empty. Returns the number of rows removed.
	DeleteAllMatching(ctx context.Context, ownerModel, ownerID, series string) (int64, error)

	// DropExpired removes rows whose expiry is before now, optionally scoped to an owner
	// model and owner id (empty means any). Returns the number of rows removed.
	DropExpired(ctx context.Context, now time.Time, ownerModel, ownerID string) (int64, error)
}

func validateForSave(t *Token) error {
	if t == nil {
		return errNilToken
	}
	if t.ID != "" {
		if t.TokenHash == "" || len(t.TokenHash) > maxTokenHashLen || t.Expires.IsZero() {
			return errInvalidToken
		}
		return nil
	}
	switch {
	case strings.TrimSpace(t.OwnerModel) == "", len(t.OwnerModel) > maxOwnerModelLen:
		return errInvalidToken
	case strings.TrimSpace(t.OwnerID) == "", len(t.OwnerID) > maxOwnerIDLen:
		return errInvalidToken
	case strings.TrimSpace(t.Series) == "", len(t.Series) > maxSeriesLen:
		return errInvalidToken
	case t.TokenHash == "", len(t.TokenHash) > maxTokenHashLen:
		return errInvalidToken
	case t.Expires.IsZero():
		return errInvalidToken
	}
	return nil
}
