package rememberme

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InMemoryStore is a dev/test Store. It enforces the same uniqueness and
// update-by-id rules as the SQL store.
type InMemoryStore struct {
	mu     sync.Mutex
	rows   map[string]Token   // id -> row
	series map[memKey]string // (owner model, owner id, series) -> id
}

type memKey struct {
	model, owner, series string
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rows:   make(map[string]Token),
		series: make(map[memKey]string),
	}
}

// FindBySeries implements Store.
func (s *InMemoryStore) FindBySeries(ctx context.Context, ownerModel, ownerID, series string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, persistErr("rememberme.InMemoryStore.FindBySeries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.series[memKey{ownerModel, ownerID, series}]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return s.rows[id], nil
}

// Save implements Store.
func (s *InMemoryStore) Save(ctx context.Context, t *Token, now time.Time) error {
	const op = "rememberme.InMemoryStore.Save"

	if err := validateForSave(t); err != nil {
		return persistErr(op, err)
	}
	if err := ctx.Err(); err != nil {
		return persistErr(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID != "" {
		row, ok := s.rows[t.ID]
		if !ok {
			return persistErr(op, ErrTokenNotFound)
		}
		row.TokenHash = t.TokenHash
		row.Expires = t.Expires
		row.Modified = now
		s.rows[row.ID] = row
		*t = row
		return nil
	}

	k := memKey{t.OwnerModel, t.OwnerID, t.Series}
	if id, ok := s.series[k]; ok {
		row := s.rows[id]
		row.TokenHash = t.TokenHash
		row.Expires = t.Expires
		row.Modified = now
		s.rows[id] = row
		*t = row
		return nil
	}

	row := *t
	row.ID = ulid.Make().String()
	row.Created = now
	row.Modified = now
	s.rows[row.ID] = row
	s.series[k] = row.ID
	*t = row
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(ctx context.Context, t Token) error {
	if err := ctx.Err(); err != nil {
		return persistErr("rememberme.InMemoryStore.Delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.ID
	if id == "" {
		id = s.series[memKey{t.OwnerModel, t.OwnerID, t.Series}]
	}
	s.removeLocked(id)
	return nil
}

// DeleteAllMatching implements Store.
func (s *InMemoryStore) DeleteAllMatching(ctx context.Context, ownerModel, ownerID, series string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, persistErr("rememberme.InMemoryStore.DeleteAllMatching", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if row.OwnerModel != ownerModel || row.OwnerID != ownerID {
			continue
		}
		if series != "" && row.Series != series {
			continue
		}
		s.removeLocked(id)
		n++
	}
	return n, nil
}

// DropExpired implements Store.
func (s *InMemoryStore) DropExpired(ctx context.Context, now time.Time, ownerModel, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, persistErr("rememberme.InMemoryStore.DropExpired", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if ownerModel != "" && row.OwnerModel != ownerModel {
			continue
		}
		if ownerID != "" && row.OwnerID != ownerID {
			continue
		}
		if !row.Expires.Before(now) {
			continue
		}
		s.removeLocked(id)
		n++
	}
	return n, nil
}

// Len returns the number of stored rows.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *InMemoryStore) removeLocked(id string) {
	row, ok := s.rows[id]
	if !ok {
		return
	}
	delete(s.rows, id)
	delete(s.series, memKey{row.OwnerModel, row.OwnerID, row.Series})
}
