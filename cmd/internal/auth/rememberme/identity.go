package rememberme

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Identity is the capability set the core needs from a user record.
type Identity interface {
	// Field returns a string-valued attribute (e.g. "username").
	Field(name string) (string, bool)
	// Source is the owner-model discriminator the identity belongs to.
	Source() string
	// PrimaryKey is the identity's key rendered as a string.
	PrimaryKey() string
}

// Remembered is an Identity re-established from a cookie, carrying its matched token row.
type Remembered struct {
	Identity
	Token TokenRef
}

// TokenOf returns the token reference attached to id, if any.
func TokenOf(id Identity) (TokenRef, bool) {
	switch v := id.(type) {
	case Remembered:
		return v.Token, v.Token.Series != ""
	case *Remembered:
		if v == nil {
			return TokenRef{}, false
		}
		return v.Token, v.Token.Series != ""
	default:
		return TokenRef{}, false
	}
}

// IdentitySource resolves identities of one owner model by username.
//
// FindByUsername returns ErrIdentityNotFound (possibly wrapped) when nothing matches.
type IdentitySource interface {
	Model() string
	FindByUsername(ctx context.Context, username string) (Identity, error)
}

// SeriesFinder is implemented by sources that can resolve an identity and its token row
// for a series in a single query. It returns ErrIdentityNotFound or ErrTokenNotFound.
type SeriesFinder interface {
	FindBySeries(ctx context.Context, username, series string) (Identity, Token, error)
}

// Registry selects identity sources by owner model.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]IdentitySource
}

// NewRegistry returns a registry preloaded with sources.
func NewRegistry(sources ...IdentitySource) (*Registry, error) {
	r := &Registry{sources: make(map[string]IdentitySource, len(sources))}
	for _, src := range sources {
		if err := r.Register(src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds src under src.Model().
func (r *Registry) Register(src IdentitySource) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", ErrConfig)
	}
	model := strings.TrimSpace(src.Model())
	if model == "" {
		return fmt.Errorf("%w: empty owner model", ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sources == nil {
		r.sources = make(map[string]IdentitySource)
	}
	if _, ok := r.sources[model]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, model)
	}
	r.sources[model] = src
	return nil
}

// Source returns the source registered for model.
func (r *Registry) Source(model string) (IdentitySource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[strings.TrimSpace(model)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, model)
	}
	return src, nil
}

// Models lists registered owner models in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sources))
	for m := range r.sources {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
