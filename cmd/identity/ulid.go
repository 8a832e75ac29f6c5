package identity

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idEntropyMu sync.Mutex
	idEntropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a user primary key. Ids minted within the same millisecond
// sort in creation order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = nowUTC()
	}

	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), idEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

