// Package ids generates the correlation ids mbus stamps onto outbound
// calls that arrive without one.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewCorrelationID returns a fresh correlation id: a time-sortable ULID
// encoded as a 26-character string. Sortability keeps call chains
// groupable by time in log search.
func NewCorrelationID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
