package dispatch

import (
	"fmt"
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

// newTaskID generates a fresh, globally unique task identifier. A random
// UUID (rather than a per-round sequence) means an id is never reused: a
// failed path that is re-enqueued gets a new id, distinct from the one
// its dropped task had (spec §4.1 Enqueue).
func newTaskID() string {
	return uuid.NewV4().String()
}

// roundSequence is the monotonic counter backing round id generation
// (dispatcher state, spec §3). It is only ever touched under the
// Dispatcher's coarse lock, so plain increments are sufficient; it is an
// atomic.Uint64 purely so a future caller reading it outside the lock
// (e.g. a metrics collector) observes a consistent value.
type roundSequence struct {
	n atomic.Uint64
}

func (s *roundSequence) next() string {
	n := s.n.Add(1)
	return fmt.Sprintf("round_%04d", n)
}
