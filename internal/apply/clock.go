package apply

import (
	"sync"
	"time"
)

// ReplayClock is the ledger time source during replay. The runner sets it to
// each operation's timestamp before dispatching, so all time-dependent
// quantities derive from the recorded clock rather than wall time.
type ReplayClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewReplayClock() *ReplayClock {
	return &ReplayClock{now: time.Unix(0, 0).UTC()}
}

func (c *ReplayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *ReplayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
