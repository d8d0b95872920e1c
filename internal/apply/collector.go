package apply

import (
	"sync"

	"peerlend/internal/model"
)

// Collector buffers events emitted by the ledger so the runner can flush them
// per operation. Events emitted before a failing batch item stay collected,
// matching the no-rollback batch semantics.
type Collector struct {
	mu     sync.Mutex
	events []model.EventRecord
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(ev model.EventRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Drain returns the buffered events and resets the buffer.
func (c *Collector) Drain() []model.EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}
