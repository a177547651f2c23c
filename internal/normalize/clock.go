package normalize

import "sync"

// LogicalClock issues strictly increasing counters scoped to a (source, id)
// pair. Wall-clock ties resolve by arrival order because Next is serialized
// per clock.
type LogicalClock struct {
	mu   sync.Mutex
	last map[string]uint64
}

// NewLogicalClock returns an empty clock.
func NewLogicalClock() *LogicalClock {
	return &LogicalClock{last: make(map[string]uint64)}
}

// Next returns the next logical time for the (source, id) pair.
func (c *LogicalClock) Next(source, id string) uint64 {
	key := source + "\x00" + id
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key]++
	return c.last[key]
}

// Observe advances the clock to at least t so that restarts resuming from a
// persisted state never reissue logical times.
func (c *LogicalClock) Observe(source, id string, t uint64) {
	key := source + "\x00" + id
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last[key] < t {
		c.last[key] = t
	}
}
