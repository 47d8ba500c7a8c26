package scheduling

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// slotCache memoizes computed slot grids for a short window. Entries are
// keyed by doctor, day and duration; every mutation touching a doctor's
// day purges that day, and a TTL bounds staleness caused by writers this
// process never sees. A served grid is a hint either way: booking always
// re-checks conflicts.
type slotCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, slotEntry]
	ttl time.Duration
}

type slotEntry struct {
	slots    []time.Time
	storedAt time.Time
}

func newSlotCache(size int, ttl time.Duration) (*slotCache, error) {
	c, err := lru.New[string, slotEntry](size)
	if err != nil {
		return nil, err
	}
	return &slotCache{lru: c, ttl: ttl}, nil
}

func slotKey(doctorID uuid.UUID, day time.Time, durationMinutes int) string {
	return fmt.Sprintf("%s|%s|%d", doctorID, day.Format("2006-01-02"), durationMinutes)
}

func (c *slotCache) get(key string, now time.Time) ([]time.Time, bool) {
	c.mu.RLock()
	e, ok := c.lru.Get(key)
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.Sub(e.storedAt) > c.ttl {
		c.mu.Lock()
		c.lru.Remove(key)
		c.mu.Unlock()
		return nil, false
	}
	return e.slots, true
}

func (c *slotCache) put(key string, slots []time.Time, now time.Time) {
	c.mu.Lock()
	c.lru.Add(key, slotEntry{slots: slots, storedAt: now})
	c.mu.Unlock()
}

// invalidateDay drops every cached grid for the doctor's day, across all
// durations.
func (c *slotCache) invalidateDay(doctorID uuid.UUID, day time.Time) {
	prefix := doctorID.String() + "|" + day.Format("2006-01-02") + "|"
	c.mu.Lock()
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	c.mu.Unlock()
}
