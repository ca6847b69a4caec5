package store

import (
	"sync"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// SnapshotCache is a thread-safe LRU cache of forecast snapshots keyed by
// station and horizon, with a TTL so a served forecast ages out even when no
// new readings arrive. It is the debounce for the on-demand HTTP path: a
// burst of identical requests retrains once, not once per request.
type SnapshotCache struct {
	maxEntries int
	ttl        time.Duration

	mu      sync.Mutex
	entries map[string]*snapEntry
	head    *snapEntry // most recently used
	tail    *snapEntry // least recently used
}

type snapEntry struct {
	key      string
	value    domain.ForecastSnapshot
	storedAt time.Time
	prev     *snapEntry
	next     *snapEntry
}

// NewSnapshotCache creates a cache holding at most maxEntries snapshots,
// each valid for ttl after it was stored. A non-positive ttl disables expiry.
func NewSnapshotCache(maxEntries int, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*snapEntry),
	}
}

func cacheKey(stationID string, h domain.Horizon) string {
	return stationID + "|" + string(h)
}

// Get returns the cached snapshot for a station and horizon when present and
// still fresh.
func (c *SnapshotCache) Get(stationID string, h domain.Horizon) (domain.ForecastSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey(stationID, h)]
	if !ok {
		return domain.ForecastSnapshot{}, false
	}
	if c.ttl > 0 && domain.Now().Sub(e.storedAt) > c.ttl {
		c.removeEntry(e)
		return domain.ForecastSnapshot{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

// Put stores a snapshot under its station and horizon, evicting the least
// recently used entry when the cache is full.
func (c *SnapshotCache) Put(snap domain.ForecastSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(snap.StationID, snap.Horizon)
	if e, ok := c.entries[key]; ok {
		e.value = snap
		e.storedAt = domain.Now()
		c.moveToFront(e)
		return
	}

	e := &snapEntry{key: key, value: snap, storedAt: domain.Now()}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

// InvalidateStation drops every horizon's entry for a station, typically
// because new readings just arrived and any cached forecast is stale.
func (c *SnapshotCache) InvalidateStation(stationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range domain.Horizons {
		if e, ok := c.entries[cacheKey(stationID, h)]; ok {
			c.removeEntry(e)
		}
	}
}

// Len reports the number of live entries.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SnapshotCache) removeEntry(e *snapEntry) {
	delete(c.entries, e.key)
	c.unlink(e)
}

func (c *SnapshotCache) moveToFront(e *snapEntry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *SnapshotCache) addToFront(e *snapEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *SnapshotCache) unlink(e *snapEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *SnapshotCache) evictTail() {
	if c.tail == nil {
		return
	}
	c.removeEntry(c.tail)
}
