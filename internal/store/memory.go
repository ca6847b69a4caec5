// Package store holds the service's in-memory state: the bounded per-station
// reading history and the TTL'd forecast snapshot cache.
package store

import (
	"sort"
	"sync"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// ReadingStore keeps a bounded reading history per station in arrival order.
// Appends beyond the bound evict the oldest entry. All reads return copies,
// so callers can never race the ingest path.
type ReadingStore struct {
	mu            sync.RWMutex
	maxPerStation int
	readings      map[string][]domain.Reading
}

// NewReadingStore creates a store that bounds each station's history at
// maxPerStation readings.
func NewReadingStore(maxPerStation int) *ReadingStore {
	return &ReadingStore{
		maxPerStation: maxPerStation,
		readings:      make(map[string][]domain.Reading),
	}
}

// Append records a reading for a station, evicting the oldest reading when
// the station's buffer is full.
func (s *ReadingStore) Append(stationID string, r domain.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.readings[stationID]
	if len(buf) >= s.maxPerStation {
		buf = buf[1:]
	}
	s.readings[stationID] = append(buf, r)
}

// Recent returns a copy of the newest count readings for a station. A count
// of zero or more than the stored history returns everything available.
func (s *ReadingStore) Recent(stationID string, count int) []domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.readings[stationID]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	out := make([]domain.Reading, count)
	copy(out, buf[len(buf)-count:])
	return out
}

// All returns a copy of a station's full history.
func (s *ReadingStore) All(stationID string) []domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.readings[stationID]
	out := make([]domain.Reading, len(buf))
	copy(out, buf)
	return out
}

// Stations returns the known station IDs in sorted order.
func (s *ReadingStore) Stations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.readings))
	for id := range s.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports how many readings a station currently holds.
func (s *ReadingStore) Len(stationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings[stationID])
}
