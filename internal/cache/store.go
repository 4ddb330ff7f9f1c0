package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// tierStore holds the entries of a single tier behind an LRU index
// bounded by the per-tier item cap. It is not safe for concurrent use;
// the owning cache serializes access.
type tierStore struct {
	tier  Tier
	lru   *simplelru.LRU[string, *Entry]
	bytes int64

	// lastEvicted is set by the LRU callback so put can report a
	// cap-driven eviction back to the owning cache.
	lastEvicted *Entry

	// floor is the minimum number of entries eviction must leave in
	// place, so a burst in one tier cannot completely drain another.
	floor int
}

func newTierStore(tier Tier, floor, maxItems int) (*tierStore, error) {
	s := &tierStore{tier: tier, floor: floor}
	lru, err := simplelru.NewLRU[string, *Entry](maxItems, func(_ string, e *Entry) {
		s.bytes -= e.Size()
		s.lastEvicted = e
	})
	if err != nil {
		return nil, err
	}
	s.lru = lru
	return s, nil
}

// get returns the entry for key and promotes it to most recently used.
func (s *tierStore) get(key string) (*Entry, bool) {
	return s.lru.Get(key)
}

// peek returns the entry without touching recency.
func (s *tierStore) peek(key string) (*Entry, bool) {
	return s.lru.Peek(key)
}

// put inserts or replaces an entry. Remove fires the evict callback,
// which settles the replaced entry's byte charge. When the item cap
// pushes out the tier's oldest entry to make room, that entry is
// returned so the owner can settle global accounting.
func (s *tierStore) put(e *Entry) *Entry {
	if _, ok := s.lru.Peek(e.Key); ok {
		s.lru.Remove(e.Key)
	}
	s.lastEvicted = nil
	atCap := s.lru.Add(e.Key, e)
	s.bytes += e.Size()
	if !atCap {
		return nil
	}
	oldest := s.lastEvicted
	s.lastEvicted = nil
	return oldest
}

// remove deletes an entry, returning it if present.
func (s *tierStore) remove(key string) (*Entry, bool) {
	e, ok := s.lru.Peek(key)
	if !ok {
		return nil, false
	}
	s.lru.Remove(key)
	return e, true
}

// removeOldest evicts the least recently used entry, respecting the
// tier floor. Returns false when the floor prevents further eviction.
func (s *tierStore) removeOldest() (*Entry, bool) {
	if s.lru.Len() <= s.floor {
		return nil, false
	}
	_, e, ok := s.lru.RemoveOldest()
	return e, ok
}

// purgeExpired removes all entries whose TTL elapsed before now and
// returns how many were dropped.
func (s *tierStore) purgeExpired(now time.Time) int {
	var stale []string
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && e.Expired(now) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		s.lru.Remove(k)
	}
	return len(stale)
}

// removePrefix drops every entry whose key starts with prefix.
func (s *tierStore) removePrefix(prefix string) int {
	var matched []string
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	for _, k := range matched {
		s.lru.Remove(k)
	}
	return len(matched)
}

func (s *tierStore) len() int {
	return s.lru.Len()
}

func (s *tierStore) sizeBytes() int64 {
	return s.bytes
}

func (s *tierStore) purge() {
	s.lru.Purge()
}
