package cache

import (
	"time"
)

// entryOverhead approximates the bookkeeping cost of an Entry beyond
// its key and payload bytes. Counted into the memory budget so many
// tiny entries cannot starve the accounting.
const entryOverhead = 128

// Entry is a single cached record. Payloads are stored as raw bytes so
// the store never re-serializes on read and size accounting is exact.
type Entry struct {
	Key       string
	Value     []byte
	Tier      Tier
	CreatedAt time.Time
	ExpiresAt time.Time
	Filtered  bool
	size      int64
}

func newEntry(key string, value []byte, tier Tier, ttl time.Duration, filtered bool) *Entry {
	now := time.Now()
	return &Entry{
		Key:       key,
		Value:     value,
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Filtered:  filtered,
		size:      int64(len(key) + len(value) + entryOverhead),
	}
}

// Size returns the entry's charge against the memory budget.
func (e *Entry) Size() int64 {
	return e.size
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// RemainingTTL returns the time left before expiry, or zero if already
// expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
