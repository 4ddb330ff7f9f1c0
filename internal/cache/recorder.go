package cache

// Recorder receives cache events for export. Implemented by the metrics
// package; a no-op implementation keeps the cache usable without a
// metrics pipeline.
type Recorder interface {
	RecordHit(tier string)
	RecordMiss()
	RecordPut(tier string, bytes int64)
	RecordEviction(tier string, reason string, count int)
	SetMemoryUsage(bytes int64)
	SetEntryCount(tier string, count int)
}

// Eviction reasons reported to the Recorder.
const (
	EvictionReasonExpired  = "expired"
	EvictionReasonPressure = "pressure"
	EvictionReasonCapacity = "capacity"
	EvictionReasonExplicit = "invalidated"
)

type nopRecorder struct{}

func (nopRecorder) RecordHit(string)                 {}
func (nopRecorder) RecordMiss()                      {}
func (nopRecorder) RecordPut(string, int64)          {}
func (nopRecorder) RecordEviction(string, string, int) {}
func (nopRecorder) SetMemoryUsage(int64)             {}
func (nopRecorder) SetEntryCount(string, int)        {}

// NopRecorder returns a Recorder that discards all events.
func NopRecorder() Recorder {
	return nopRecorder{}
}
