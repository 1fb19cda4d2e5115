// ABOUTME: Clock offset store shared by both estimator variants
// ABOUTME: Holds the current offset and derives corrected time from the local clock
package clocksync

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultStaleAfter is how long a sample stays fresh for Quality()
const DefaultStaleAfter = 2 * time.Minute

// Quality represents sync quality
type Quality int

const (
	QualityUnsynced Quality = iota
	QualityGood
	QualityStale
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityStale:
		return "stale"
	default:
		return "unsynced"
	}
}

// Stats is a snapshot of the synchronizer
type Stats struct {
	Offset   time.Duration
	RTT      time.Duration // zero for push samples
	Samples  int
	LastSync time.Time
	Quality  Quality
}

// ClockSync holds the offset such that corrected = local + offset.
// The offset is zero until the first sample and is only ever replaced whole.
type ClockSync struct {
	mu         sync.RWMutex
	clock      clock.Clock
	offset     time.Duration
	rtt        time.Duration
	lastSync   time.Time
	samples    int
	staleAfter time.Duration
}

// NewClockSync creates a synchronizer reading local time from clk.
// A nil clk uses the system clock.
func NewClockSync(clk clock.Clock, staleAfter time.Duration) *ClockSync {
	if clk == nil {
		clk = clock.New()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &ClockSync{
		clock:      clk,
		staleAfter: staleAfter,
	}
}

// ApplyRoundTrip records a polling sample and returns the new offset
func (cs *ClockSync) ApplyRoundTrip(t0, t1 time.Time, remoteMillis int64) time.Duration {
	offset := RoundTripOffset(t0, t1, remoteMillis)
	cs.set(offset, t1.Sub(t0), t1)
	return offset
}

// ApplyPush records a push sample and returns the new offset
func (cs *ClockSync) ApplyPush(receivedAt time.Time, remoteMillis int64) time.Duration {
	offset := PushOffset(receivedAt, remoteMillis)
	cs.set(offset, 0, receivedAt)
	return offset
}

func (cs *ClockSync) set(offset, rtt time.Duration, at time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.offset = offset
	cs.rtt = rtt
	cs.lastSync = at
	cs.samples++
}

// Offset returns the current offset
func (cs *ClockSync) Offset() time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset
}

// Synced reports whether at least one sample was applied
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.samples > 0
}

// CorrectedTime returns local time shifted into the authority's frame.
// Before the first sample this is plain local time.
func (cs *ClockSync) CorrectedTime() time.Time {
	offset := cs.Offset()
	return cs.clock.Now().Add(offset)
}

// CorrectedMillis returns CorrectedTime as epoch milliseconds
func (cs *ClockSync) CorrectedMillis() int64 {
	return cs.CorrectedTime().UnixMilli()
}

// LocalTime returns the uncorrected local time
func (cs *ClockSync) LocalTime() time.Time {
	return cs.clock.Now()
}

// Quality reports whether the offset is fresh
func (cs *ClockSync) Quality() Quality {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.qualityLocked()
}

func (cs *ClockSync) qualityLocked() Quality {
	if cs.samples == 0 {
		return QualityUnsynced
	}
	if cs.clock.Now().Sub(cs.lastSync) > cs.staleAfter {
		return QualityStale
	}
	return QualityGood
}

// Stats returns sync statistics
func (cs *ClockSync) Stats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Offset:   cs.offset,
		RTT:      cs.rtt,
		Samples:  cs.samples,
		LastSync: cs.lastSync,
		Quality:  cs.qualityLocked(),
	}
}
