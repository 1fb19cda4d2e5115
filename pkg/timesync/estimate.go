// ABOUTME: Read side shared by Poller and Subscriber
// ABOUTME: Exposes corrected time without exposing the sample path
package timesync

import (
	"time"

	"github.com/timesync-go/timesync/internal/clocksync"
)

// CorrectedClock is what application code needs from an estimator
type CorrectedClock interface {
	CorrectedTime() time.Time
	CorrectedMillis() int64
	Offset() time.Duration
}

var (
	_ CorrectedClock = (*Poller)(nil)
	_ CorrectedClock = (*Subscriber)(nil)
)

// estimate is embedded by both estimators
type estimate struct {
	cs *clocksync.ClockSync
}

// CorrectedTime returns local time plus the current offset
func (e estimate) CorrectedTime() time.Time {
	return e.cs.CorrectedTime()
}

// CorrectedMillis returns the corrected time as epoch milliseconds
func (e estimate) CorrectedMillis() int64 {
	return e.cs.CorrectedMillis()
}

// Offset returns authority time minus local time
func (e estimate) Offset() time.Duration {
	return e.cs.Offset()
}

// Synced reports whether any sample has been applied
func (e estimate) Synced() bool {
	return e.cs.Synced()
}

// Stats returns sync statistics
func (e estimate) Stats() clocksync.Stats {
	return e.cs.Stats()
}
