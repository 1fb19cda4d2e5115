// ABOUTME: Offset formulas for the two sampling paths
// ABOUTME: Half-RTT compensation for polling, raw difference for push
package clocksync

import "time"

// RoundTripOffset computes the offset from one request/response exchange.
// t0 is taken just before the request is sent, t1 just after the response
// is fully read. Network delay is assumed symmetric, so the response spent
// (t1-t0)/2 in flight:
//
//	offset = remote - (t1 - (t1-t0)/2) = remote - t1 + (t1-t0)/2
func RoundTripOffset(t0, t1 time.Time, remoteMillis int64) time.Duration {
	oneWay := t1.Sub(t0) / 2
	return time.UnixMilli(remoteMillis).Sub(t1) + oneWay
}

// PushOffset computes the offset from an unsolicited push. No round trip is
// measurable on this path so no delay compensation is applied.
func PushOffset(receivedAt time.Time, remoteMillis int64) time.Duration {
	return time.UnixMilli(remoteMillis).Sub(receivedAt)
}
