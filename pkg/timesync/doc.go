// ABOUTME: Clock offset estimator package
// ABOUTME: Tracks a remote authority's wall clock over HTTP polling or a push channel
// Package timesync estimates a remote authority's wall-clock time.
//
// Two variants are provided. Poller issues GET /time on a fixed cadence and
// compensates for half the measured round trip. Subscriber holds a push
// channel open, applies every timestamp the authority sends, and reconnects
// on a fixed delay up to a bounded number of attempts.
//
// Example:
//
//	sub, err := timesync.NewSubscriber(timesync.SubscriberConfig{URL: "https://10.0.0.5"})
//	sub.Start()
//	defer sub.Stop()
//	if ok, _ := sub.WaitForInit(ctx); ok {
//	    fmt.Println(sub.CorrectedMillis())
//	}
package timesync
