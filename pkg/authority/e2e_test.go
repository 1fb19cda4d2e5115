// ABOUTME: End-to-end tests running both estimators against a live authority
// ABOUTME: The authority clock is pinned ahead of real time so the offset is known
package authority_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timesync-go/timesync/pkg/authority"
	"github.com/timesync-go/timesync/pkg/timesync"
)

const ahead = 90 * time.Second

func startAuthority(t *testing.T) (*authority.Server, *httptest.Server) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Now().Add(ahead))

	s, err := authority.NewServer(authority.Config{Clock: mock})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func TestPollerAgainstAuthority(t *testing.T) {
	_, ts := startAuthority(t)

	p, err := timesync.NewPoller(timesync.PollerConfig{URL: ts.URL})
	require.NoError(t, err)
	defer p.Stop()

	require.NoError(t, p.Sync(context.Background()))
	assert.InDelta(t, ahead.Seconds(), p.Offset().Seconds(), 1.0)
	assert.InDelta(t, time.Now().Add(ahead).UnixMilli(), p.CorrectedMillis(), 1000)
}

func TestSubscriberAgainstAuthority(t *testing.T) {
	s, ts := startAuthority(t)

	sub, err := timesync.NewSubscriber(timesync.SubscriberConfig{URL: ts.URL + "/time"})
	require.NoError(t, err)
	defer sub.Stop()

	sub.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := sub.WaitForInit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, timesync.StateSynced, sub.State())
	assert.InDelta(t, ahead.Seconds(), sub.Offset().Seconds(), 1.0)
	assert.Equal(t, 1, s.Connections())

	// the shutdown notice drops the subscriber into its reconnect path
	s.Stop()
	require.Eventually(t, func() bool {
		return sub.State() == timesync.StateDisconnected && sub.Attempts() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, ahead.Seconds(), sub.Offset().Seconds(), 1.0)
}
