// ABOUTME: Tests for metrics collectors
// ABOUTME: Verifies independent registries and the exposition handler
package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewAuthority()
	b := NewAuthority()

	a.TotalConnections.Inc()
	a.TotalConnections.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.TotalConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TotalConnections))
}

func TestEstimatorHandlerExposesOffset(t *testing.T) {
	m := NewEstimator()
	m.OffsetSeconds.Set(-0.01)
	m.Samples.WithLabelValues("push").Inc()

	srv := httptest.NewServer(Handler(m.Registry))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "timesync_offset_seconds -0.01")
	assert.Contains(t, string(body), `timesync_samples_total{source="push"} 1`)
}
