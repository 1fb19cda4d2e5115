// ABOUTME: Tests for the authority responder
// ABOUTME: Serves the router over httptest and talks to it with real websocket clients
package authority

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timesync-go/timesync/internal/protocol"
	"github.com/timesync-go/timesync/internal/version"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	epoch   = int64(1_700_000_000_000)
)

func newTestServer(t *testing.T, mock *clock.Mock) (*Server, *httptest.Server) {
	t.Helper()
	mock.Set(time.UnixMilli(epoch))

	s, err := NewServer(Config{Clock: mock})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func dialPush(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + protocol.PushPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readTime(t *testing.T, conn *websocket.Conn) protocol.TimeMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg protocol.TimeMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewServerDefaults(t *testing.T) {
	s, err := NewServer(Config{})
	require.NoError(t, err)
	assert.Equal(t, 80, s.config.Port)
	assert.Equal(t, DefaultPushInterval, s.config.PushInterval)
	assert.Equal(t, DefaultPingInterval, s.config.PingInterval)
	assert.Equal(t, version.Product, s.config.Name)

	s, err = NewServer(Config{CertFile: "cert.pem", KeyFile: "key.pem"})
	require.NoError(t, err)
	assert.Equal(t, 443, s.config.Port)

	_, err = NewServer(Config{CertFile: "cert.pem"})
	assert.Error(t, err)
}

func TestTimeEndpoint(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)

	req, err := http.NewRequest(http.MethodGet, ts.URL+protocol.TimePath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"serverTime":1700000000000}`, string(body))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.TimeRequests.WithLabelValues("http")))
}

func TestMetricsEndpoint(t *testing.T) {
	mock := clock.NewMock()
	_, ts := newTestServer(t, mock)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "timesync_push_connections_active")
}

func TestPushEmitsOnOpenAndEveryInterval(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)
	conn := dialPush(t, ts)

	first := readTime(t, conn)
	assert.Equal(t, epoch, first.ServerTime)
	assert.False(t, first.Secure)
	assert.Equal(t, 1, s.Connections())

	mock.Add(DefaultPushInterval)
	assert.Equal(t, epoch+1000, readTime(t, conn).ServerTime)

	mock.Add(DefaultPushInterval)
	assert.Equal(t, epoch+2000, readTime(t, conn).ServerTime)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.PushEmits))
}

func TestPushAnswersGetTime(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)
	conn := dialPush(t, ts)
	readTime(t, conn)

	require.NoError(t, conn.WriteJSON(protocol.Command{Command: protocol.CommandGetTime}))
	assert.Equal(t, epoch, readTime(t, conn).ServerTime)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.TimeRequests.WithLabelValues("push")))
}

func TestPushIgnoresMalformedFrames(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)
	conn := dialPush(t, ts)
	readTime(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":""}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"reboot"}`)))

	// the channel survives and still answers
	require.NoError(t, conn.WriteJSON(protocol.Command{Command: protocol.CommandGetTime}))
	assert.Equal(t, epoch, readTime(t, conn).ServerTime)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.MalformedFrames))
	assert.Equal(t, 1, s.Connections())
}

func TestNoEmitAfterClose(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)
	conn := dialPush(t, ts)
	readTime(t, conn)

	mock.Add(DefaultPushInterval)
	readTime(t, conn)

	conn.Close()
	require.Eventually(t, func() bool { return s.Connections() == 0 }, waitFor, tick)
	emits := testutil.ToFloat64(s.metrics.PushEmits)

	mock.Add(10 * DefaultPushInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, emits, testutil.ToFloat64(s.metrics.PushEmits))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.TotalConnections))
}

func TestEachChannelHasItsOwnTimer(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)

	a := dialPush(t, ts)
	readTime(t, a)
	b := dialPush(t, ts)
	readTime(t, b)
	assert.Equal(t, 2, s.Connections())

	a.Close()
	require.Eventually(t, func() bool { return s.Connections() == 1 }, waitFor, tick)

	mock.Add(DefaultPushInterval)
	assert.Equal(t, epoch+1000, readTime(t, b).ServerTime)
}

func TestStopSendsShutdownNotice(t *testing.T) {
	mock := clock.NewMock()
	s, ts := newTestServer(t, mock)
	conn := dialPush(t, ts)
	readTime(t, conn)

	s.Stop()

	conn.SetReadDeadline(time.Now().Add(waitFor))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"shutdown"}`, string(data))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, s.Connections())

	// new channels are refused once stopped
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + protocol.PushPath
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}

func TestSecureFlagOverTLS(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(epoch))
	s, err := NewServer(Config{Clock: mock})
	require.NoError(t, err)

	ts := httptest.NewTLSServer(s.Handler())
	defer ts.Close()
	defer s.Stop()

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	url := "wss" + strings.TrimPrefix(ts.URL, "https") + protocol.PushPath
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readTime(t, conn)
	assert.True(t, msg.Secure)
	assert.Equal(t, epoch, msg.ServerTime)

	// /time is served on the TLS listener as well
	resp, err := ts.Client().Get(ts.URL + protocol.TimePath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPushOnRootPath(t *testing.T) {
	mock := clock.NewMock()
	_, ts := newTestServer(t, mock)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, epoch, readTime(t, conn).ServerTime)
}
