// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests entry parsing, service URLs and diagnostic URL listing
package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{
		ServiceName: "Test Authority",
		Port:        8080,
	})
	require.NotNil(t, mgr)
	assert.NotNil(t, mgr.Servers())
	mgr.Stop()
}

func TestServerInfoURL(t *testing.T) {
	plain := &ServerInfo{Name: "a", Host: "192.168.1.20", Port: 8080}
	assert.Equal(t, "http://192.168.1.20:8080/time", plain.URL())

	secure := &ServerInfo{Name: "b", Host: "10.0.0.5", Port: 443, Secure: true}
	assert.Equal(t, "https://10.0.0.5:443/time", secure.URL())
}

func TestParseEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Lab Clock._timesync._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       443,
		InfoFields: []string{"path=/time", "scheme=https"},
	}

	server := parseEntry(entry)
	require.NotNil(t, server)
	assert.Equal(t, "Lab Clock", server.Name)
	assert.Equal(t, "192.168.1.20", server.Host)
	assert.Equal(t, 443, server.Port)
	assert.True(t, server.Secure)

	assert.Nil(t, parseEntry(&mdns.ServiceEntry{Name: "v6 only", Port: 80}))
	assert.Nil(t, parseEntry(nil))
}

func TestTxtRecords(t *testing.T) {
	assert.Equal(t, []string{"path=/time", "scheme=http"}, txtRecords(false))
	assert.Equal(t, []string{"path=/time", "scheme=https"}, txtRecords(true))
}

func TestLocalIPsSkipsLoopback(t *testing.T) {
	ips, err := LocalIPs()
	require.NoError(t, err)
	for _, ip := range ips {
		assert.False(t, ip.IsLoopback(), "loopback address %s listed", ip)
		assert.NotNil(t, ip.To4(), "non-IPv4 address %s listed", ip)
	}
}

func TestDiagnosticURLs(t *testing.T) {
	ips := []net.IP{net.ParseIP("192.168.1.20")}

	assert.Equal(t, []string{
		"http://localhost/time",
		"ws://localhost/ws",
		"http://192.168.1.20/time",
		"ws://192.168.1.20/ws",
	}, diagnosticURLs(ips, 80, false))

	assert.Equal(t, []string{
		"https://localhost:8443/time",
		"wss://localhost:8443/ws",
		"https://192.168.1.20:8443/time",
		"wss://192.168.1.20:8443/ws",
	}, diagnosticURLs(ips, 8443, true))

	urls := DiagnosticURLs(443, true)
	assert.Contains(t, urls, "https://localhost/time")
	assert.Contains(t, urls, "wss://localhost/ws")
}

func TestLookupHonoursContext(t *testing.T) {
	mgr := NewManager(Config{})
	defer mgr.Stop()

	// answer from the channel without touching the network
	mgr.servers <- &ServerInfo{Name: "x", Host: "10.0.0.1", Port: 80}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	server, err := mgr.Lookup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", server.Name)
}
