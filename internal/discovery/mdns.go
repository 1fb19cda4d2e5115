// ABOUTME: mDNS discovery for time authorities
// ABOUTME: The authority advertises itself; estimators browse when no URL is configured
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/protocol"
)

// ServiceType is the mDNS service authorities advertise
const ServiceType = "_timesync._tcp"

const queryTimeout = 3 * time.Second

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Secure      bool // advertise scheme=https
	Logger      *zap.SugaredLogger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	log     *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered authority
type ServerInfo struct {
	Name   string
	Host   string
	Port   int
	Secure bool
}

// URL returns the authority base URL
func (s *ServerInfo) URL() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), protocol.TimePath)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		log:     logging.OrNop(config.Logger),
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces the authority until Stop
func (m *Manager) Advertise() error {
	ips, err := LocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.Secure),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Infof("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for authorities until Stop; results arrive on Servers
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server := parseEntry(entry)
				if server == nil {
					continue
				}

				m.log.Infof("Discovered authority: %s at %s", server.Name, server.URL())

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     queryTimeout,
			Entries:     entries,
			DisableIPv6: true,
		}

		if err := mdns.Query(params); err != nil {
			m.log.Debugf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Lookup browses until the first authority answers or ctx ends
func (m *Manager) Lookup(ctx context.Context) (*ServerInfo, error) {
	if err := m.Browse(); err != nil {
		return nil, err
	}

	select {
	case server := <-m.servers:
		return server, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no %s authority found: %w", ServiceType, ctx.Err())
	}
}

// Servers returns the channel of discovered authorities
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop ends advertisement and browsing
func (m *Manager) Stop() {
	m.cancel()
}

func txtRecords(secure bool) []string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return []string{"path=" + protocol.TimePath, "scheme=" + scheme}
}

func parseEntry(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}

	server := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if field == "scheme=https" {
			server.Secure = true
		}
	}
	return server
}

// LocalIPs returns the IPv4 addresses of every non-loopback interface that is up
func LocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

// DiagnosticURLs lists the /time and push URLs an authority on port is
// reachable at, for localhost and every local interface
func DiagnosticURLs(port int, secure bool) []string {
	ips, err := LocalIPs()
	if err != nil {
		ips = nil
	}
	return diagnosticURLs(ips, port, secure)
}

func diagnosticURLs(ips []net.IP, port int, secure bool) []string {
	httpScheme, wsScheme, defaultPort := "http", "ws", 80
	if secure {
		httpScheme, wsScheme, defaultPort = "https", "wss", 443
	}

	hosts := []string{"localhost"}
	for _, ip := range ips {
		hosts = append(hosts, ip.String())
	}

	var urls []string
	for _, host := range hosts {
		addr := host
		if port != defaultPort {
			addr = net.JoinHostPort(host, strconv.Itoa(port))
		}
		urls = append(urls,
			fmt.Sprintf("%s://%s%s", httpScheme, addr, protocol.TimePath),
			fmt.Sprintf("%s://%s%s", wsScheme, addr, protocol.PushPath),
		)
	}
	return urls
}
