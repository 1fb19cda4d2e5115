package discovery

import (
	"time"

	"github.com/timesync-go/timesync/internal/discovery"
)

// Service is one discovered authority
type Service struct {
	Name   string
	Host   string
	Port   int
	Secure bool
	URL    string // base URL accepted by both estimators
}

// Discover browses for authorities until timeout and returns each once
func Discover(timeout time.Duration) ([]Service, error) {
	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()

	if err := mgr.Browse(); err != nil {
		return nil, err
	}
	return collect(mgr.Servers(), timeout), nil
}

func collect(servers <-chan *discovery.ServerInfo, timeout time.Duration) []Service {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := make(map[string]bool)
	var services []Service
	for {
		select {
		case info := <-servers:
			url := info.URL()
			if seen[url] {
				continue
			}
			seen[url] = true
			services = append(services, Service{
				Name:   info.Name,
				Host:   info.Host,
				Port:   info.Port,
				Secure: info.Secure,
				URL:    url,
			})
		case <-deadline.C:
			return services
		}
	}
}
