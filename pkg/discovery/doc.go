// ABOUTME: mDNS discovery of time authorities
// ABOUTME: Public entry point for applications that embed an estimator
// Package discovery finds time authorities on the local network.
//
// Authorities started with mDNS enabled advertise the _timesync._tcp
// service. Discover collects every authority that answers within the
// timeout.
//
// Example:
//
//	services, err := discovery.Discover(5 * time.Second)
//	for _, svc := range services {
//	    fmt.Printf("Found: %s at %s\n", svc.Name, svc.URL)
//	}
package discovery
