// ABOUTME: Reference check of the authority's wall clock against an NTP server
// ABOUTME: Only observes and reports; the authority never adjusts its own clock
package ntpcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/metrics"
)

const DefaultInterval = 5 * time.Minute

// warnAbove is the reference offset worth a warning
const warnAbove = 500 * time.Millisecond

// QueryFunc queries one NTP host
type QueryFunc func(host string) (*ntp.Response, error)

// Config configures a Checker
type Config struct {
	Host     string
	Interval time.Duration
	Query    QueryFunc
	Clock    clock.Clock
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Authority
}

// Checker periodically measures the local clock against an NTP host
type Checker struct {
	config Config
	clock  clock.Clock
	log    *zap.SugaredLogger

	mu     sync.RWMutex
	offset time.Duration
	valid  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a checker; call Start to begin checking
func New(config Config) (*Checker, error) {
	if config.Host == "" {
		return nil, errors.New("ntp host is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Query == nil {
		config.Query = ntp.Query
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Checker{
		config: config,
		clock:  config.Clock,
		log:    logging.OrNop(config.Logger),
	}, nil
}

// Start checks once now and then once per interval until Stop
func (c *Checker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	ticker := c.clock.Ticker(c.config.Interval)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()

		c.checkAndLog()
		for {
			select {
			case <-ticker.C:
				c.checkAndLog()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the schedule
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Checker) checkAndLog() {
	if _, err := c.Check(); err != nil {
		c.log.Warnf("NTP reference check failed: %v", err)
	}
}

// Check queries the reference once and returns the local clock's offset to it
func (c *Checker) Check() (time.Duration, error) {
	resp, err := c.config.Query(c.config.Host)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", c.config.Host, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid response from %s: %w", c.config.Host, err)
	}

	c.mu.Lock()
	c.offset = resp.ClockOffset
	c.valid = true
	c.mu.Unlock()

	if m := c.config.Metrics; m != nil {
		m.ReferenceOffset.Set(resp.ClockOffset.Seconds())
	}

	if resp.ClockOffset > warnAbove || resp.ClockOffset < -warnAbove {
		c.log.Warnf("Authority clock is %s off %s; estimators inherit this error", resp.ClockOffset, c.config.Host)
	} else {
		c.log.Debugf("NTP reference offset=%s rtt=%s", resp.ClockOffset, resp.RTT)
	}
	return resp.ClockOffset, nil
}

// Offset returns the last measured offset and whether one exists
func (c *Checker) Offset() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.valid
}
