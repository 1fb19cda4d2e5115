// ABOUTME: Polling estimator over the /time endpoint
// ABOUTME: One eager sync at start, then one per interval; failures keep the last offset
package timesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/clocksync"
	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/metrics"
	"github.com/timesync-go/timesync/internal/protocol"
	"github.com/timesync-go/timesync/internal/version"
)

const (
	DefaultPollInterval   = 60 * time.Second
	DefaultRequestTimeout = 5 * time.Second

	maxResponseBytes = 4096
)

// PollerConfig configures a Poller
type PollerConfig struct {
	// URL of the authority; "/time" is appended when no path is given
	URL string

	// Interval between syncs (default: 60s)
	Interval time.Duration

	// Timeout for one exchange (default: 5s)
	Timeout time.Duration

	// StaleAfter marks the offset stale in Stats (default: 2m)
	StaleAfter time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Estimator
}

// Poller keeps an offset fresh by periodic request/response exchanges
type Poller struct {
	estimate

	config PollerConfig
	url    string
	client *http.Client
	clock  clock.Clock
	log    *zap.SugaredLogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewPoller creates a poller; call Start to begin syncing
func NewPoller(config PollerConfig) (*Poller, error) {
	url, err := protocol.PollURL(config.URL)
	if err != nil {
		return nil, err
	}

	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRequestTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Poller{
		estimate: estimate{cs: clocksync.NewClockSync(config.Clock, config.StaleAfter)},
		config:   config,
		url:      url,
		client:   client,
		clock:    config.Clock,
		log:      logging.OrNop(config.Logger),
	}, nil
}

// Start performs one sync immediately and then one per interval until Stop
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	// created before the goroutine so a tick is never missed
	ticker := p.clock.Ticker(p.config.Interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()

		p.syncAndLog(ctx)

		for {
			select {
			case <-ticker.C:
				p.syncAndLog(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the schedule and any in-flight exchange
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) syncAndLog(ctx context.Context) {
	if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
		p.log.Warnf("TimeSync failed: %v", err)
	}
}

// Sync performs one exchange. On failure the previous offset is kept.
func (p *Poller) Sync(ctx context.Context) error {
	offset, rtt, err := p.exchange(ctx)
	if err != nil {
		p.recordFailure(err)
		return err
	}

	if m := p.config.Metrics; m != nil {
		m.OffsetSeconds.Set(offset.Seconds())
		m.Samples.WithLabelValues("poll").Inc()
	}

	p.log.Infof("TimeSync: offset=%.1fms rtt=%.1fms",
		float64(offset.Microseconds())/1000.0, float64(rtt.Microseconds())/1000.0)
	return nil
}

func (p *Poller) exchange(ctx context.Context) (time.Duration, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	t0 := p.clock.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	t1 := p.clock.Now()
	if err != nil {
		return 0, 0, classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, 0, fmt.Errorf("%w: HTTP %d", protocol.ErrProtocol, resp.StatusCode)
	}

	remote, err := protocol.ParseTimeMessage(body)
	if err != nil {
		return 0, 0, err
	}

	offset := p.cs.ApplyRoundTrip(t0, t1, remote)
	return offset, t1.Sub(t0), nil
}

func (p *Poller) recordFailure(err error) {
	m := p.config.Metrics
	if m == nil {
		return
	}
	m.SyncFailures.WithLabelValues(errorKind(err)).Inc()
}

// classify maps transport errors onto the error kinds
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", protocol.ErrTransport, err)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrProtocol):
		return "protocol"
	case errors.Is(err, protocol.ErrReconnectExhausted):
		return "exhausted"
	default:
		return "transport"
	}
}
