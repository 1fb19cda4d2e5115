package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/config"
	"github.com/timesync-go/timesync/internal/metrics"
	"github.com/timesync-go/timesync/internal/ui"
	"github.com/timesync-go/timesync/pkg/timesync"
)

// estimator lets the driver treat both variants alike
type estimator interface {
	Start()
	Stop()
	SyncNow()
	Status() ui.StatusMsg
}

func newEstimator(cfg config.EstimatorConfig, url string, log *zap.SugaredLogger, reg *metrics.Estimator) (estimator, error) {
	if cfg.Mode == config.ModePoll {
		p, err := timesync.NewPoller(timesync.PollerConfig{
			URL:        url,
			Interval:   cfg.PollInterval,
			Timeout:    cfg.RequestTimeout,
			StaleAfter: cfg.StaleAfter,
			Logger:     log,
			Metrics:    reg,
		})
		if err != nil {
			return nil, err
		}
		return &pollDriver{Poller: p, log: log}, nil
	}

	// zero in the config file means no reconnects at all
	attempts := cfg.MaxReconnectAttempts
	if attempts == 0 {
		attempts = -1
	}

	s, err := timesync.NewSubscriber(timesync.SubscriberConfig{
		URL:                  url,
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: attempts,
		RequestInterval:      cfg.RequestInterval,
		InsecureSkipVerify:   cfg.InsecureSkipVerify,
		StaleAfter:           cfg.StaleAfter,
		Logger:               log,
		Metrics:              reg,
	})
	if err != nil {
		return nil, err
	}
	return &pushDriver{Subscriber: s, log: log}, nil
}

type pollDriver struct {
	*timesync.Poller
	log *zap.SugaredLogger
}

func (d *pollDriver) SyncNow() {
	go func() {
		if err := d.Sync(context.Background()); err != nil {
			d.log.Warnf("TimeSync failed: %v", err)
		}
	}()
}

func (d *pollDriver) Status() ui.StatusMsg {
	stats := d.Stats()
	state := "waiting"
	if d.Synced() {
		state = "polling"
	}
	return ui.StatusMsg{
		State:           state,
		Offset:          stats.Offset,
		RTT:             stats.RTT,
		Samples:         stats.Samples,
		Quality:         stats.Quality,
		CorrectedMillis: d.CorrectedMillis(),
	}
}

type pushDriver struct {
	*timesync.Subscriber
	log *zap.SugaredLogger
}

func (d *pushDriver) Start() {
	d.Subscriber.Start()

	go func() {
		ok, err := d.WaitForInit(context.Background())
		if !ok && !errors.Is(err, timesync.ErrStopped) {
			d.log.Warnf("Initial sync did not complete: %v", err)
		}
	}()
}

func (d *pushDriver) SyncNow() {
	d.SyncWithServer()
}

func (d *pushDriver) Status() ui.StatusMsg {
	stats := d.Stats()
	return ui.StatusMsg{
		State:           d.State().String(),
		Attempts:        d.Attempts(),
		Err:             d.Err(),
		Offset:          stats.Offset,
		RTT:             stats.RTT,
		Samples:         stats.Samples,
		Quality:         stats.Quality,
		CorrectedMillis: d.CorrectedMillis(),
	}
}
