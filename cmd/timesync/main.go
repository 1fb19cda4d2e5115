// ABOUTME: Entry point for the estimator demo
// ABOUTME: Syncs with an authority and shows the corrected clock every second
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/config"
	"github.com/timesync-go/timesync/internal/discovery"
	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/metrics"
	"github.com/timesync-go/timesync/internal/ui"
	"github.com/timesync-go/timesync/internal/version"
)

var appFlags = []cli.Flag{
	cli.StringFlag{Name: "config", Usage: "Config file (YAML, TOML or JSON)"},
	cli.StringFlag{Name: "url", Usage: "Authority URL, e.g. https://clock.lan/time (default: discover via mDNS)"},
	cli.StringFlag{Name: "mode", Usage: "Estimator: push or poll"},
	cli.DurationFlag{Name: "poll-interval", Usage: "Cadence of polling syncs"},
	cli.DurationFlag{Name: "request-interval", Usage: "Send getTime on this cadence in push mode (0: rely on pushes)"},
	cli.IntFlag{Name: "max-reconnects", Usage: "Reconnect attempts before giving up in push mode"},
	cli.BoolFlag{Name: "strict-tls", Usage: "Verify the authority's certificate"},
	cli.BoolFlag{Name: "no-tui", Usage: "Print one line per second instead of the status view"},
	cli.IntFlag{Name: "metrics-port", Usage: "Serve Prometheus metrics on this port"},
	cli.StringFlag{Name: "log-file", Value: "timesync.log", Usage: "Log file path"},
	cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
}

func main() {
	app := cli.NewApp()
	app.Name = "timesync"
	app.Usage = "Estimate this machine's offset to a time authority"
	app.Version = version.Version
	app.Flags = appFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "timesync: %v\n", err)
		os.Exit(1)
	}
}

func overrides(c *cli.Context) map[string]interface{} {
	o := make(map[string]interface{})
	set := func(flag, key string, value interface{}) {
		if c.IsSet(flag) {
			o[key] = value
		}
	}

	set("url", "estimator.url", c.String("url"))
	set("mode", "estimator.mode", c.String("mode"))
	set("poll-interval", "estimator.pollInterval", c.Duration("poll-interval"))
	set("request-interval", "estimator.requestInterval", c.Duration("request-interval"))
	set("max-reconnects", "estimator.maxReconnectAttempts", c.Int("max-reconnects"))
	set("strict-tls", "estimator.insecureSkipVerify", !c.Bool("strict-tls"))
	set("metrics-port", "metrics.port", c.Int("metrics-port"))
	set("log-file", "log.file", c.String("log-file"))
	set("debug", "log.debug", c.Bool("debug"))
	return o
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), overrides(c))
	if err != nil {
		return err
	}
	if cfg.Log.File == "" {
		cfg.Log.File = c.String("log-file")
	}

	useTUI := !c.Bool("no-tui")

	// the status view owns the terminal, so logs go to the file only
	log, closeLog, err := logging.New(logging.Config{
		File:    cfg.Log.File,
		Console: !useTUI,
		Debug:   cfg.Log.Debug,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	url := cfg.Estimator.URL
	if url == "" {
		url, err = discover(cfg.Estimator.DiscoveryTimeout, log)
		if err != nil {
			return err
		}
	}

	var reg *metrics.Estimator
	if cfg.Metrics.Port > 0 {
		reg = metrics.NewEstimator()
		stopMetrics := serveMetrics(cfg.Metrics.Port, reg, log)
		defer stopMetrics()
	}

	est, err := newEstimator(cfg.Estimator, url, log, reg)
	if err != nil {
		return err
	}
	est.Start()
	defer est.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if useTUI {
		return runTUI(est, cfg.Estimator.Mode, url, sigChan)
	}
	return runStream(est, sigChan, log)
}

func discover(timeout time.Duration, log *zap.SugaredLogger) (string, error) {
	log.Infof("No authority URL given, browsing mDNS for %s...", discovery.ServiceType)

	mgr := discovery.NewManager(discovery.Config{Logger: log})
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	server, err := mgr.Lookup(ctx)
	if err != nil {
		return "", err
	}
	return server.URL(), nil
}

func serveMetrics(port int, reg *metrics.Estimator, log *zap.SugaredLogger) func() {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           metrics.Handler(reg.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Metrics on http://localhost:%d/metrics", port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Warnf("Metrics server error: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// runStream prints the corrected clock once per second
func runStream(est estimator, sigChan <-chan os.Signal, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := est.Status()
			fmt.Printf("%s  digits=%s  offset=%+dms  state=%s\n",
				time.UnixMilli(status.CorrectedMillis).Format("15:04:05.000"),
				ui.LastDigits(status.CorrectedMillis),
				status.Offset.Milliseconds(),
				status.State)
		case sig := <-sigChan:
			log.Infof("Received %v signal, shutting down...", sig)
			return nil
		}
	}
}

func runTUI(est estimator, mode, url string, sigChan <-chan os.Signal) error {
	controls := ui.NewControls()
	program := ui.Run(ui.NewModel(mode, url, controls))

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		program.Send(est.Status())
		for {
			select {
			case <-ticker.C:
				program.Send(est.Status())
			case <-controls.Sync:
				est.SyncNow()
				program.Send(est.Status())
			case <-sigChan:
				program.Quit()
				return
			case <-controls.Quit:
				return
			case <-done:
				return
			}
		}
	}()

	_, err := program.Run()
	return err
}
