// ABOUTME: Entry point for the time authority
// ABOUTME: Parses CLI flags, loads configuration and serves the clock until interrupted
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/timesync-go/timesync/internal/config"
	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/version"
	"github.com/timesync-go/timesync/pkg/authority"
)

var appFlags = []cli.Flag{
	cli.StringFlag{Name: "config", Usage: "Config file (YAML, TOML or JSON)"},
	cli.StringFlag{Name: "host", Usage: "Address to bind (default: all interfaces)"},
	cli.IntFlag{Name: "port", Usage: "Listen port (default: 443 with TLS, 80 without)"},
	cli.StringFlag{Name: "name", Usage: "Friendly name advertised over mDNS (default: hostname-timesync)"},
	cli.StringFlag{Name: "cert", Usage: "TLS certificate file"},
	cli.StringFlag{Name: "key", Usage: "TLS private key file"},
	cli.DurationFlag{Name: "push-interval", Usage: "Cadence of pushed timestamps"},
	cli.BoolFlag{Name: "no-mdns", Usage: "Disable mDNS advertisement"},
	cli.StringFlag{Name: "ntp", Usage: "NTP host to check this clock against"},
	cli.StringFlag{Name: "log-file", Value: "timeauthority.log", Usage: "Log file path"},
	cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
}

func main() {
	app := cli.NewApp()
	app.Name = "timeauthority"
	app.Usage = "Serve this machine's clock to timesync estimators"
	app.Version = version.Version
	app.Flags = appFlags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "timeauthority: %v\n", err)
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

	set("host", "authority.host", c.String("host"))
	set("port", "authority.port", c.Int("port"))
	set("name", "authority.name", c.String("name"))
	set("cert", "authority.tls.certFile", c.String("cert"))
	set("key", "authority.tls.keyFile", c.String("key"))
	set("push-interval", "authority.pushInterval", c.Duration("push-interval"))
	set("no-mdns", "authority.mdns", !c.Bool("no-mdns"))
	set("ntp", "authority.ntp.host", c.String("ntp"))
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

	log, closeLog, err := logging.New(logging.Config{
		File:    cfg.Log.File,
		Console: true,
		Debug:   cfg.Log.Debug,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	name := cfg.Authority.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = fmt.Sprintf("%s-timesync", hostname)
	}

	srv, err := authority.NewServer(authority.Config{
		Host:         cfg.Authority.Host,
		Port:         cfg.Authority.Port,
		Name:         name,
		CertFile:     cfg.Authority.TLS.CertFile,
		KeyFile:      cfg.Authority.TLS.KeyFile,
		PushInterval: cfg.Authority.PushInterval,
		PingInterval: cfg.Authority.PingInterval,
		EnableMDNS:   cfg.Authority.MDNS,
		NTPHost:      cfg.Authority.NTP.Host,
		NTPInterval:  cfg.Authority.NTP.Interval,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	if cfg.Log.Debug {
		log.Debugf("Debug logging enabled")
	}
	log.Infof("Logging to: %s", cfg.Log.File)
	log.Infof("Press Ctrl-C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Infof("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	return srv.Start()
}
