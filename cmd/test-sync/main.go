// ABOUTME: Test app comparing the two estimators against one authority
// ABOUTME: The poll/push gap approximates the one-way delay the push offset absorbs
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/pkg/timesync"
)

func main() {
	app := cli.NewApp()
	app.Name = "test-sync"
	app.Usage = "Compare round-trip and push offsets against one authority"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "url", Value: "http://localhost:8080/time", Usage: "Authority URL"},
		cli.IntFlag{Name: "rounds", Value: 10, Usage: "Number of comparisons"},
		cli.DurationFlag{Name: "every", Value: time.Second, Usage: "Pause between comparisons"},
		cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "test-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log, closeLog, err := logging.New(logging.Config{Console: true, Debug: c.Bool("debug")})
	if err != nil {
		return err
	}
	defer closeLog()

	url := c.String("url")

	fmt.Println("=== Clock Sync Test App ===")
	fmt.Println("This test will:")
	fmt.Println("1. Open a push channel and wait for its first sample")
	fmt.Println("2. Poll /time once per round")
	fmt.Println("3. Print both offsets and their gap")
	fmt.Println()

	poller, err := timesync.NewPoller(timesync.PollerConfig{URL: url, Logger: log})
	if err != nil {
		return err
	}
	sub, err := timesync.NewSubscriber(timesync.SubscriberConfig{
		URL:             url,
		RequestInterval: c.Duration("every"),
		Logger:          log,
	})
	if err != nil {
		return err
	}

	sub.Start()
	defer sub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timesync.DefaultConnectTimeout)
	ok, err := sub.WaitForInit(ctx)
	cancel()
	if !ok {
		return fmt.Errorf("push channel never synced: %w", err)
	}

	for i := 1; i <= c.Int("rounds"); i++ {
		if err := poller.Sync(context.Background()); err != nil {
			log.Warnf("Round %d: poll failed: %v", i, err)
		} else {
			poll, push := poller.Offset(), sub.Offset()
			fmt.Printf("round %2d  poll=%+9.1fms  push=%+9.1fms  gap=%+6.1fms  rtt=%5.1fms\n",
				i, millis(poll), millis(push), millis(poll-push), millis(poller.Stats().RTT))
		}
		time.Sleep(c.Duration("every"))
	}

	log.Infof("Test complete")
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
