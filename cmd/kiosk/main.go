// kiosk prints the scan code a kiosk display shows, one line per bucket.
// By default codes are issued locally from the configured schedule; with
// --remote they are fetched from the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"punchcard.com/punchcard/config"
	v1 "punchcard.com/punchcard/punchcard/v1"
	"punchcard.com/punchcard/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		action     string
		target     string
		remote     bool
		once       bool
	)
	flagSet := pflag.NewFlagSet("kiosk", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file")
	flagSet.StringVar(&action, "action", string(security.ActionPunch), "punch or shift")
	flagSet.StringVar(&target, "target", "", "shift id for shift codes")
	flagSet.BoolVar(&remote, "remote", false, "fetch codes from the server instead of issuing locally")
	flagSet.BoolVar(&once, "once", false, "print one code and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	schedule := cfg.Schedule()
	issuer := security.NewScanTokenIssuer(schedule, clock)
	client := v1.NewPunchcardClient(cfg.Device.BaseURL, cfg.Device.Session, cfg.Device.RequestTimeout, nil)

	for {
		var (
			value  string
			bucket int64
		)
		if remote {
			tok, err := client.Tokens.Current(ctx, action, target)
			if err != nil {
				logger.Warn("failed to fetch code", "error", err)
			} else {
				value, bucket = tok.Value, tok.IssuedAtBucket
			}
		} else {
			tok, err := issuer.Issue(security.Action(action), target)
			if err != nil {
				return err
			}
			value, bucket = tok.Value, tok.IssuedAtBucket
		}
		if value != "" {
			fmt.Printf("%s\t%s\n", time.UnixMilli(bucket).In(schedule.Location).Format(time.TimeOnly), value)
		}
		if once {
			return nil
		}

		// wake at the start of the next bucket
		now := clock.Now()
		next := time.UnixMilli(schedule.Bucket(now)).Add(schedule.Interval(now))
		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(next.Sub(now)):
		}
	}
}
