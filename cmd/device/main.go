// device is the scanning client. It punches through the server when it can
// and queues punches locally when it cannot.
//
//	device punch clock-in [--time 09:00] [--token CODE] [--user 42]
//	device run            keep flushing, refreshing and probing until stopped
//	device sync           flush the queue once
//	device view           print the local view of recent records
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/config"
	"punchcard.com/punchcard/device/connectivity"
	"punchcard.com/punchcard/device/session"
	"punchcard.com/punchcard/device/syncqueue"
	"punchcard.com/punchcard/device/throttle"
	v1 "punchcard.com/punchcard/punchcard/v1"
	"punchcard.com/punchcard/security"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	userID     int64
	onBehalfOf int64
	badge      string
	date       string
	at         string
	token      string
	kiosk      bool
	verbose    bool
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("device", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "YAML config file")
	flagSet.Int64Var(&opts.userID, "owner", 0, "user id of the device owner (defaults to the session's)")
	flagSet.Int64Var(&opts.onBehalfOf, "user", 0, "punch on behalf of this user (kiosk/admin)")
	flagSet.StringVar(&opts.badge, "badge", "", "badge to resolve on the server (kiosk/admin)")
	flagSet.StringVar(&opts.date, "date", "", "date YYYY-MM-DD (default today)")
	flagSet.StringVar(&opts.at, "time", "", "time HH:MM (default now)")
	flagSet.StringVar(&opts.token, "token", "", "scanned code")
	flagSet.BoolVar(&opts.kiosk, "kiosk", false, "also refresh the displayed scan code in run mode")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		return errors.New("usage: device [flags] punch <kind> | run | sync | view")
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if cfg.Device.Session == "" {
		return errors.New("PUNCHCARD_SESSION is not set")
	}
	if opts.userID == 0 {
		identity, err := security.ParseIdentityTokenUnverified(cfg.Device.Session)
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		opts.userID = identity.UserID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	rules := make([]throttle.Rule, len(cfg.Device.Throttle))
	for i, r := range cfg.Device.Throttle {
		rules[i] = throttle.Rule{Match: r.Match, Interval: r.Interval}
	}
	guard := throttle.New(throttle.Options{
		Rules:   rules,
		Default: cfg.Device.ThrottleDefault,
		Clock:   clock,
		Logger:  logger,
	})
	defer guard.Close()
	client := v1.NewPunchcardClient(cfg.Device.BaseURL, cfg.Device.Session, cfg.Device.RequestTimeout, guard)

	store, err := syncqueue.OpenLocalStore(cfg.Device.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()
	queue := syncqueue.New(store, client.Attendance, clock, logger)

	prober := connectivity.NewProber(cfg.Device.BaseURL, cfg.Device.ProbeInterval, clock, logger)
	s, err := session.New(client, queue, prober, session.Options{
		UserID:                opts.userID,
		Location:              cfg.Location(),
		Tokens:                security.NewScanTokenValidator(cfg.Schedule(), clock, cfg.ValidatorOptions()),
		DisplayTokens:         opts.kiosk,
		TokenAction:           string(security.ActionPunch),
		RecentDays:            cfg.Device.RecentDays,
		FlushInterval:         cfg.Device.FlushInterval,
		TokenRefreshInterval:  cfg.Device.TokenRefreshInterval,
		RecentRefreshInterval: cfg.Device.RecentRefreshInterval,
		PruneAfter:            cfg.Device.PruneAfter,
		Clock:                 clock,
		Logger:                logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "punch":
		if len(args) < 2 {
			return errors.New("usage: device punch clock-in|clock-out|break-start|break-end")
		}
		return punch(ctx, s, prober, args[1], opts)
	case "run":
		go prober.Run(ctx)
		s.OnToken(func(tok v1.TokenDTO) { fmt.Println(tok.Value) })
		s.Start(ctx)
		<-ctx.Done()
		return nil
	case "sync":
		prober.Probe(ctx)
		if err := s.Sync(ctx); err != nil {
			return err
		}
		pending, err := queue.Pending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d pending\n", len(pending))
		return nil
	case "view":
		view, err := s.View(ctx)
		if err != nil {
			return err
		}
		return printJSON(view)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func punch(ctx context.Context, s *session.Session, prober *connectivity.Prober, kindArg string, opts options) error {
	kind, err := session.ParseKind(kindArg)
	if err != nil {
		return err
	}
	req := v1.PunchRequest{Badge: opts.badge, Date: opts.date, Token: opts.token}
	if opts.onBehalfOf != 0 {
		req.UserID = &opts.onBehalfOf
	}
	if opts.at != "" {
		at, err := model.ParseTimeOfDay(opts.at)
		if err != nil {
			return err
		}
		req.Time = &at
	}

	prober.Probe(ctx)
	res, err := s.Punch(ctx, kind, req)
	if err != nil {
		if res.Record != nil {
			// conflicts carry the record that already holds this state
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return printJSON(res.Record)
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "%s\n", res.Outcome)
	if res.Outcome == session.Queued {
		// best effort; the queue is flushed again by "device run"
		_ = s.Sync(ctx)
	}
	return printJSON(res.Record)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
