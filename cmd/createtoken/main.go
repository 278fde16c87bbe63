package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"punchcard.com/punchcard/config"
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
		identity   security.Identity
		expires    time.Duration
	)
	flagSet := pflag.NewFlagSet("createtoken", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file")
	flagSet.Int64Var(&identity.UserID, "user", 0, "user id (nameid claim)")
	flagSet.StringVar(&identity.UniqueName, "name", "", "unique_name claim")
	flagSet.StringVar(&identity.Email, "email", "", "email claim")
	flagSet.StringVar(&identity.SID, "device", "", "device id (sid claim)")
	flagSet.StringSliceVar(&identity.Roles, "role", []string{security.RoleEmployee}, "roles: employee, kiosk, admin")
	flagSet.DurationVar(&expires, "expires", time.Hour, "token lifetime")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if identity.UserID == 0 {
		return fmt.Errorf("--user is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.SigningSecret == "" {
		return fmt.Errorf("PUNCHCARD_SIGNING_SECRET is not set")
	}

	token, err := security.CreateIdentityToken(&identity, cfg.Server.SigningSecret, int64(expires.Seconds()))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
