package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"punchcard.com/punchcard/infrastructure/devops"
	"punchcard.com/punchcard/security"
	"punchcard.com/punchcard/utils"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
	Attendance Attendance `yaml:"attendance"`
	Tokens     Tokens     `yaml:"tokens"`
	Slack      Slack      `yaml:"slack"`
	Archive    Archive    `yaml:"archive"`
	Device     Device     `yaml:"device"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// SigningSecret is the base64 HMAC key for session tokens. Env only.
	SigningSecret string `yaml:"-"`
	LogFormat     string `yaml:"logFormat"`
}

type Database struct {
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"maxConnections"`
	LogLevel       string `yaml:"logLevel"`

	// When DSN is empty the entry Server is looked up in the SSM parameter
	// and Name is the database on it.
	SSMParameter string `yaml:"ssmParameter"`
	Server       string `yaml:"server"`
	Name         string `yaml:"name"`
}

type Attendance struct {
	Timezone        string `yaml:"timezone"`
	RequireApproval bool   `yaml:"requireApproval"`
}

type Tokens struct {
	RushWindows      []security.Window `yaml:"rushWindows"`
	RushInterval     time.Duration     `yaml:"rushInterval"`
	StandardInterval time.Duration     `yaml:"standardInterval"`
	AllowBypass      bool              `yaml:"allowBypass"`
	BypassPrefix     string            `yaml:"bypassPrefix"`
}

type Slack struct {
	Token          string `yaml:"-"`
	InfoChannelID  string `yaml:"infoChannel"`
	ErrorChannelID string `yaml:"errorChannel"`
}

type Archive struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:      "0.0.0.0:8090",
			LogFormat: "json",
		},
		Database: Database{
			MaxConnections: 10,
			LogLevel:       "warn",
			SSMParameter:   devops.DefaultParameter,
			Name:           "punchcard",
		},
		Attendance: Attendance{
			Timezone: "Australia/Brisbane",
		},
		Tokens: Tokens{
			RushWindows:      []security.Window{{Start: 6, End: 9}, {Start: 16, End: 19}},
			RushInterval:     security.DefaultRushInterval,
			StandardInterval: security.DefaultStandardInterval,
			BypassPrefix:     security.DefaultBypassPrefix,
		},
		Archive: Archive{
			Prefix: "sync",
		},
		Device: DefaultDevice(),
	}
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (optional) over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PUNCHCARD_ADDR", &c.Server.Addr)
	str("PUNCHCARD_SIGNING_SECRET", &c.Server.SigningSecret)
	str("PUNCHCARD_LOG_FORMAT", &c.Server.LogFormat)
	str("DSN", &c.Database.DSN)
	str("DSN_PARAMETER", &c.Database.SSMParameter)
	str("DB_SERVER", &c.Database.Server)
	str("DB_NAME", &c.Database.Name)
	str("DB_LOG_LEVEL", &c.Database.LogLevel)
	str("PUNCHCARD_TIMEZONE", &c.Attendance.Timezone)
	str("SLACK_BOT_TOKEN", &c.Slack.Token)
	str("SLACK_INFO_CHANNEL", &c.Slack.InfoChannelID)
	str("SLACK_ERROR_CHANNEL", &c.Slack.ErrorChannelID)
	str("ARCHIVE_BUCKET", &c.Archive.Bucket)
	str("PUNCHCARD_BASE_URL", &c.Device.BaseURL)
	str("PUNCHCARD_SESSION", &c.Device.Session)
	str("PUNCHCARD_DEVICE_STORE", &c.Device.StorePath)

	if v, ok := lookup("DB_MAX_CONNECTIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid DB_MAX_CONNECTIONS %q", v)
		}
		c.Database.MaxConnections = n
	}
	if v, ok := lookup("PUNCHCARD_ALLOW_BYPASS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PUNCHCARD_ALLOW_BYPASS %q", v)
		}
		c.Tokens.AllowBypass = b
	}
	return nil
}

func (c *Config) Location() *time.Location {
	return utils.LoadLocation(c.Attendance.Timezone)
}

// Schedule is the token bucket schedule in the attendance timezone.
func (c *Config) Schedule() security.Schedule {
	return security.Schedule{
		RushWindows:      c.Tokens.RushWindows,
		RushInterval:     c.Tokens.RushInterval,
		StandardInterval: c.Tokens.StandardInterval,
		Location:         c.Location(),
	}
}

func (c *Config) ValidatorOptions() security.ValidatorOptions {
	return security.ValidatorOptions{
		AllowBypass:  c.Tokens.AllowBypass,
		BypassPrefix: c.Tokens.BypassPrefix,
	}
}

// ResolveDSN returns the configured DSN or looks it up in SSM.
func (c *Config) ResolveDSN(ctx context.Context, client devops.ParameterReader) (string, error) {
	if c.Database.DSN != "" {
		return c.Database.DSN, nil
	}
	if c.Database.Server == "" {
		return "", errors.New("no DSN configured: set DSN or DB_SERVER for an SSM lookup")
	}
	return devops.ResolveDSN(ctx, client, c.Database.SSMParameter, c.Database.Server, c.Database.Name)
}

// ValidateServer checks what the HTTP server cannot start without.
func (c *Config) ValidateServer() error {
	var problems []string
	if c.Server.SigningSecret == "" {
		problems = append(problems, "PUNCHCARD_SIGNING_SECRET is required")
	}
	if c.Tokens.RushInterval < time.Second || c.Tokens.StandardInterval < time.Second {
		problems = append(problems, "token intervals must be at least 1s")
	}
	for _, w := range c.Tokens.RushWindows {
		if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 24 {
			problems = append(problems, fmt.Sprintf("rush window %d-%d is out of range", w.Start, w.End))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
