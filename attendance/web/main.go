package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	common "punchcard.com/punchcard/attendance/web/common"
	"punchcard.com/punchcard/attendance/web/server"
	"punchcard.com/punchcard/config"
	dbcore "punchcard.com/punchcard/core"
	"punchcard.com/punchcard/infrastructure/communication"
	"punchcard.com/punchcard/infrastructure/filesystem"
	"punchcard.com/punchcard/security"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("PUNCHCARD_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if cfg.Server.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	dsn, err := cfg.ResolveDSN(ctx, nil)
	if err != nil {
		logger.Error("failed to resolve DSN", "error", err)
		os.Exit(1)
	}
	dm, err := dbcore.New(dsn, cfg.Database.MaxConnections, dbcore.ParseLogLevel(cfg.Database.LogLevel))
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer dm.Close()
	if err := dm.Migrate(&model.AttendanceRecord{}); err != nil {
		logger.Error("failed to migrate", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := security.DecodeSecret(cfg.Server.SigningSecret)
	if err != nil {
		logger.Error("failed to decode signing secret", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	schedule := cfg.Schedule()
	if cfg.Tokens.AllowBypass {
		logger.Warn("bypass scan tokens are enabled; do not run this in production")
	}

	h := &common.Handler{
		Service: core.NewService(core.NewGormStore(dm.DB), core.Options{
			Clock:           clock,
			Location:        cfg.Location(),
			Tokens:          security.NewScanTokenValidator(schedule, clock, cfg.ValidatorOptions()),
			Directory:       dbcore.NewEmployeeDirectory(dm),
			Logger:          logger,
			RequireApproval: cfg.Attendance.RequireApproval,
		}),
		Issuer: security.NewScanTokenIssuer(schedule, clock),
		Clock:  clock,
		Logger: logger,
	}
	if cfg.Slack.Token != "" {
		h.Notifier = communication.NewSlack(cfg.Slack.Token, communication.SlackOption{
			InfoChannelID:  cfg.Slack.InfoChannelID,
			ErrorChannelID: cfg.Slack.ErrorChannelID,
		})
	}
	if cfg.Archive.Bucket != "" {
		fs, err := filesystem.NewS3(ctx, cfg.Archive.Bucket)
		if err != nil {
			logger.Error("failed to set up archive", "error", err)
			os.Exit(1)
		}
		h.Archiver = filesystem.NewArchiver(fs, cfg.Archive.Prefix)
	}

	gin.SetMode(gin.ReleaseMode)
	r := server.NewRouter(jwtSecret, h)
	logger.Info("listening", "addr", cfg.Server.Addr)
	if err := r.Run(cfg.Server.Addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
