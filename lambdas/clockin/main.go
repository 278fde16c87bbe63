package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"punchcard.com/punchcard/attendance/core"
	"punchcard.com/punchcard/attendance/model"
	"punchcard.com/punchcard/config"
	dbcore "punchcard.com/punchcard/core"
	"punchcard.com/punchcard/infrastructure/communication"
	"punchcard.com/punchcard/infrastructure/filesystem"
	"punchcard.com/punchcard/lambdas/clockin/helper"
)

type importer struct {
	cfg    *config.Config
	s3     *s3.Client
	svc    *core.Service
	slack  *communication.Slack
	logger *slog.Logger
}

// HandleRequest imports every CSV object named in the event.
func (im *importer) HandleRequest(ctx context.Context, event events.S3Event) error {
	hasError := false
	for _, record := range event.Records {
		bucket, key := record.S3.Bucket.Name, record.S3.Object.URLDecodedKey
		if key == "" {
			key = record.S3.Object.Key
		}
		log := im.logger.With("bucket", bucket, "key", key)

		var stream bytes.Buffer
		if err := filesystem.NewS3WithClient(im.s3, bucket).ReadFile(ctx, key, &stream); err != nil {
			log.Error("failed to read export", "error", err)
			hasError = true
			continue
		}

		stats, err := helper.Ingest(ctx, &stream, im.cfg.Location(), im.svc, log)
		if err != nil {
			log.Error("failed to import export", "error", err)
			hasError = true
			continue
		}
		log.Info("imported export",
			"rows", stats.Rows,
			"days", stats.Days,
			"skipped", stats.Skipped,
			"created", stats.Acks[core.SyncCreated],
			"updated", stats.Acks[core.SyncUpdated],
			"rejected", stats.Acks[core.SyncRejected],
		)
		if im.slack != nil {
			msg := fmt.Sprintf("clock-in import %s: %d days, %d created, %d updated", key, stats.Days, stats.Acks[core.SyncCreated], stats.Acks[core.SyncUpdated])
			if err := im.slack.Info(ctx, msg); err != nil {
				log.Warn("slack info failed", "error", err)
			}
		}
	}

	if hasError {
		if im.slack != nil {
			im.slack.Error(ctx, "Error occurred while importing clock-in exports")
		}
		return fmt.Errorf("error while importing clock-in exports")
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("PUNCHCARD_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dsn, err := cfg.ResolveDSN(ctx, ssm.NewFromConfig(awsCfg))
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

	im := &importer{
		cfg: cfg,
		s3:  s3.NewFromConfig(awsCfg),
		svc: core.NewService(core.NewGormStore(dm.DB), core.Options{
			Location:        cfg.Location(),
			Logger:          logger,
			RequireApproval: cfg.Attendance.RequireApproval,
		}),
		logger: logger,
	}
	if cfg.Slack.Token != "" {
		im.slack = communication.NewSlack(cfg.Slack.Token, communication.SlackOption{
			InfoChannelID:  cfg.Slack.InfoChannelID,
			ErrorChannelID: cfg.Slack.ErrorChannelID,
		})
	}

	lambda.Start(im.HandleRequest)
}
