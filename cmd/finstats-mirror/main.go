package main

import (
	"context"
	"errors"
	"os"
	"time"
	_ "time/tzdata"

	"finstats/internal/amqp"
	"finstats/internal/cli"
	"finstats/internal/log"
	"finstats/internal/source/google"
	"finstats/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(log.ComponentWorker)

	if err := cfg.ValidateMirror(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting finstats-mirror", "interval", cfg.MirrorInterval.String(), log.FieldOperation, log.OpStartup)

	store := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer store.Close()
	store.SetLocation(cfg.APILocation())

	creds, err := google.LoadCredentials(cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		logger.Error("Failed to load Google credentials", log.FieldError, err)
		os.Exit(1)
	}
	sheets, err := google.New(context.Background(), google.Config{
		SpreadsheetID:     cfg.GoogleSpreadsheetID,
		TransactionsSheet: cfg.GoogleTransactionsSheet,
		LogsSheet:         cfg.GoogleLogsSheet,
		CredentialsJSON:   creds,
		Location:          cfg.APILocation(),
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	// The publisher stays a nil interface without a broker so the worker
	// mirrors silently.
	var publisher worker.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
	} else {
		logger.Info("AMQP disabled - changes will not be announced")
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)

	mirror := worker.NewMirrorWorker(sheets, store, publisher, "sheets", logger)
	if err := mirror.Run(ctx, cfg.MirrorInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Mirror worker failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Mirror worker stopped", log.FieldOperation, log.OpShutdown)
}
