package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"finstats/internal/amqp"
	"finstats/internal/backend"
	"finstats/internal/cli"
	"finstats/internal/core"
	apphttp "finstats/internal/http"
	"finstats/internal/log"
	"finstats/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger("info", "text")
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid data backend configuration", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	ctx := context.Background()
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize data backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	mode, err := core.ParseMode(cfg.DefaultTheme)
	if err != nil {
		mode = core.Light
	}

	srv := apphttp.NewServer(":"+cfg.Port, res.Source, apphttp.Options{
		RequestTimeout:      cfg.RequestTimeout,
		SessionCheckTimeout: cfg.SessionCheck,
		ClockSkew:           cfg.ClockSkew,
		Location:            cfg.DisplayLocation(),
		DefaultMode:         mode,
		RequireToken:        cfg.DataBackend == backend.APIBackend.String(),
		SecureCookies:       cfg.SecureCookies,
	}, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.RequestTimeout + 5*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Change notifications are optional; without a broker the page simply
	// reloads on each visit.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Warn("Backend cleanup failed", log.FieldError, err)
			}
		}
	})

	if amqpClient != nil {
		refresher := worker.NewRefreshHandler(srv.RefreshAll, logger, res.Purger)
		go func() {
			if err := amqpClient.ConsumeChanges(shutdownCtx, refresher.HandleChange); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change consumption stopped", log.FieldError, err)
			}
		}()
	}

	logger.Info("Starting finstats server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"timezone", cfg.DisplayTimeZone,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
