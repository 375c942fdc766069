package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/HappyTetrahedron/printer-bot/internal/access"
	"github.com/HappyTetrahedron/printer-bot/internal/config"
	"github.com/HappyTetrahedron/printer-bot/internal/dialog"
	"github.com/HappyTetrahedron/printer-bot/internal/domain"
	"github.com/HappyTetrahedron/printer-bot/internal/feature/audit"
	"github.com/HappyTetrahedron/printer-bot/internal/health"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
	"github.com/HappyTetrahedron/printer-bot/internal/octoprint"
	"github.com/HappyTetrahedron/printer-bot/internal/relay"
	"github.com/HappyTetrahedron/printer-bot/internal/status"
	"github.com/HappyTetrahedron/printer-bot/internal/store"
	"github.com/HappyTetrahedron/printer-bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "printer-bot",
		Short:         "Relay OctoPrint status and control through a Telegram bot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the YAML configuration file.")

	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return startupError("configuration error", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return startupError("logger setup error", err)
	}

	logger.WithFields(logging.Fields{
		"event":  "startup",
		"config": configPath,
	}).Info("configuration loaded")
	logger.WithField("event", "startup_config").Debug(config.FormatRedacted(cfg))

	var (
		mongoManager *store.Manager
		auditPinger  health.Pinger
		relayOpts    []relay.Option
	)

	if cfg.AuditEnabled() {
		mongoManager, err = connectAuditStore(cfg, logger)
		if err != nil {
			return err
		}
		auditPinger = mongoManager

		repo := domain.NewAuditRepository(mongoManager.AuditEvents())
		relayOpts = append(relayOpts, relay.WithAuditor(audit.NewRecorder(repo, logger)))
	} else {
		relayOpts = append(relayOpts, relay.WithAuditor(audit.NewRecorder(nil, logger)))
	}

	printer, err := octoprint.NewClient(cfg, logger)
	if err != nil {
		return startupError("printer client setup error", err)
	}

	dispatcher := relay.New(
		printer,
		access.NewGate(cfg, logger),
		status.NewFormatter(),
		dialog.NewRegistry(cfg.DialogTTL),
		logger,
		relayOpts...,
	)

	tgClient, err := telegram.NewClient(cfg, logger, dispatcher)
	if err != nil {
		return startupError("telegram client setup error", err)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	var healthServer *health.Server
	if cfg.HTTPPort > 0 {
		healthServer = health.NewServer(cfg.HTTPPort, printer, auditPinger, logger)
		go func() {
			if err := healthServer.ListenAndServe(); err != nil {
				logger.WithField("event", "health_error").WithError(err).Error("health server failed")
			}
		}()
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	if healthServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), healthShutdownTimeout)
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("health server shutdown error")
		}
		cancelShutdown()
	}

	if mongoManager != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := mongoManager.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
	return nil
}

func connectAuditStore(cfg config.Config, logger *logrus.Entry) (*store.Manager, error) {
	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		return nil, startupError("mongo connection error", err)
	}

	logger.WithFields(logging.Fields{
		"event":    "mongo_connect",
		"mongo_db": cfg.MongoDB,
	}).Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	defer cancelIndexes()
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		_ = mongoManager.Close(closeCtx)
		cancelClose()
		return nil, startupError("mongo index setup error", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured audit indexes")
	return mongoManager, nil
}

// startupError logs and prints a fatal startup failure.
func startupError(msg string, err error) error {
	logging.Error(msg, logging.Fields{"error": err})
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}
