package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"github.com/xaenox/replydesk/internal/api"
	"github.com/xaenox/replydesk/internal/bot"
	"github.com/xaenox/replydesk/internal/collision"
	"github.com/xaenox/replydesk/internal/drafter"
	"github.com/xaenox/replydesk/internal/inbox"
	"github.com/xaenox/replydesk/internal/notify"
	"github.com/xaenox/replydesk/internal/registry"
	"github.com/xaenox/replydesk/pkg/config"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the Telegram bot and the claim sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	clock := registry.SystemClock()
	reg := registry.New(store, logger, registry.WithClock(clock), registry.WithExpiry(cfg.Assignment.Expiry))
	sweeper := registry.NewSweeper(reg, logger, cfg.Assignment.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}

	var tg *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		tg, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("failed to create telegram client: %w", err)
		}
		logger.Info("Authorized on Telegram", zap.String("account", tg.Self.UserName))
		if cfg.Telegram.StaffChatID != 0 {
			notifiers = append(notifiers, notify.NewTelegramNotifier(tg, cfg.Telegram.StaffChatID))
		}
	}

	if cfg.AMQP.URL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	var d drafter.Drafter = drafter.NewTemplateDrafter()
	if cfg.OpenAI.APIKey != "" {
		d = drafter.NewGPTDrafter(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	}

	claims := collision.NewService(reg, notifiers, logger)
	replies := inbox.NewService(claims, store, logger, inbox.WithClock(clock))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(api.NewHandler(claims, replies, d, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if tg != nil {
		b := bot.New(tg, claims, replies, d, logger)
		go func() {
			if err := b.Start(ctx); err != nil {
				errCh <- fmt.Errorf("bot: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errCh:
		logger.Error("Component failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP shutdown", zap.Error(serr))
	}
	return err
}
