package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errUpdatesClosed = errors.New("updates channel closed")

// Run handles updates until ctx is cancelled. In polling mode it also pulls
// updates from Telegram; in webhook mode updates arrive through Enqueue.
func (b *Bot) Run(ctx context.Context, polling bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.dispatch.run(ctx, b.handleUpdate)
	})

	if polling {
		g.Go(func() error {
			return b.poll(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Enqueue hands an update to its chat's worker
func (b *Bot) Enqueue(ctx context.Context, update tgbotapi.Update) error {
	return b.dispatch.enqueue(ctx, update)
}

// poll receives updates via long polling and restarts with back-off if the
// receive loop fails
func (b *Bot) poll(ctx context.Context) error {
	if b.tg == nil {
		return fmt.Errorf("polling needs a Telegram connection")
	}

	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if _, err := b.tg.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0 // retry forever

	started := false
	operation := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("polling panic: %v", r)
			}
		}()

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := b.tg.GetUpdatesChan(u)
		if !started {
			b.logger.Info("Bot started successfully. Waiting for updates...")
			started = true
		}

		for {
			select {
			case <-ctx.Done():
				b.tg.StopReceivingUpdates()
				return backoff.Permanent(ctx.Err())
			case update, ok := <-updates:
				if !ok {
					return errUpdatesClosed
				}
				policy.Reset()
				if err := b.Enqueue(ctx, update); err != nil {
					return backoff.Permanent(err)
				}
			}
		}
	}

	notify := func(err error, wait time.Duration) {
		b.logger.Error("Polling failed, restarting", zap.Error(err), zap.Duration("retry_in", wait))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

// StartWebhook registers the webhook URL with Telegram
func (b *Bot) StartWebhook(webhookURL string) error {
	if b.tg == nil {
		return fmt.Errorf("webhook setup needs a Telegram connection")
	}
	b.logger.Info("Setting up webhook", zap.String("webhook_url", webhookURL))

	webhookConfig, err := tgbotapi.NewWebhook(webhookURL + "/telegram-webhook")
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	webhookConfig.MaxConnections = 40

	if _, err := b.tg.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", webhookURL))
		return err
	}

	// Get webhook info to verify
	info, err := b.tg.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook set successfully",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
		)
	}
	return nil
}
