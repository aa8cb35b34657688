package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

const (
	defaultThreads = 16
	queueSize      = 64
)

// dispatcher fans updates out to a fixed set of workers. Updates of one chat
// always land on the same worker, so they are handled in arrival order.
type dispatcher struct {
	queues []chan tgbotapi.Update
}

func newDispatcher(threads int) *dispatcher {
	if threads <= 0 {
		threads = defaultThreads
	}
	d := &dispatcher{queues: make([]chan tgbotapi.Update, threads)}
	for i := range d.queues {
		d.queues[i] = make(chan tgbotapi.Update, queueSize)
	}
	return d
}

func (d *dispatcher) size() int {
	return len(d.queues)
}

func (d *dispatcher) shard(update tgbotapi.Update) int {
	return int(uint64(shardKey(update)) % uint64(len(d.queues)))
}

// enqueue blocks while the worker's queue is full
func (d *dispatcher) enqueue(ctx context.Context, update tgbotapi.Update) error {
	select {
	case d.queues[d.shard(update)] <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run starts the workers and blocks until ctx is cancelled
func (d *dispatcher) run(ctx context.Context, handle func(context.Context, tgbotapi.Update)) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case update := <-q:
					handle(ctx, update)
				}
			}
		})
	}
	return g.Wait()
}

// shardKey is the chat an update belongs to, or the user for chat-less updates
func shardKey(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	case update.EditedMessage != nil && update.EditedMessage.Chat != nil:
		return update.EditedMessage.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	case update.InlineQuery != nil && update.InlineQuery.From != nil:
		return update.InlineQuery.From.ID
	default:
		return int64(update.UpdateID)
	}
}
