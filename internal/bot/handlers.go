package bot

import (
	"context"
	"runtime/debug"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/models"
)

// handleUpdate routes a single update. Panics are recovered so one bad update
// does not take the worker down.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic while handling update",
				zap.Int("update_id", update.UpdateID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if update.Message != nil && update.Message.Chat != nil {
				b.sendText(update.Message.Chat.ID, "An error occurred while processing your request. Please try again.") //nolint:errcheck
			}
		}
	}()

	switch {
	case update.Message != nil:
		if !b.authorized(update.Message.From) {
			b.logger.Warn("Unauthorized access attempt",
				zap.Int64("user_id", userID(update.Message.From)),
				zap.String("username", userName(update.Message.From)),
				zap.String("text", update.Message.Text),
			)
			b.sendText(update.Message.Chat.ID, "Sorry, you are not authorized to use this bot.") //nolint:errcheck
			return
		}
		b.handleMessage(ctx, update.Message)

	case update.CallbackQuery != nil:
		if !b.authorized(update.CallbackQuery.From) {
			b.logger.Warn("Unauthorized callback query attempt",
				zap.Int64("user_id", userID(update.CallbackQuery.From)),
				zap.String("callback_data", update.CallbackQuery.Data),
			)
			return
		}
		b.handleCallbackQuery(ctx, update.CallbackQuery)

	case update.InlineQuery != nil:
		if !b.authorized(update.InlineQuery.From) {
			return
		}
		b.handleInlineQuery(update.InlineQuery)
	}
}

func (b *Bot) authorized(user *tgbotapi.User) bool {
	if len(b.allowedUsers) == 0 {
		return true
	}
	return user != nil && b.allowedUsers[user.ID]
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}
	chatID := message.Chat.ID

	// Every message feeds the user directory and chat metadata
	if message.From != nil {
		b.store.Observe(chatID, chatTitle(message.Chat), message.From.UserName, message.From.ID)
	} else {
		b.store.Chat(chatID, chatTitle(message.Chat))
	}

	// A command never feeds an open workflow
	if message.IsCommand() {
		if b.addressedToOther(message) {
			return
		}
		b.handleCommand(ctx, message)
		return
	}

	// Restored chats may wait on a service that is no longer configured
	state := b.store.Chat(chatID, "")
	switch state.Mode {
	case models.ModeWhatAnime:
		if b.whatanime != nil && b.downloader != nil {
			b.handleWhatAnimeInput(ctx, message)
		}
	case models.ModeIqdb:
		if b.iqdb != nil && b.downloader != nil {
			b.handleIqdbInput(ctx, message)
		}
	case models.ModeConfigureVkGroupsAdd:
		if b.vk != nil {
			b.handleVkAddInput(message, state)
		}
	case models.ModeSoundboardJojo, models.ModeSoundboardGachi:
		b.handleSoundboardInput(message, state.Mode)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	command := strings.ToLower(message.Command())
	b.logger.Debug("Command received",
		zap.String("command", command),
		zap.Int64("chat_id", message.Chat.ID),
		zap.Int64("user_id", userID(message.From)),
	)

	switch command {
	case "start", "help":
		b.handleStart(message)
	case "abort":
		b.handleAbort(message)
	case "codfish":
		b.handleCodfish(message)
	case "users":
		b.handleUsers(message)
	case "whatanime":
		b.handleWhatAnimeStart(message)
	case "iqdb":
		b.handleIqdbStart(message)
	case "vk_config":
		b.handleVkConfig(message)
	case "vk_add":
		b.handleVkAddStart(message.Chat.ID)
	case "vk_list":
		b.handleVkList(message.Chat.ID)
	case "vk_clear":
		b.handleVkClear(message.Chat.ID)
	case "vk_pic":
		b.handleVkPic(message)
	case "jojo":
		b.handleSoundboardStart(message, models.ModeSoundboardJojo)
	case "gachi":
		b.handleSoundboardStart(message, models.ModeSoundboardGachi)
	default:
		// Unknown commands are ignored in groups, other bots may own them
		if message.Chat.IsPrivate() {
			b.sendText(message.Chat.ID, "Unknown command. Use /help to see available commands.") //nolint:errcheck
		}
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Message.Chat == nil {
		b.answerCallback(query.ID, "")
		return
	}

	data := query.Data
	switch {
	case strings.HasPrefix(data, vkCallbackPrefix):
		b.handleVkCallback(query, strings.TrimPrefix(data, vkCallbackPrefix))
	case strings.HasPrefix(data, soundCallbackPrefix):
		b.handleSoundCallback(query, strings.TrimPrefix(data, soundCallbackPrefix))
	default:
		b.answerCallback(query.ID, "")
	}
}

func userID(u *tgbotapi.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func userName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return u.UserName
}
