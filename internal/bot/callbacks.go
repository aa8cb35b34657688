package bot

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/session"
)

// handleVkCallback handles the /vk_config menu buttons
func (b *Bot) handleVkCallback(query *tgbotapi.CallbackQuery, action string) {
	chatID := query.Message.Chat.ID

	state := b.store.Chat(chatID, "")
	if !session.InVkConfiguration(state) {
		b.answerCallback(query.ID, "This menu is closed.")
		return
	}
	b.answerCallback(query.ID, "")

	switch action {
	case "add":
		b.handleVkAddStart(chatID)
	case "list":
		b.handleVkList(chatID)
	case "clear":
		b.handleVkClear(chatID)
	case "done":
		b.store.Abort(chatID)
		edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID, "✅ VK configuration closed.")
		b.send(edit) //nolint:errcheck
	default:
		b.logger.Warn("Unknown VK callback", zap.String("action", action), zap.Int64("chat_id", chatID))
	}
}

// handleSoundCallback plays a clip from a soundboard keyboard. data is "<category>:<index>".
func (b *Bot) handleSoundCallback(query *tgbotapi.CallbackQuery, data string) {
	chatID := query.Message.Chat.ID

	category, rawIdx, found := strings.Cut(data, ":")
	idx, err := strconv.Atoi(rawIdx)
	if !found || err != nil {
		b.logger.Warn("Malformed sound callback", zap.String("data", data))
		b.answerCallback(query.ID, "")
		return
	}

	state := b.store.Chat(chatID, "")
	if !session.InSoundboard(state) || soundboardCategory(state.Mode) != category {
		b.answerCallback(query.ID, "This soundboard is closed.")
		return
	}

	clips := b.sounds.ByCategory(category)
	if idx < 0 || idx >= len(clips) {
		b.answerCallback(query.ID, "Unknown clip.")
		return
	}

	sound := clips[idx]
	b.answerCallback(query.ID, sound.PrettyName)
	b.playSound(chatID, sound)
}
