package bot

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/external/vk"
	"pod042/internal/models"
	"pod042/internal/session"
	"pod042/internal/sounds"
)

const (
	vkCallbackPrefix    = "vk:"
	soundCallbackPrefix = "sound:"

	notConfigured = "🔌 This feature is not configured on this bot."
)

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Hi, I am Pod 042. 🤖

Available commands:
/whatanime - Find the anime a screenshot is from
/iqdb - Find the source of a picture
/vk_pic - Post a random picture from the chat's VK groups
/vk_config - Configure VK groups
/vk_add - Add VK groups
/vk_list - List VK groups
/vk_clear - Remove all VK groups
/jojo - JoJo's Bizarre Adventure soundboard
/gachi - Gachimuchi soundboard
/codfish - Slap someone with a codfish
/users - How many users and chats I know
/abort - Cancel the current operation

Inline: @` + b.username + ` <category> <name> finds a sound.`

	b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, text))
}

// handleAbort closes whatever workflow the chat has open
func (b *Bot) handleAbort(message *tgbotapi.Message) {
	previous := b.store.Abort(message.Chat.ID)
	if previous == models.ModeIdle {
		b.sendText(message.Chat.ID, "Nothing to abort.") //nolint:errcheck
		return
	}
	b.logger.Info("Workflow aborted",
		zap.Int64("chat_id", message.Chat.ID),
		zap.String("mode", string(previous)),
	)
	b.sendText(message.Chat.ID, fmt.Sprintf("❌ Aborted: %s.", previous.Title())) //nolint:errcheck
}

// handleUsers reports the size of the user directory
func (b *Bot) handleUsers(message *tgbotapi.Message) {
	users, chats := b.store.Counts()
	b.sendText(message.Chat.ID, fmt.Sprintf("👥 I know %d users in %d chats.", users, chats)) //nolint:errcheck
}

// handleCodfish slaps the user named in the argument
func (b *Bot) handleCodfish(message *tgbotapi.Message) {
	chatID := message.Chat.ID

	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		b.sendText(chatID, "🐟 Whom should I slap? Usage: /codfish @username") //nolint:errcheck
		return
	}
	target := session.NormalizeHandle(args[len(args)-1])
	if target == "" {
		b.sendText(chatID, "🐟 Whom should I slap? Usage: /codfish @username") //nolint:errcheck
		return
	}

	if b.username != "" && strings.EqualFold(target, b.username) {
		b.sendCodfish(chatID, "🐟 Slapped myself with a codfish. Good and proper.")
		return
	}

	userID, ok := b.store.LookupUser(target)
	if !ok {
		b.sendHTML(chatID, fmt.Sprintf("🤷 I have never seen <b>%s</b>, so I cannot find them.", escape(target))) //nolint:errcheck
		return
	}

	name := b.memberName(chatID, userID, target)
	b.sendCodfish(chatID, fmt.Sprintf("🐟 <b>%s</b> got slapped with a codfish!", escape(name)))
}

// sendCodfish sends the codfish video with an HTML caption, or just the
// caption when no video is configured or the upload fails
func (b *Bot) sendCodfish(chatID int64, caption string) {
	if b.codfishVideo == "" {
		b.sendHTML(chatID, caption) //nolint:errcheck
		return
	}

	b.chatAction(chatID, tgbotapi.ChatRecordVideo)
	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(b.codfishVideo))
	video.Caption = caption
	video.ParseMode = tgbotapi.ModeHTML
	if _, err := b.send(video); err != nil {
		b.sendHTML(chatID, caption) //nolint:errcheck
	}
}

// memberName resolves a user's first name, falling back to the handle
func (b *Bot) memberName(chatID, userID int64, handle string) string {
	if b.api == nil {
		return handle
	}
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil || member.User == nil || member.User.FirstName == "" {
		if err != nil {
			b.logger.Warn("Failed to get chat member",
				zap.Int64("chat_id", chatID),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
		}
		return handle
	}
	return member.User.FirstName
}

// handleWhatAnimeStart waits for a screenshot to search on whatanime.ga
func (b *Bot) handleWhatAnimeStart(message *tgbotapi.Message) {
	if b.whatanime == nil || b.downloader == nil {
		b.sendText(message.Chat.ID, notConfigured) //nolint:errcheck
		return
	}
	b.openWorkflow(message.Chat.ID, models.ModeWhatAnime,
		"🔎 Send me an anime screenshot and I will find where it is from.\n/abort to cancel.")
}

// handleIqdbStart waits for a picture to search on iqdb.org
func (b *Bot) handleIqdbStart(message *tgbotapi.Message) {
	if b.iqdb == nil || b.downloader == nil {
		b.sendText(message.Chat.ID, notConfigured) //nolint:errcheck
		return
	}
	b.openWorkflow(message.Chat.ID, models.ModeIqdb,
		"🔎 Send me a picture and I will look for its source on image boards.\n/abort to cancel.")
}

// openWorkflow sends the prompt and remembers it as the message to reply to
func (b *Bot) openWorkflow(chatID int64, mode models.Mode, prompt string) {
	sent, err := b.sendText(chatID, prompt)
	if err != nil {
		return
	}
	replyTo := sent.MessageID
	b.store.SetMode(chatID, mode, &replyTo)
	b.logger.Debug("Workflow opened", zap.Int64("chat_id", chatID), zap.String("mode", string(mode)))
}

// handleVkConfig shows the VK configuration menu
func (b *Bot) handleVkConfig(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	state := b.store.Chat(chatID, "")

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("⚙️ VK configuration. %d groups configured.", len(state.VkGroups)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add", vkCallbackPrefix+"add"),
			tgbotapi.NewInlineKeyboardButtonData("📋 List", vkCallbackPrefix+"list"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Clear", vkCallbackPrefix+"clear"),
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", vkCallbackPrefix+"done"),
		),
	)
	sent, err := b.send(msg)
	if err != nil {
		return
	}
	replyTo := sent.MessageID
	b.store.SetMode(chatID, models.ModeConfigureVkGroups, &replyTo)
}

// handleVkAddStart asks for group links, one per line
func (b *Bot) handleVkAddStart(chatID int64) {
	if b.vk == nil {
		b.sendText(chatID, notConfigured) //nolint:errcheck
		return
	}

	msg := tgbotapi.NewMessage(chatID, "📝 Reply with VK groups, one per line: a link like https://vk.com/seifuku_blog or a screen name.\n/abort to cancel.")
	msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	sent, err := b.send(msg)
	if err != nil {
		return
	}
	replyTo := sent.MessageID
	b.store.SetMode(chatID, models.ModeConfigureVkGroupsAdd, &replyTo)
}

// handleVkList prints the chat's groups
func (b *Bot) handleVkList(chatID int64) {
	state := b.store.Chat(chatID, "")
	if len(state.VkGroups) == 0 {
		b.sendText(chatID, "No VK groups configured. Use /vk_add to add some.") //nolint:errcheck
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>VK groups:</b>\n")
	for i, g := range state.VkGroups {
		fmt.Fprintf(&sb, "%d. <a href=\"https://vk.com/%s\">%s</a> #%d\n",
			i+1, escape(g.ScreenName), escape(g.Name), g.ID)
	}
	b.sendHTML(chatID, sb.String()) //nolint:errcheck
}

// handleVkClear drops every group and closes an open VK workflow
func (b *Bot) handleVkClear(chatID int64) {
	var closed bool
	b.store.Update(chatID, func(state *models.ChatState) {
		state.VkGroups = []models.VkGroup{}
		if session.InVkConfiguration(state) {
			closed = true
			state.Mode = models.ModeIdle
			state.MessageIDToReply = nil
		}
	})

	text := "🗑 VK groups cleared."
	if closed {
		text += " VK configuration closed."
	}
	b.sendText(chatID, text) //nolint:errcheck
}

// handleVkPic posts a random picture from a random configured group
func (b *Bot) handleVkPic(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if b.vk == nil {
		b.sendText(chatID, notConfigured) //nolint:errcheck
		return
	}

	state := b.store.Chat(chatID, "")
	if len(state.VkGroups) == 0 {
		b.sendText(chatID, "No VK groups configured. Use /vk_add to add some.") //nolint:errcheck
		return
	}

	b.chatAction(chatID, tgbotapi.ChatUploadPhoto)
	url, group, err := b.vk.RandomPhoto(state.VkGroups)
	if errors.Is(err, vk.ErrNoPhotos) {
		b.sendText(chatID, "🤷 No pictures found in the configured groups.") //nolint:errcheck
		return
	}
	if err != nil {
		b.fail(chatID, "vk_pic", err)
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	photo.Caption = fmt.Sprintf("<a href=\"https://vk.com/%s\">%s</a>", escape(group.ScreenName), escape(group.Name))
	photo.ParseMode = tgbotapi.ModeHTML
	if _, err := b.send(photo); err != nil {
		b.fail(chatID, "vk_pic", err)
	}
}

// handleSoundboardStart shows the clips of a soundboard as buttons
func (b *Bot) handleSoundboardStart(message *tgbotapi.Message, mode models.Mode) {
	chatID := message.Chat.ID
	category := soundboardCategory(mode)

	clips := b.sounds.ByCategory(category)
	if len(clips) == 0 {
		b.sendText(chatID, "🔇 This soundboard is empty.") //nolint:errcheck
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(clips); i += 2 {
		row := tgbotapi.NewInlineKeyboardRow(soundButton(category, i, clips[i]))
		if i+1 < len(clips) {
			row = append(row, soundButton(category, i+1, clips[i+1]))
		}
		rows = append(rows, row)
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("🎵 %s. Tap a clip or type its name.\n/abort to close.", mode.Title()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	sent, err := b.send(msg)
	if err != nil {
		return
	}
	replyTo := sent.MessageID
	b.store.SetMode(chatID, mode, &replyTo)
}

func soundButton(category string, idx int, s models.Sound) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(s.PrettyName, fmt.Sprintf("%s%s:%d", soundCallbackPrefix, category, idx))
}

func soundboardCategory(mode models.Mode) string {
	switch mode {
	case models.ModeSoundboardJojo:
		return sounds.CategoryJojo
	case models.ModeSoundboardGachi:
		return sounds.CategoryGachi
	default:
		return ""
	}
}
