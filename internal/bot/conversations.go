package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/external/iqdb"
	"pod042/internal/external/whatanime"
	"pod042/internal/fetch"
	"pod042/internal/models"
)

// handleWhatAnimeInput searches the picture in message on whatanime.ga.
// The workflow closes once a picture arrives, whatever the outcome.
func (b *Bot) handleWhatAnimeInput(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	picture, ok := b.downloadImage(ctx, message)
	if !ok {
		return
	}

	result, err := b.whatanime.Search(ctx, picture)
	switch {
	case errors.Is(err, whatanime.ErrNotImage):
		b.sendText(chatID, "🖼 This does not look like a picture.") //nolint:errcheck
		return
	case errors.Is(err, whatanime.ErrTooLarge):
		b.sendText(chatID, "🐘 The picture is too large for whatanime.ga.") //nolint:errcheck
		return
	case errors.Is(err, whatanime.ErrQuotaExceeded):
		b.sendText(chatID, "⏳ Search quota exceeded, try again later.") //nolint:errcheck
		return
	case err != nil:
		b.fail(chatID, "whatanime", err)
		return
	}

	if len(result.Docs) == 0 {
		b.sendText(chatID, "🤷 Nothing found.") //nolint:errcheck
		return
	}

	doc := result.Docs[0]
	b.sendHTML(chatID, formatAnimeDoc(doc, result.Quota)) //nolint:errcheck

	thumb, err := b.whatanime.Thumbnail(ctx, doc)
	if err != nil {
		b.logger.Warn("Failed to get whatanime thumbnail", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	b.send(tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "thumbnail.jpg", Bytes: thumb})) //nolint:errcheck

	preview, err := b.whatanime.Preview(ctx, doc)
	if err != nil {
		b.logger.Warn("Failed to get whatanime preview", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	b.send(tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: "preview.mp4", Bytes: preview})) //nolint:errcheck
}

func formatAnimeDoc(doc whatanime.Doc, quota int) string {
	title := doc.TitleRomaji
	if title == "" {
		title = doc.Title
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🎬 <b>%s</b>", escape(title))
	if doc.TitleEnglish != "" && doc.TitleEnglish != title {
		fmt.Fprintf(&sb, " (%s)", escape(doc.TitleEnglish))
	}
	sb.WriteString("\n")
	if doc.Episode != "" {
		fmt.Fprintf(&sb, "Episode %s, ", escape(string(doc.Episode)))
	}
	fmt.Fprintf(&sb, "at %s\n", timestamp(doc.At))
	fmt.Fprintf(&sb, "Similarity: %.1f%%\n", doc.Similarity*100)
	if doc.AnilistID != 0 {
		fmt.Fprintf(&sb, "<a href=\"https://anilist.co/anime/%d\">AniList</a>\n", doc.AnilistID)
	}
	fmt.Fprintf(&sb, "<i>Searches left: %d</i>", quota)
	return sb.String()
}

// timestamp formats seconds as m:ss
func timestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// handleIqdbInput searches the picture in message on iqdb.org
func (b *Bot) handleIqdbInput(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	picture, ok := b.downloadImage(ctx, message)
	if !ok {
		return
	}

	result, err := b.iqdb.Search(ctx, picture)
	switch {
	case errors.Is(err, iqdb.ErrNotImage):
		b.sendText(chatID, "🖼 This does not look like a picture.") //nolint:errcheck
		return
	case errors.Is(err, iqdb.ErrTooLarge), errors.Is(err, iqdb.ErrTooWide):
		b.sendText(chatID, fmt.Sprintf("🐘 iqdb.org refused the picture: %s.", err)) //nolint:errcheck
		return
	case err != nil:
		b.fail(chatID, "iqdb", err)
		return
	}

	b.sendHTML(chatID, formatIqdbResult(result)) //nolint:errcheck
}

func formatIqdbResult(result *iqdb.Result) string {
	var sb strings.Builder
	found := 0
	for _, m := range result.Matches {
		if m.Type == iqdb.MatchNone || m.SourceLink == "" {
			continue
		}
		found++
		fmt.Fprintf(&sb, "<b>%s</b>: %d%%, <a href=\"%s\">source</a>", escape(m.Type), m.Similarity, escape(m.SourceLink))
		if m.Resolution != "" {
			fmt.Fprintf(&sb, ", %s", escape(m.Resolution))
		}
		if m.Rating != "" {
			fmt.Fprintf(&sb, " %s", escape(m.Rating))
		}
		sb.WriteString("\n")
	}
	if found == 0 {
		sb.WriteString("🤷 No relevant matches.\n")
	}
	if result.Timing != "" {
		fmt.Fprintf(&sb, "<i>%s</i>", escape(result.Timing))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// downloadImage fetches the picture attached to message and closes the
// workflow. ok is false when there is nothing to continue with.
func (b *Bot) downloadImage(ctx context.Context, message *tgbotapi.Message) ([]byte, bool) {
	chatID := message.Chat.ID
	fileID, size, ok := imageFile(message)
	if !ok {
		return nil, false
	}

	b.store.SetMode(chatID, models.ModeIdle, nil)
	b.chatAction(chatID, tgbotapi.ChatTyping)

	picture, err := b.downloader.Download(ctx, fileID, size)
	if errors.Is(err, fetch.ErrTooLarge) {
		b.sendText(chatID, "🐘 The file is too large to download.") //nolint:errcheck
		return nil, false
	}
	if err != nil {
		b.fail(chatID, "download", err)
		return nil, false
	}
	return picture, true
}

// handleVkAddInput adds the groups listed in a reply to the /vk_add prompt.
// Lines that do not resolve are skipped and reported.
func (b *Bot) handleVkAddInput(message *tgbotapi.Message, state *models.ChatState) {
	chatID := message.Chat.ID
	if !repliesToPrompt(message, state) {
		return
	}
	refs := lines(message.Text)
	if len(refs) == 0 {
		return
	}

	resolved, rejected := b.vk.ResolveGroups(refs)

	var added []models.VkGroup
	b.store.Update(chatID, func(state *models.ChatState) {
		known := make(map[int]bool, len(state.VkGroups))
		for _, g := range state.VkGroups {
			known[g.ID] = true
		}
		for _, g := range resolved {
			if known[g.ID] {
				continue
			}
			known[g.ID] = true
			state.VkGroups = append(state.VkGroups, g)
			added = append(added, g)
		}
		state.Mode = models.ModeIdle
		state.MessageIDToReply = nil
	})

	b.logger.Info("VK groups added",
		zap.Int64("chat_id", chatID),
		zap.Int("added", len(added)),
		zap.Int("rejected", len(rejected)),
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Added %d groups.", len(added))
	for _, g := range added {
		fmt.Fprintf(&sb, "\n+ %s", escape(g.String()))
	}
	if len(rejected) > 0 {
		sb.WriteString("\n\n⚠️ Skipped:")
		for _, r := range rejected {
			fmt.Fprintf(&sb, "\n- %s", escape(r.String()))
		}
	}
	b.sendHTML(chatID, sb.String()) //nolint:errcheck
}

// repliesToPrompt reports whether message answers the bot's pending prompt.
// In private chats every message counts.
func repliesToPrompt(message *tgbotapi.Message, state *models.ChatState) bool {
	if message.Chat.IsPrivate() {
		return true
	}
	if state.MessageIDToReply == nil || message.ReplyToMessage == nil {
		return false
	}
	return message.ReplyToMessage.MessageID == *state.MessageIDToReply
}

// handleSoundboardInput plays a clip whose name was typed as text
func (b *Bot) handleSoundboardInput(message *tgbotapi.Message, mode models.Mode) {
	name := strings.TrimSpace(message.Text)
	if name == "" {
		return
	}
	sound, ok := b.sounds.Find(soundboardCategory(mode), name)
	if !ok {
		return
	}
	b.playSound(message.Chat.ID, sound)
}

func (b *Bot) playSound(chatID int64, sound models.Sound) {
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileURL(sound.FullURL))
	audio.Title = sound.PrettyName
	if _, err := b.send(audio); err != nil {
		b.fail(chatID, "sound", err)
	}
}
