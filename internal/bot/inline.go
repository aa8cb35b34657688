package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	inlineResultLimit = 50
	inlineCacheTime   = 300
)

// handleInlineQuery answers "@bot <category> <filter>" with soundboard clips
func (b *Bot) handleInlineQuery(query *tgbotapi.InlineQuery) {
	clips := b.sounds.Search(query.Query, inlineResultLimit)

	results := make([]interface{}, 0, len(clips))
	for _, s := range clips {
		results = append(results, tgbotapi.NewInlineQueryResultAudio(uuid.NewString(), s.FullURL, s.PrettyName))
	}

	b.logger.Debug("Inline query",
		zap.Int64("user_id", userID(query.From)),
		zap.String("query", query.Query),
		zap.Int("results", len(results)),
	)

	b.request(tgbotapi.InlineConfig{
		InlineQueryID: query.ID,
		Results:       results,
		CacheTime:     inlineCacheTime,
	})
}
