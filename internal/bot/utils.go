package bot

import (
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const genericFailure = "😵 Something went wrong, please try again later."

// send delivers any chattable; failures are logged and returned
func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.api == nil {
		return tgbotapi.Message{}, nil // For testing
	}
	sent, err := b.api.Send(c)
	if err != nil {
		b.logger.Error("Failed to send message", zap.Error(err))
	}
	return sent, err
}

// sendMessage sends a message and ignores the result
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	b.send(msg) //nolint:errcheck // logged in send
}

// sendText sends plain text
func (b *Bot) sendText(chatID int64, text string) (tgbotapi.Message, error) {
	return b.send(tgbotapi.NewMessage(chatID, text))
}

// sendHTML sends text in HTML parse mode. Callers escape user data with escape.
func (b *Bot) sendHTML(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return b.send(msg)
}

// request performs a call whose result is not a message
func (b *Bot) request(c tgbotapi.Chattable) {
	if b.api == nil {
		return
	}
	if _, err := b.api.Request(c); err != nil {
		b.logger.Warn("Telegram request failed", zap.Error(err))
	}
}

func (b *Bot) chatAction(chatID int64, action string) {
	b.request(tgbotapi.NewChatAction(chatID, action))
}

func (b *Bot) answerCallback(queryID, text string) {
	b.request(tgbotapi.NewCallback(queryID, text))
}

// fail logs err and tells the chat that the operation failed
func (b *Bot) fail(chatID int64, operation string, err error) {
	b.logger.Error("Handler failed",
		zap.String("operation", operation),
		zap.Int64("chat_id", chatID),
		zap.Error(err),
	)
	b.sendText(chatID, genericFailure) //nolint:errcheck // logged in send
}

func escape(s string) string {
	return html.EscapeString(s)
}

// addressedToOther reports whether a command names a different bot, as in /help@otherbot
func (b *Bot) addressedToOther(message *tgbotapi.Message) bool {
	cmd := message.CommandWithAt()
	i := strings.Index(cmd, "@")
	if i < 0 || b.username == "" {
		return false
	}
	return !strings.EqualFold(cmd[i+1:], b.username)
}

func chatTitle(chat *tgbotapi.Chat) string {
	if chat == nil {
		return ""
	}
	if chat.Title != "" {
		return chat.Title
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}

// imageFile returns the picture attached to message: the largest photo size or
// an image document
func imageFile(message *tgbotapi.Message) (fileID string, size int64, ok bool) {
	if n := len(message.Photo); n > 0 {
		best := message.Photo[n-1]
		return best.FileID, int64(best.FileSize), true
	}
	if doc := message.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return doc.FileID, int64(doc.FileSize), true
	}
	return "", 0, false
}

// lines splits text into trimmed non-empty lines
func lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
