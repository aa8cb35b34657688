package bot

import (
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/session"
	"pod042/internal/sounds"
)

// NewBotAPI connects to Telegram. client may carry a proxy.
func NewBotAPI(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

// NewBot creates a new Telegram bot on top of a connected API
func NewBot(api *tgbotapi.BotAPI, opts Options) *Bot {
	b := newBot(api, opts)
	b.tg = api
	if b.username == "" {
		b.username = api.Self.UserName
	}
	b.logger.Info("Bot created",
		zap.String("bot_username", api.Self.UserName),
		zap.Int("threads", b.dispatch.size()),
		zap.Int("allowed_users", len(b.allowedUsers)),
	)
	return b
}

func newBot(api Sender, opts Options) *Bot {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = session.NewStore(logger)
	}
	catalog := opts.Sounds
	if catalog == nil {
		catalog = sounds.New(nil)
	}

	allowedUsers := make(map[int64]bool)
	for _, id := range opts.AllowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		api:          api,
		username:     strings.TrimPrefix(opts.Username, "@"),
		allowedUsers: allowedUsers,
		store:        store,
		logger:       logger,
		downloader:   opts.Downloader,
		whatanime:    opts.WhatAnime,
		iqdb:         opts.Iqdb,
		vk:           opts.Vk,
		sounds:       catalog,
		codfishVideo: opts.CodfishVideo,
		dispatch:     newDispatcher(opts.Threads),
	}
}

// Store returns the session store
func (b *Bot) Store() *session.Store {
	return b.store
}
