package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pod042/internal/external/iqdb"
	"pod042/internal/external/vk"
	"pod042/internal/external/whatanime"
	"pod042/internal/models"
	"pod042/internal/session"
	"pod042/internal/sounds"
)

// Sender is the part of *tgbotapi.BotAPI the handlers use
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// FileDownloader fetches Telegram files within a size cap
type FileDownloader interface {
	Download(ctx context.Context, fileID string, declaredSize int64) ([]byte, error)
}

// AnimeSearcher looks up anime scenes by screenshot
type AnimeSearcher interface {
	Search(ctx context.Context, picture []byte) (*whatanime.SearchResult, error)
	Thumbnail(ctx context.Context, doc whatanime.Doc) ([]byte, error)
	Preview(ctx context.Context, doc whatanime.Doc) ([]byte, error)
}

// ImageSearcher looks up art on image boards
type ImageSearcher interface {
	Search(ctx context.Context, picture []byte) (*iqdb.Result, error)
}

// VkSource resolves VK groups and picks pictures from them
type VkSource interface {
	ResolveGroups(lines []string) ([]models.VkGroup, []vk.Rejected)
	RandomPhoto(groups []models.VkGroup) (string, models.VkGroup, error)
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          Sender
	tg           *tgbotapi.BotAPI // nil in tests; used for polling and webhook setup
	username     string
	allowedUsers map[int64]bool
	store        *session.Store
	logger       *zap.Logger

	downloader FileDownloader
	whatanime  AnimeSearcher
	iqdb       ImageSearcher
	vk         VkSource
	sounds     *sounds.Catalog

	codfishVideo string

	dispatch *dispatcher
}

// Options configure a Bot. Nil services switch the matching commands off.
type Options struct {
	Username       string
	AllowedUserIDs []int64
	Threads        int
	CodfishVideo   string

	Store      *session.Store
	Downloader FileDownloader
	WhatAnime  AnimeSearcher
	Iqdb       ImageSearcher
	Vk         VkSource
	Sounds     *sounds.Catalog
	Logger     *zap.Logger
}
