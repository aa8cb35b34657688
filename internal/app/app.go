package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pod042/internal/bot"
	"pod042/internal/config"
	"pod042/internal/external/iqdb"
	"pod042/internal/external/vk"
	"pod042/internal/external/whatanime"
	"pod042/internal/fetch"
	"pod042/internal/logging"
	"pod042/internal/session"
	"pod042/internal/sounds"
	"pod042/internal/storage"
	"pod042/internal/storage/ch"
	"pod042/internal/storage/file"
	s3store "pod042/internal/storage/s3"
	"pod042/internal/storage/sqlite"
	"pod042/internal/storage/stubs"
)

const (
	initTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// updateSink accepts updates from the webhook endpoint
type updateSink interface {
	Enqueue(ctx context.Context, update tgbotapi.Update) error
}

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	closeLog func()
	db       storage.Storage
	store    *session.Store
	bot      *bot.Bot
	sink     updateSink
	server   *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		ToStdout:  cfg.LogToStdout,
		ToFile:    cfg.LogToFile,
		Directory: cfg.LogDirectory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger, closeLog: closeLog}

	logger.Info("Starting Pod 042 bot...", zap.String("home", cfg.Home))

	if err := prepareHome(cfg.Home); err != nil {
		closeLog()
		return nil, err
	}

	if err := app.initStorage(); err != nil {
		closeLog()
		return nil, err
	}

	if err := app.initBot(); err != nil {
		app.db.Close() //nolint:errcheck
		closeLog()
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

// prepareHome creates the bot home. Downloads stay in memory, so nothing
// else is staged there.
func prepareHome(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// initStorage opens the configured back end and restores the saved state
func (a *App) initStorage() error {
	db, err := newStorage(a.config, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	if err := db.Initialize(ctx); err != nil {
		db.Close() //nolint:errcheck
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("Storage initialized successfully", zap.String("backend", a.config.StorageBackend))

	a.db = db
	a.store = session.NewStore(a.logger)
	a.store.Restore(ctx, db)
	return nil
}

// newStorage builds the back end named by cfg.StorageBackend
func newStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageMock:
		logger.Info("Using mock storage, state is not persisted")
		return stubs.NewMockDB(), nil

	case config.StorageFile:
		logger.Info("Using file storage", zap.String("dir", cfg.Home))
		return file.New(cfg.Home), nil

	case config.StorageSQLite:
		logger.Info("Using SQLite storage", zap.String("path", cfg.SQLitePath))
		db, err := sqlite.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite: %w", err)
		}
		return db, nil

	case config.StorageClickHouse:
		logger.Info("Connecting to ClickHouse",
			zap.String("host", cfg.ClickHouseHost),
			zap.Int("port", cfg.ClickHousePort),
			zap.String("database", cfg.ClickHouseDatabase),
			zap.String("user", cfg.ClickHouseUser),
			zap.Bool("tls", cfg.ClickHouseUseTLS),
		)
		db, err := ch.NewClickHouseDB(
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		return db, nil

	case config.StorageS3:
		logger.Info("Using S3 storage",
			zap.String("bucket", cfg.S3Bucket),
			zap.String("endpoint", cfg.S3Endpoint),
			zap.String("prefix", cfg.S3Prefix),
		)
		db, err := s3store.New(s3store.Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newTransport routes outbound traffic through the configured proxy
func newTransport(cfg *config.Config) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}
	return transport
}

// initBot connects to Telegram and wires the external services
func (a *App) initBot() error {
	cfg := a.config
	transport := newTransport(cfg)

	// Long polling holds requests open for a minute, so Telegram gets no client timeout
	telegramClient := &http.Client{Transport: transport}
	client := &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout}

	api, err := bot.NewBotAPI(cfg.TelegramToken, telegramClient)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	opts := bot.Options{
		Username:       cfg.BotUsername,
		AllowedUserIDs: cfg.AllowedUserIDs,
		Threads:        cfg.Threads,
		Store:          a.store,
		Downloader:     fetch.NewDownloader(api, client, cfg.MaxDownloadSize),
		Iqdb:           iqdb.NewClient(cfg.IqdbEndpoint, client),
		Logger:         a.logger,
	}

	if cfg.WhatAnimeToken != "" {
		wa := whatanime.NewClient(cfg.WhatAnimeEndpoint, cfg.WhatAnimeToken, whatanime.WithHTTPClient(client))
		a.logWhatAnimeQuota(wa)
		opts.WhatAnime = wa
	} else {
		a.logger.Warn("WHATANIME_TOKEN is not set, /whatanime is disabled")
	}

	if cfg.VkToken != "" {
		opts.Vk = vk.NewClient(cfg.VkToken, client)
	} else {
		a.logger.Warn("VK_TOKEN is not set, VK commands are disabled")
	}

	catalog, err := sounds.Load(cfg.SoundsFile, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load sounds: %w", err)
	}
	opts.Sounds = catalog

	if _, err := os.Stat(cfg.CodfishVideo); err == nil {
		opts.CodfishVideo = cfg.CodfishVideo
	} else {
		a.logger.Warn("Codfish video not found, /codfish replies with text", zap.String("path", cfg.CodfishVideo))
	}

	a.bot = bot.NewBot(api, opts)
	a.sink = a.bot
	return nil
}

func (a *App) logWhatAnimeQuota(wa *whatanime.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.HTTPTimeout)
	defer cancel()

	me, err := wa.Me(ctx)
	if err != nil {
		a.logger.Warn("Failed to check whatanime.ga account", zap.Error(err))
		return
	}
	a.logger.Info("whatanime.ga account",
		zap.Int("quota", me.Quota),
		zap.Int("quota_left", me.NowQuota),
		zap.Int("quota_ttl", me.QuotaTTL),
	)
}

// initHTTPServer initializes the HTTP server for health checks and webhook
func (a *App) initHTTPServer() {
	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      a.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	// Root endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Pod 042 bot is running (mode: %s)", mode)
	})

	// Webhook endpoint (only used in webhook mode)
	r.Post("/telegram-webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			a.logger.Warn("Error decoding webhook update",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// The worker pool handles it; Telegram only needs a quick 200
		if err := a.sink.Enqueue(r.Context(), update); err != nil {
			a.logger.Error("Failed to enqueue webhook update", zap.Int("update_id", update.UpdateID), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// Run starts the application and blocks until shutdown
func (a *App) Run() (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unexpected panic still saves what the chats have done so far
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Recovered from panic, saving state", zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
			a.Shutdown() //nolint:errcheck
		}
	}()

	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			a.Shutdown() //nolint:errcheck
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		a.logger.Info("Starting bot in POLLING mode...")
	}

	runErr := a.bot.Run(ctx, !a.config.WebhookMode)
	if runErr != nil {
		a.logger.Error("Bot stopped with error", zap.Error(runErr))
	}

	a.logger.Info("Shutting down...")
	if err := a.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// Shutdown saves the state, stops the HTTP server and closes the storage
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error

	if err := a.store.Persist(ctx, a.db); err != nil {
		firstErr = err
	}

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing storage", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Info("Shutdown complete")
	if a.closeLog != nil {
		a.closeLog()
	}
	return firstErr
}
