package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"gopherchat/internal/ai"
	"gopherchat/internal/app"
	"gopherchat/internal/cache"
	"gopherchat/internal/config"
	"gopherchat/internal/platform/database"
	rabbitmqClient "gopherchat/internal/platform/rabbitmq"
	redisClient "gopherchat/internal/platform/redis"
	"gopherchat/internal/realtime"
	"gopherchat/internal/repository"
	"gopherchat/internal/storage"
	"gopherchat/internal/worker"
)

type App struct {
	Config *config.Config
	Logger zerolog.Logger

	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Store      repository.Store
	Blobs      storage.Storage
	LocalBlobs *storage.LocalStorage
	Hub        *realtime.Hub

	Chat    *app.ChatService
	Turns   *app.TurnGenerator
	Users   *app.UserService
	Uploads *app.UploadService

	ArchiveWorker *worker.ArchiveWorker
	TypingSweeper *worker.TypingSweeper

	StartedAt time.Time
}

type options struct {
	generator ai.TextGenerator
}

type Option func(*options)

// WithTextGenerator replaces the configured LLM client.
func WithTextGenerator(g ai.TextGenerator) Option {
	return func(o *options) { o.generator = g }
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		StartedAt: time.Now(),
	}
	if err := a.init(ctx, o); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg := a.Config

	switch cfg.Database.Driver {
	case config.DriverMemory:
		a.Store = repository.NewMemoryStore()
	default:
		db, err := database.New(ctx, cfg)
		if err != nil {
			return err
		}
		a.DB = db
		gormStore := repository.NewGormStore(db)
		if err := gormStore.Migrate(); err != nil {
			return fmt.Errorf("auto migrate tables failed: %w", err)
		}
		a.Store = gormStore
	}
	a.Logger.Info().Str("driver", cfg.Database.Driver).Msg("persistence ready")

	var historyCache app.HistoryCache
	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = redisCli
		historyCache = cache.NewHistoryCache(redisCli, cfg.Redis.HistoryTTL())
	}

	var archive app.ArchivePublisher
	if cfg.RabbitMQ.Enabled {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name)
		if err != nil {
			return err
		}
		a.MQConn = mqConn
		archive = rabbitmqClient.NewArchivePublisher(mqConn, cfg.RabbitMQ.ArchiveQueue)

		a.ArchiveWorker = worker.NewArchiveWorker(mqConn, repository.NewArchiveRepository(a.DB), cfg.RabbitMQ.ArchiveQueue, a.Logger)
		if err := a.ArchiveWorker.Start(context.Background()); err != nil {
			return fmt.Errorf("start archive worker failed: %w", err)
		}
	}

	switch cfg.Upload.Driver {
	case config.UploadDriverS3:
		blobs, err := storage.NewS3Storage(ctx, cfg.Upload.S3)
		if err != nil {
			return err
		}
		a.Blobs = blobs
	default:
		blobs, err := storage.NewLocalStorage(cfg.Upload.BasePath, cfg.Upload.PublicPrefix)
		if err != nil {
			return err
		}
		a.Blobs = blobs
		a.LocalBlobs = blobs
	}

	generator := o.generator
	if generator == nil {
		client := ai.NewOpenAICompatibleClient(ai.ChatConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		})
		if !client.Configured() {
			a.Logger.Warn().Msg("llm api key not set, ai turns will reply with an apology")
		}
		generator = client
	}

	a.Hub = realtime.NewHub(a.Store, a.Logger)
	a.Turns = app.NewTurnGenerator(a.Store, generator, a.Hub, historyCache, archive, app.TurnConfig{
		SystemPrompt:      cfg.LLM.SystemPrompt,
		MentionToken:      cfg.LLM.MentionToken,
		MaxContextMessage: cfg.LLM.MaxContextMessage,
		Timeout:           cfg.LLM.Timeout(),
		MaxConcurrent:     cfg.LLM.MaxConcurrentTurns,
	}, a.Logger)
	a.Chat = app.NewChatService(a.Store, a.Hub, a.Turns, historyCache, archive, a.Logger)
	a.Users = app.NewUserService(a.Store, historyCache, a.Blobs, a.Logger)
	a.Uploads = app.NewUploadService(a.Blobs, app.UploadConfig{
		MaxFileSize:  cfg.Upload.MaxFileSize,
		MaxFiles:     cfg.Upload.MaxFiles,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})

	sweeper, err := worker.NewTypingSweeper(a.Chat, cfg.Typing.TTL(), cfg.Typing.SweepSpec, a.Logger)
	if err != nil {
		return err
	}
	a.TypingSweeper = sweeper
	a.TypingSweeper.Start()
	return nil
}

// Close drains AI turns within ctx, then releases every resource.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Turns != nil {
		if err := a.Turns.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain ai turns: %w", err))
		}
	}
	if a.TypingSweeper != nil {
		a.TypingSweeper.Stop(ctx)
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.ArchiveWorker != nil {
		a.ArchiveWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
