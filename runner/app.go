package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/cache"
	"github.com/sadewadee/mystic-shorts/internal/captcha"
	"github.com/sadewadee/mystic-shorts/internal/domain"
	"github.com/sadewadee/mystic-shorts/internal/emailvalidator"
	"github.com/sadewadee/mystic-shorts/internal/lock"
	"github.com/sadewadee/mystic-shorts/internal/mq"
	"github.com/sadewadee/mystic-shorts/internal/notify"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/internal/queue"
	"github.com/sadewadee/mystic-shorts/internal/repository"
	"github.com/sadewadee/mystic-shorts/internal/repository/postgres"
	"github.com/sadewadee/mystic-shorts/internal/repository/sqlite"
	"github.com/sadewadee/mystic-shorts/internal/secret"
	"github.com/sadewadee/mystic-shorts/internal/service"
	"github.com/sadewadee/mystic-shorts/internal/storage"
	"github.com/sadewadee/mystic-shorts/internal/youtube"
)

// lockTTL bounds how long a crashed process can hold an entity lock
const lockTTL = 30 * time.Second

// App holds the wired service layer shared by the runners
type App struct {
	Config     *Config
	DB         *sqlx.DB
	Repos      *repository.Repositories
	Services   *service.Services
	Proxies    *proxypool.Manager
	Dispatcher queue.Dispatcher
	// Local is set when tasks run in this process
	Local *queue.Local

	notifier *notify.Emitter
	closers  []func() error
}

// OpenConnection opens PostgreSQL when the DSN is a postgres URL and SQLite
// otherwise. The returned flag reports PostgreSQL.
func OpenConnection(cfg *Config) (*sqlx.DB, bool, error) {
	if postgres.IsDSN(cfg.Dsn) {
		db, err := postgres.OpenConnection(cfg.Dsn, cfg.PostgresDriver)
		if err != nil {
			return nil, false, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("using PostgreSQL database")
		return db, true, nil
	}

	path := cfg.Dsn
	if path == "" {
		if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
			return nil, false, err
		}
		path = filepath.Join(cfg.DataFolder, "mystic.db")
	}

	db, err := sqlite.OpenConnection(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.WithField("path", path).Info("using SQLite database")
	return db, false, nil
}

// Migrate applies pending migrations for the driver behind db
func Migrate(db *sqlx.DB, isPostgres bool) error {
	var err error
	if isPostgres {
		err = postgres.RunMigrations(db)
	} else {
		err = sqlite.RunMigrations(db)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationStatus lists the migrations for the driver behind db
func MigrationStatus(db *sqlx.DB, isPostgres bool) ([]repository.MigrationState, error) {
	if isPostgres {
		return postgres.MigrationStatus(db)
	}
	return sqlite.MigrationStatus(db)
}

// OpenDatabase opens the configured database and applies pending migrations
func OpenDatabase(cfg *Config) (*sqlx.DB, error) {
	db, isPostgres, err := OpenConnection(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, isPostgres); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewApp wires the service layer for cfg. When inProcess is true background
// tasks run on a local executor, otherwise they are enqueued to Redis.
func NewApp(ctx context.Context, cfg *Config, inProcess bool) (*App, error) {
	app := &App{Config: cfg}

	if err := app.wire(ctx, inProcess); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			log.WithError(cerr).Warn("failed to release resources after startup error")
		}
		return nil, err
	}

	return app, nil
}

// wire builds the components in order of dependency. Everything acquired
// before an error is registered in closers.
func (a *App) wire(ctx context.Context, inProcess bool) (err error) {
	cfg := a.Config

	a.DB, err = OpenDatabase(cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.DB.Close)
	a.Repos = repository.NewRepositories(a.DB)

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = cache.NewRedisClient(ctx, cache.Config{
			URL:      cfg.RedisURL,
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rdb.Close)
	}

	var (
		locker lock.Locker
		store  cache.Cache
	)
	if rdb != nil {
		locker = lock.NewRedis(rdb, lockTTL)
		store = cache.NewRedisCacheFromClient(rdb)
	} else {
		mem := cache.NewMemoryCache()
		a.closers = append(a.closers, mem.Close)
		locker = lock.NewLocal()
		store = mem
	}

	if inProcess {
		a.Local = queue.NewLocal(cfg.Concurrency)
		a.Dispatcher = a.Local
	} else {
		q, err := queue.New(queueConfig(cfg))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, q.Close)
		a.Dispatcher = q
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		return err
	}

	a.notifier, err = a.newNotifier()
	if err != nil {
		return err
	}

	files, err := newFileStore(ctx, cfg)
	if err != nil {
		return err
	}

	gateway, err := newCaptchaGateway(cfg, store)
	if err != nil {
		return err
	}

	a.Proxies = proxypool.NewManager(a.Repos.Proxies, proxypool.Config{
		CheckURL:     cfg.ProxyCheckURL,
		CheckTimeout: cfg.ProxyCheckTimeout,
		Concurrency:  cfg.ProxyConcurrency,
		Freshness:    cfg.ProxyFreshness,
	}, a.notifier)

	deps := service.Deps{
		Stores:     service.NewStores(a.Repos),
		Dispatcher: a.Dispatcher,
		Locker:     locker,
		Sealer:     sealer,
		Notifier:   a.notifier,
		Cache:      store,
	}

	a.Services = service.New(deps, service.Components{
		Account: service.AccountConfig{
			Warmer: service.DelayWarmer{Delay: cfg.WarmupStepDelay},
			Emails: newEmailValidator(cfg, a.Proxies),
		},
		Platform: youtube.NewClient(youtube.Config{
			ClientID:     cfg.YouTubeClientID,
			ClientSecret: cfg.YouTubeClientSecret,
			ChunkSize:    cfg.UploadChunkSize,
		}),
		Proxies:  a.Proxies,
		Importer: proxypool.NewImporter(nil),
		Files:    files,
		Captcha:  gateway,
	})

	if a.Local != nil {
		a.Services.RegisterTasks(a.Local)
	}

	return nil
}

// Close stops the local executor, flushes pending notifications and
// releases connections in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Local != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		errs = append(errs, a.Local.Shutdown(shutdownCtx))
		cancel()
	}

	if a.notifier != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		errs = append(errs, a.notifier.Close(flushCtx))
		cancel()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil

	return errors.Join(errs...)
}

func queueConfig(cfg *Config) *queue.Config {
	return &queue.Config{
		RedisURL:  cfg.RedisURL,
		RedisAddr: cfg.RedisAddr,
		Password:  cfg.RedisPass,
		DB:        cfg.RedisDB,
	}
}

func newSealer(cfg *Config) (secret.Sealer, error) {
	if cfg.SecretKey == "" {
		log.Warn("no secret key configured, account secrets are stored in clear")
		return secret.Plain{}, nil
	}
	return secret.NewAEAD(cfg.SecretKey)
}

// newNotifier builds the event emitter. With RabbitMQ configured events go
// to the bus and a relay forwards them to Telegram.
func (a *App) newNotifier() (*notify.Emitter, error) {
	cfg := a.Config
	sinks := []notify.Sink{notify.Log{}}

	switch {
	case cfg.RabbitMQURL != "":
		pub, err := mq.NewPublisher(mq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, notify.NewBus(pub))
	case cfg.TelegramToken != "" && cfg.TelegramChatID != "":
		sinks = append(sinks, TelegramSink(cfg))
	}

	if cfg.PostHogKey != "" {
		sinks = append(sinks, notify.NewAnalytics(Telemetry()))
	}

	return notify.NewEmitter(notify.Config{Workers: 2}, sinks...), nil
}

// TelegramSink posts the events an operator acts on. Progress noise such as
// captcha solutions and proxy sweeps stays in the logs.
func TelegramSink(cfg *Config) notify.Sink {
	tg := notify.NewTelegram(notify.TelegramConfig{
		BotToken: cfg.TelegramToken,
		ChatID:   cfg.TelegramChatID,
		BaseURL:  cfg.TelegramURL,
	})

	return notify.Only(tg,
		domain.EventAccountCreated,
		domain.EventAccountVerified,
		domain.EventAccountWarmingCompleted,
		domain.EventAccountWarmingFailed,
		domain.EventAccountDeleted,
		domain.EventAccountStatusChanged,
		domain.EventVideoUploadCompleted,
		domain.EventVideoUploadFailed,
		domain.EventVideoPublished,
		domain.EventCaptchaFailed,
	)
}

func newFileStore(ctx context.Context, cfg *Config) (storage.Store, error) {
	if cfg.S3Bucket != "" {
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.AwsRegion,
			AccessKey: cfg.AwsAccessKey,
			SecretKey: cfg.AwsSecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
	}
	return storage.NewLocal(cfg.UploadFolder)
}

// newCaptchaGateway returns nil when no captcha service is configured
func newCaptchaGateway(cfg *Config, store cache.Cache) (*captcha.Gateway, error) {
	if cfg.CaptchaService == "" {
		return nil, nil
	}

	backend, err := captcha.New(cfg.CaptchaService, captcha.BackendConfig{
		APIKey:  cfg.CaptchaKey,
		BaseURL: cfg.CaptchaURL,
	})
	if err != nil {
		return nil, err
	}

	return captcha.NewGateway(backend, captcha.Config{
		PollInterval: cfg.CaptchaPollInterval,
		MaxAttempts:  cfg.CaptchaMaxAttempts,
		MinBalance:   cfg.CaptchaMinBalance,
	}, store), nil
}

// newEmailValidator checks syntax locally and, when configured, probes
// deliverability through Reacher from a pooled proxy.
func newEmailValidator(cfg *Config, proxies *proxypool.Manager) emailvalidator.Validator {
	if cfg.EmailValidatorURL == "" {
		return emailvalidator.NewChain()
	}

	reacher := emailvalidator.NewReacher(emailvalidator.ReacherConfig{
		URL:    cfg.EmailValidatorURL,
		Secret: cfg.EmailValidatorKey,
		ProxyProvider: func(ctx context.Context) (string, int, error) {
			p, err := proxies.Select(ctx, nil)
			if err != nil || p == nil {
				return "", 0, err
			}
			return p.Host, p.Port, nil
		},
	})
	return emailvalidator.NewChain(reacher)
}
