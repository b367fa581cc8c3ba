package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"finstats/internal/cache"
	"finstats/internal/log"
	"finstats/internal/source/api"
	"finstats/internal/source/google"
	"finstats/internal/source/memory"
	"finstats/internal/storage"
)

const (
	redisKeyPrefix  = "finstats:responses"
	defaultCacheTTL = 30 * time.Second
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case APIBackend:
		res, err = f.createAPIBackend(ctx, config)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case SheetsBackend:
		res, err = f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		res, err = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	f.logger.InfoContext(ctx, "Data backend ready", log.FieldBackend, config.Type.String())
	return res, nil
}

func (f *DefaultFactory) createAPIBackend(ctx context.Context, config Config) (*BackendResult, error) {
	responses, cleanup, err := f.responseCache(ctx, config)
	if err != nil {
		return nil, err
	}

	client, err := api.New(api.Config{
		BaseURL:  config.APIBaseURL,
		Token:    config.APIToken,
		Timeout:  config.APITimeout,
		Location: config.APILocation,
		Cache:    responses,
	}, f.logger)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return &BackendResult{
		Source:  client,
		Purger:  client,
		Cleanup: cleanup,
	}, nil
}

// responseCache builds the cache the API client keeps aggregate responses in.
func (f *DefaultFactory) responseCache(ctx context.Context, config Config) (cache.Cache[[]byte], CleanupFunc, error) {
	noop := func() error { return nil }

	switch config.CacheBackend {
	case "", "none":
		return nil, noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		rc := cache.NewRedisCache[[]byte](client, redisKeyPrefix, config.CacheTTL, f.logger)
		if err := rc.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", config.RedisAddr, err)
		}
		f.logger.Info("Using redis response cache", "addr", config.RedisAddr, "ttl", config.CacheTTL.String())
		return rc, client.Close, nil

	default:
		size := config.CacheSize
		if size < 1 {
			size = 100
		}
		ttl := config.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		lru := cache.NewLRUCache[[]byte](size, ttl)
		manager := cache.NewManager(f.logger)
		manager.Register(lru)
		manager.StartCleanup(ttl)
		return lru, func() error {
			manager.Stop()
			return nil
		}, nil
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := storage.Open(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}
	if config.Location != nil {
		store.SetLocation(config.Location)
	}

	f.logger.Info("Using SQLite mirror", "path", config.SQLiteDBPath)

	return &BackendResult{
		Source:  store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	creds, err := google.LoadCredentials(config.GoogleServiceAccountJSON, config.GoogleServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Google credentials: %w", err)
	}

	client, err := google.New(ctx, google.Config{
		SpreadsheetID:     config.GoogleSpreadsheetID,
		TransactionsSheet: config.GoogleTransactionsSheet,
		LogsSheet:         config.GoogleLogsSheet,
		CredentialsJSON:   creds,
		Location:          config.Location,
		CacheTTL:          config.CacheTTL,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Using Google Sheets", "spreadsheet_id", config.GoogleSpreadsheetID)

	return &BackendResult{
		Source:  client,
		Purger:  invalidator{client},
		Cleanup: func() error { return nil },
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store, err := memory.NewFromFiles(config.DataDirectory, config.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed data: %w", err)
	}

	f.logger.Info("Using in-memory data", "dir", config.DataDirectory)

	return &BackendResult{
		Source:  store,
		Cleanup: func() error { return nil },
	}, nil
}

type invalidator struct{ c *google.Client }

func (i invalidator) Purge() { i.c.Invalidate() }
