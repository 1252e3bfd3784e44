package backend

import (
	"context"
	"errors"
	"fmt"

	"dompet/internal/attachment"
	"dompet/internal/log"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store storage.Store
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case MemoryBackend:
		store = f.createMemoryStore(config)
	default:
		err = fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	uploader, closeUploader, err := f.createUploader(ctx, config)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &BackendResult{
		Store:    store,
		Uploader: uploader,
		Cleanup: func() error {
			return errors.Join(closeUploader(), store.Close())
		},
	}, nil
}

func (f *DefaultFactory) createSQLiteStore(config Config) (storage.Store, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) storage.Store {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return memory.NewFromFiles(dataDir)
}

// createUploader prefers GCS, then a local directory. With neither
// configured uploads are disabled.
func (f *DefaultFactory) createUploader(ctx context.Context, config Config) (attachment.Uploader, func() error, error) {
	noop := func() error { return nil }

	switch {
	case config.GCSBucket != "":
		u, err := attachment.NewGCSUploader(ctx, config.GCSBucket)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize GCS uploader: %w", err)
		}
		f.logger.Info("Image uploads go to Cloud Storage", "bucket", config.GCSBucket)
		return u, u.Close, nil

	case config.UploadDir != "":
		u, err := attachment.NewLocalUploader(config.UploadDir)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize local uploader: %w", err)
		}
		f.logger.Info("Image uploads go to local directory", "dir", config.UploadDir)
		return u, noop, nil

	default:
		f.logger.Warn("Image uploads disabled: neither GCS_BUCKET nor UPLOAD_DIR set")
		return nil, noop, nil
	}
}
