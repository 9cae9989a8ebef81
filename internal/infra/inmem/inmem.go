package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/models"
)

var _ infra.Database = (*inmemDB)(nil)

type inmemDB struct {
	logger *zap.Logger
	db     map[string]*models.Download
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
}

func New(log *zap.Logger, ttl time.Duration) infra.Database {
	return &inmemDB{
		logger: log,
		db:     make(map[string]*models.Download),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (db *inmemDB) SaveDownload(ctx context.Context, download *models.Download) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if download == nil {
		return ErrDownloadNil
	}

	if download.ID == "" {
		return ErrDownloadIDEmpty
	}

	record := *download

	db.mu.Lock()
	defer db.mu.Unlock()

	db.db[download.ID] = &record
	db.logger.Debug("загрузка сохранена",
		zap.String("download_id", download.ID),
		zap.String("state", string(download.State)),
	)

	return nil
}

func (db *inmemDB) GetDownload(ctx context.Context, id string) (*models.Download, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if id == "" {
		return nil, ErrDownloadIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	download, exists := db.db[id]
	if !exists {
		return nil, ErrDownloadNotFound
	}

	record := *download
	return &record, nil
}

// CountActiveDownloads считает запущенные и приостановленные загрузки.
// Записи, не обновлявшиеся дольше TTL, удаляются.
func (db *inmemDB) CountActiveDownloads(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	count := 0
	now := db.now()

	for id, download := range db.db {
		if db.ttl > 0 && now.Sub(download.UpdatedAt) > db.ttl {
			delete(db.db, id)
			db.logger.Info("загрузка удалена по TTL", zap.String("download_id", id))
			continue
		}
		if download.State.Active() {
			count++
		}
	}

	return count, nil
}

func (db *inmemDB) DeleteDownload(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if id == "" {
		return ErrDownloadIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.db[id]; !exists {
		return ErrDownloadNotFound
	}

	delete(db.db, id)
	db.logger.Info("загрузка удалена", zap.String("download_id", id))

	return nil
}
