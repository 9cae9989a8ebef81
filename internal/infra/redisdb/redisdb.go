package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/models"
)

const (
	KeyDownload = "dl"     // STRING. JSON записи загрузки, истекает через TTL.
	KeyActive   = "dl_act" // SET. ID запущенных и приостановленных загрузок.

	KeySeparator = ":"
)

var _ infra.Database = (*redisDB)(nil)

type redisDB struct {
	cl     *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	prefix string
}

// New принимает готовый клиент; prefix отделяет ключи разных инсталляций.
func New(cl *redis.Client, log *zap.Logger, ttl time.Duration, prefix string) infra.Database {
	return &redisDB{
		cl:     cl,
		logger: log,
		ttl:    ttl,
		prefix: prefix,
	}
}

// Connect разбирает REDIS_URL и проверяет соединение.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный REDIS_URL: %w", ErrRedis, err)
	}

	cl := redis.NewClient(opt)
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("%w: нет соединения: %w", ErrRedis, err)
	}
	return cl, nil
}

func (db *redisDB) SaveDownload(ctx context.Context, download *models.Download) error {
	if download == nil {
		return ErrDownloadNil
	}
	if download.ID == "" {
		return ErrDownloadIDEmpty
	}

	data, err := json.Marshal(download)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать загрузку: %w", err)
	}

	_, err = db.cl.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, db.key(KeyDownload, download.ID), data, db.ttl)
		if download.State.Active() {
			pipe.SAdd(ctx, db.key(KeyActive), download.ID)
		} else {
			pipe.SRem(ctx, db.key(KeyActive), download.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: не удалось сохранить загрузку %s: %w", ErrRedis, download.ID, err)
	}

	db.logger.Debug("загрузка сохранена",
		zap.String("download_id", download.ID),
		zap.String("state", string(download.State)),
	)
	return nil
}

func (db *redisDB) GetDownload(ctx context.Context, id string) (*models.Download, error) {
	if id == "" {
		return nil, ErrDownloadIDEmpty
	}

	data, err := db.cl.Get(ctx, db.key(KeyDownload, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDownloadNotFound
		}
		return nil, fmt.Errorf("%w: не удалось получить загрузку %s: %w", ErrRedis, id, err)
	}

	var download models.Download
	if err := json.Unmarshal(data, &download); err != nil {
		return nil, fmt.Errorf("не удалось разобрать загрузку %s: %w", id, err)
	}
	return &download, nil
}

// CountActiveDownloads считает загрузки из множества активных. Истекшие по
// TTL записи Redis удаляет сам, здесь из множества убираются их ID.
func (db *redisDB) CountActiveDownloads(ctx context.Context) (int, error) {
	ids, err := db.cl.SMembers(ctx, db.key(KeyActive)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: не удалось получить активные загрузки: %w", ErrRedis, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, db.key(KeyDownload, id))
	}

	values, err := db.cl.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: не удалось получить загрузки: %w", ErrRedis, err)
	}

	count := 0
	stale := make([]any, 0)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}

		var download models.Download
		if err := json.Unmarshal([]byte(raw), &download); err != nil || !download.State.Active() {
			stale = append(stale, ids[i])
			continue
		}
		count++
	}

	if len(stale) > 0 {
		if err := db.cl.SRem(ctx, db.key(KeyActive), stale...).Err(); err != nil {
			db.logger.Warn("не удалось очистить множество активных загрузок", zap.Error(err))
		} else {
			db.logger.Info("загрузки удалены из активных", zap.Int("count", len(stale)))
		}
	}

	return count, nil
}

func (db *redisDB) DeleteDownload(ctx context.Context, id string) error {
	if id == "" {
		return ErrDownloadIDEmpty
	}

	var deleted *redis.IntCmd
	_, err := db.cl.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, db.key(KeyDownload, id))
		pipe.SRem(ctx, db.key(KeyActive), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: не удалось удалить загрузку %s: %w", ErrRedis, id, err)
	}
	if deleted.Val() == 0 {
		return ErrDownloadNotFound
	}

	db.logger.Info("загрузка удалена", zap.String("download_id", id))
	return nil
}

func (db *redisDB) key(keys ...string) string {
	if db.prefix != "" {
		keys = append([]string{db.prefix}, keys...)
	}
	return strings.Join(keys, KeySeparator)
}
