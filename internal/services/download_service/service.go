package download_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/config"
	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/internal/interfaces/services"
	"github.com/sunr3d/folderzip/internal/pipeline"
	"github.com/sunr3d/folderzip/models"
)

const minHeartbeat = time.Second

var _ services.DownloadService = (*downloadService)(nil)

type downloadService struct {
	repo   infra.Database
	drive  infra.Drive
	logger *zap.Logger
	cfg    *config.Config
	method uint16

	// mu делает проверку лимита и регистрацию загрузки атомарными
	mu   sync.Mutex
	live map[string]*liveDownload
	now  func() time.Time
}

// liveDownload - загрузка, пайплайн которой еще работает в этом процессе.
type liveDownload struct {
	pipeline *pipeline.Pipeline

	mu     sync.Mutex
	record models.Download

	total     atomic.Int64
	sizeKnown atomic.Bool
	entries   atomic.Int64
	bytes     atomic.Int64
}

func (l *liveDownload) snapshot(now time.Time) *models.Download {
	l.mu.Lock()
	d := l.record
	l.mu.Unlock()

	d.State = l.pipeline.State()
	d.TotalSize = l.total.Load()
	d.SizeKnown = l.sizeKnown.Load()
	d.WrittenEntries = int(l.entries.Load())
	d.WrittenBytes = l.bytes.Load()
	d.UpdatedAt = now
	if err := l.pipeline.Err(); err != nil {
		d.Error = err.Error()
	}
	return &d
}

func New(log *zap.Logger, cfg *config.Config, repo infra.Database, drive infra.Drive) services.DownloadService {
	method, err := pipeline.CompressionMethod(cfg.Compression)
	if err != nil {
		log.Warn("неизвестный метод сжатия, используется store", zap.String("compression", cfg.Compression))
	}

	return &downloadService{
		repo:   repo,
		drive:  drive,
		logger: log,
		cfg:    cfg,
		method: method,
		live:   make(map[string]*liveDownload),
		now:    time.Now,
	}
}

// Start запускает сборку архива папки. Поток архива отменяется вместе с ctx.
func (s *downloadService) Start(ctx context.Context, shareID, linkID string) (*models.Download, io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if strings.TrimSpace(shareID) == "" || strings.TrimSpace(linkID) == "" {
		return nil, nil, ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.repo.CountActiveDownloads(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось получить количество активных загрузок: %w", err)
	}
	if active >= s.cfg.MaxActiveDownloads {
		return nil, nil, ErrServerBusy
	}

	now := s.now()
	live := &liveDownload{
		record: models.Download{
			ID:        uuid.New().String(),
			ShareID:   shareID,
			LinkID:    linkID,
			State:     models.PipelineStateRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	id := live.record.ID
	log := s.logger.With(zap.String("download_id", id))

	live.pipeline = pipeline.New(shareID, linkID, pipeline.Callbacks{
		ListChildren: s.drive.ListChildren,
		FetchContent: s.drive.FetchContent,
		OnInit: func(total int64) {
			live.total.Store(total)
			live.sizeKnown.Store(true)
		},
		OnProgress: func(n int64) { live.bytes.Add(n) },
		OnEntry:    func(models.Entry) { live.entries.Add(1) },
	},
		pipeline.WithConcurrency(s.cfg.FetchConcurrency),
		pipeline.WithCompression(s.method),
		pipeline.WithLogger(log),
	)

	record := live.record
	if err := s.repo.SaveDownload(ctx, &record); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDownloadSave, err)
	}

	stream, err := live.pipeline.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDownloadStart, err)
	}

	s.live[id] = live
	go s.watch(id, live)

	log.Info("загрузка папки начата",
		zap.String("share_id", shareID),
		zap.String("link_id", linkID),
	)
	return &record, stream, nil
}

func (s *downloadService) Pause(ctx context.Context, id string) error {
	return s.control(ctx, id, "приостановлена", (*pipeline.Pipeline).Pause)
}

func (s *downloadService) Resume(ctx context.Context, id string) error {
	return s.control(ctx, id, "возобновлена", (*pipeline.Pipeline).Resume)
}

func (s *downloadService) Cancel(ctx context.Context, id string) error {
	return s.control(ctx, id, "отменена", (*pipeline.Pipeline).Cancel)
}

func (s *downloadService) GetDownload(ctx context.Context, id string) (*models.Download, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if live := s.lookup(id); live != nil {
		return live.snapshot(s.now()), nil
	}

	download, err := s.repo.GetDownload(ctx, id)
	if err != nil {
		if errors.Is(err, infra.ErrDownloadNotFound) {
			return nil, ErrDownloadNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDownloadGet, err)
	}
	return download, nil
}

func (s *downloadService) control(ctx context.Context, id, action string, fn func(*pipeline.Pipeline)) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	live := s.lookup(id)
	if live == nil {
		if _, err := s.GetDownload(ctx, id); err != nil {
			return err
		}
		return ErrDownloadFinished
	}
	if live.pipeline.State().Terminal() {
		return ErrDownloadFinished
	}

	fn(live.pipeline)

	if err := s.repo.SaveDownload(ctx, live.snapshot(s.now())); err != nil {
		s.logger.Error("не удалось сохранить состояние загрузки",
			zap.String("download_id", id),
			zap.Error(err),
		)
	}

	s.logger.Info("загрузка "+action,
		zap.String("download_id", id),
		zap.String("state", string(live.pipeline.State())),
	)
	return nil
}

func (s *downloadService) lookup(id string) *liveDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

// watch периодически сохраняет прогресс, чтобы запись не истекла по TTL,
// и фиксирует итог загрузки после завершения пайплайна.
func (s *downloadService) watch(id string, live *liveDownload) {
	interval := max(s.cfg.DownloadTTL/3, minHeartbeat)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.repo.SaveDownload(context.Background(), live.snapshot(s.now())); err != nil {
				s.logger.Warn("не удалось обновить прогресс загрузки",
					zap.String("download_id", id),
					zap.Error(err),
				)
			}
		case <-live.pipeline.Done():
			final := live.snapshot(s.now())
			if err := s.repo.SaveDownload(context.Background(), final); err != nil {
				s.logger.Error("не удалось сохранить итог загрузки",
					zap.String("download_id", id),
					zap.Error(err),
				)
			}

			s.mu.Lock()
			delete(s.live, id)
			s.mu.Unlock()

			s.logger.Info("загрузка завершена",
				zap.String("download_id", id),
				zap.String("state", string(final.State)),
				zap.Int("entries", final.WrittenEntries),
				zap.Int64("bytes", final.WrittenBytes),
			)
			return
		}
	}
}
