package entrypoint

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/api"
	"github.com/sunr3d/folderzip/internal/config"
	"github.com/sunr3d/folderzip/internal/infra/fsdrive"
	"github.com/sunr3d/folderzip/internal/infra/httpdrive"
	"github.com/sunr3d/folderzip/internal/infra/inmem"
	"github.com/sunr3d/folderzip/internal/infra/redisdb"
	"github.com/sunr3d/folderzip/internal/infra/s3drive"
	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/internal/interfaces/services"
	"github.com/sunr3d/folderzip/internal/middleware"
	"github.com/sunr3d/folderzip/internal/server"
	"github.com/sunr3d/folderzip/internal/services/download_service"
)

const redisKeyPrefix = "folderzip"

// Run поднимает HTTP сервис и блокируется до его остановки.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	svc, closeFn, err := NewService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	controller := api.New(svc, log)
	router := NewRouter(controller, log)

	srv := server.New(cfg.HTTPPort, router, log,
		server.WithReadTimeout(cfg.HTTPReadTimeout),
		server.WithWriteTimeout(cfg.HTTPWriteTimeout),
	)
	return srv.Start(ctx)
}

// NewService собирает сервис загрузок с выбранными хранилищем и реестром.
// Возвращаемая функция закрывает соединения реестра.
func NewService(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.DownloadService, func(), error) {
	drive, err := NewDrive(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	db, closeFn, err := NewRegistry(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	return download_service.New(log, cfg, db, drive), closeFn, nil
}

func NewDrive(ctx context.Context, cfg *config.Config, log *zap.Logger) (infra.Drive, error) {
	switch cfg.DriveBackend {
	case config.DriveBackendHTTP:
		drive, err := httpdrive.New(cfg.DriveURL, cfg.DrivePageSize, cfg.DriveTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать клиента хранилища: %w", err)
		}
		log.Info("используется удаленное хранилище", zap.String("url", cfg.DriveURL))
		return drive, nil
	case config.DriveBackendS3:
		drive, err := s3drive.New(ctx, s3drive.Options{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3PathStyle,
			PageSize:       cfg.DrivePageSize,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать клиента хранилища: %w", err)
		}
		log.Info("используется хранилище S3", zap.String("endpoint", cfg.S3Endpoint))
		return drive, nil
	case config.DriveBackendFS:
		log.Info("используется файловое хранилище", zap.String("root", cfg.DriveRoot))
		return fsdrive.New(cfg.DriveRoot, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriveBackend, cfg.DriveBackend)
	}
}

func NewRegistry(ctx context.Context, cfg *config.Config, log *zap.Logger) (infra.Database, func(), error) {
	switch cfg.RegistryBackend {
	case config.RegistryBackendRedis:
		cl, err := redisdb.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("реестр загрузок в Redis", zap.String("addr", cl.Options().Addr))

		closeFn := func() {
			if err := cl.Close(); err != nil {
				log.Warn("не удалось закрыть соединение с Redis", zap.Error(err))
			}
		}
		return redisdb.New(cl, log, cfg.DownloadTTL, redisKeyPrefix), closeFn, nil
	case config.RegistryBackendInmem:
		return inmem.New(log, cfg.DownloadTTL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidRegistryBackend, cfg.RegistryBackend)
	}
}

func NewRouter(controller *api.DownloadAPI, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /download", controller.Download)
	mux.HandleFunc("GET /download/status", controller.GetDownloadStatus)
	mux.HandleFunc("POST /download/pause", controller.Pause)
	mux.HandleFunc("POST /download/resume", controller.Resume)
	mux.HandleFunc("POST /download/cancel", controller.Cancel)

	router := http.Handler(mux)
	router = middleware.JSONValidator()(router)
	router = middleware.ReqLogger(log)(router)
	router = middleware.Recovery(log)(router)
	return router
}
