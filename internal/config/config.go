package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sunr3d/folderzip/internal/pipeline"
)

const (
	DriveBackendFS   = "fs"
	DriveBackendHTTP = "http"
	DriveBackendS3   = "s3"

	RegistryBackendInmem = "inmem"
	RegistryBackendRedis = "redis"
)

type Config struct {
	HTTPPort         string        `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"0s"`

	DriveBackend  string        `envconfig:"DRIVE_BACKEND" default:"fs"`
	DriveRoot     string        `envconfig:"DRIVE_ROOT" default:"./data"`
	DriveURL      string        `envconfig:"DRIVE_URL"`
	DriveTimeout  time.Duration `envconfig:"DRIVE_TIMEOUT" default:"30s"`
	DrivePageSize int           `envconfig:"DRIVE_PAGE_SIZE" default:"150"`

	S3Region    string `envconfig:"S3_REGION"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3PathStyle bool   `envconfig:"S3_PATH_STYLE" default:"false"`

	FetchConcurrency   int           `envconfig:"FETCH_CONCURRENCY" default:"3"`
	Compression        string        `envconfig:"COMPRESSION" default:"store"`
	MaxActiveDownloads int           `envconfig:"MAX_ACTIVE_DOWNLOADS" default:"3"`
	DownloadTTL        time.Duration `envconfig:"DOWNLOAD_TTL" default:"1h"`

	RegistryBackend string `envconfig:"REGISTRY_BACKEND" default:"inmem"`
	RedisURL        string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
}

var (
	ErrInvalidDriveBackend    = errors.New("неизвестный тип хранилища")
	ErrInvalidRegistryBackend = errors.New("неизвестный тип реестра загрузок")
	ErrInvalidValue           = errors.New("некорректное значение параметра")
)

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.DriveBackend = strings.ToLower(strings.TrimSpace(c.DriveBackend))
	c.RegistryBackend = strings.ToLower(strings.TrimSpace(c.RegistryBackend))

	switch c.DriveBackend {
	case DriveBackendFS:
		if c.DriveRoot == "" {
			return fmt.Errorf("%w: DRIVE_ROOT не задан", ErrInvalidValue)
		}
	case DriveBackendHTTP:
		if c.DriveURL == "" {
			return fmt.Errorf("%w: DRIVE_URL не задан", ErrInvalidValue)
		}
	case DriveBackendS3:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriveBackend, c.DriveBackend)
	}

	switch c.RegistryBackend {
	case RegistryBackendInmem:
	case RegistryBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL не задан", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRegistryBackend, c.RegistryBackend)
	}

	if _, err := pipeline.CompressionMethod(c.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	if c.FetchConcurrency < 1 {
		return fmt.Errorf("%w: FETCH_CONCURRENCY=%d", ErrInvalidValue, c.FetchConcurrency)
	}
	if c.MaxActiveDownloads < 1 {
		return fmt.Errorf("%w: MAX_ACTIVE_DOWNLOADS=%d", ErrInvalidValue, c.MaxActiveDownloads)
	}
	if c.DrivePageSize < 1 {
		return fmt.Errorf("%w: DRIVE_PAGE_SIZE=%d", ErrInvalidValue, c.DrivePageSize)
	}
	return nil
}
