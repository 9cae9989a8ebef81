package infra

import (
	"context"

	"github.com/sunr3d/folderzip/models"
)

// Database хранит записи о загрузках папок.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=Database --output=../../../mocks
type Database interface {
	SaveDownload(ctx context.Context, download *models.Download) error
	GetDownload(ctx context.Context, id string) (*models.Download, error)
	CountActiveDownloads(ctx context.Context) (int, error)
	DeleteDownload(ctx context.Context, id string) error
}
