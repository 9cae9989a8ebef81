package services

import (
	"context"
	"io"

	"github.com/sunr3d/folderzip/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=DownloadService --output=../../../mocks
type DownloadService interface {
	Start(ctx context.Context, shareID, linkID string) (*models.Download, io.ReadCloser, error)

	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	GetDownload(ctx context.Context, id string) (*models.Download, error)
}
