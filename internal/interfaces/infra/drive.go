package infra

import (
	"context"
	"io"

	"github.com/sunr3d/folderzip/models"
)

// Drive отдает содержимое папок и файлов общего доступа.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=Drive --output=../../../mocks
type Drive interface {
	ListChildren(ctx context.Context, shareID, linkID string) ([]models.Link, error)
	FetchContent(ctx context.Context, shareID, linkID string) (io.ReadCloser, error)
}
