package fsdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/models"
)

const mimeTypeUnknown = "application/octet-stream"

var _ infra.Drive = (*fsDrive)(nil)

// fsDrive отдает дерево каталогов как хранилище: share - каталог первого
// уровня под root, linkID - путь внутри него через "/". Пустой linkID или
// "." означает корень share.
type fsDrive struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

func New(root string, log *zap.Logger) infra.Drive {
	return NewWithFS(afero.NewOsFs(), root, log)
}

func NewWithFS(fsys afero.Fs, root string, log *zap.Logger) infra.Drive {
	return &fsDrive{
		fs:     fsys,
		root:   root,
		logger: log,
	}
}

func (d *fsDrive) ListChildren(ctx context.Context, shareID, linkID string) ([]models.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, linkPath, err := d.resolve(shareID, linkID)
	if err != nil {
		return nil, err
	}

	info, err := d.fs.Stat(dir)
	if err != nil {
		return nil, d.notFound(err, shareID, linkID)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotAFolder, shareID, linkID)
	}

	entries, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать каталог %s: %w", dir, err)
	}

	links := make([]models.Link, 0, len(entries))
	for _, entry := range entries {
		link := models.Link{
			LinkID: path.Join(linkPath, entry.Name()),
			Name:   entry.Name(),
			Kind:   models.LinkKindFile,
		}
		if entry.IsDir() {
			link.Kind = models.LinkKindFolder
		} else {
			link.Size = entry.Size()
			link.MediaType = d.mimeType(filepath.Join(dir, entry.Name()))
		}
		links = append(links, link)
	}

	d.logger.Debug("каталог прочитан",
		zap.String("share_id", shareID),
		zap.String("link_id", linkID),
		zap.Int("children", len(links)),
	)
	return links, nil
}

func (d *fsDrive) FetchContent(ctx context.Context, shareID, linkID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, _, err := d.resolve(shareID, linkID)
	if err != nil {
		return nil, err
	}

	f, err := d.fs.Open(name)
	if err != nil {
		return nil, d.notFound(err, shareID, linkID)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("не удалось получить сведения о файле %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s/%s", ErrNotAFile, shareID, linkID)
	}
	return f, nil
}

// resolve возвращает путь в файловой системе и нормализованный linkID.
func (d *fsDrive) resolve(shareID, linkID string) (string, string, error) {
	if shareID == "" || shareID == "." || shareID == ".." || strings.ContainsAny(shareID, `/\`) {
		return "", "", fmt.Errorf("%w: share %q", ErrInvalidPath, shareID)
	}

	linkPath := path.Clean("/" + strings.TrimSpace(linkID))
	if strings.Contains(linkID, "..") {
		return "", "", fmt.Errorf("%w: link %q", ErrInvalidPath, linkID)
	}
	linkPath = strings.TrimPrefix(linkPath, "/")

	return filepath.Join(d.root, shareID, filepath.FromSlash(linkPath)), linkPath, nil
}

func (d *fsDrive) notFound(err error, shareID, linkID string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrLinkNotFound, shareID, linkID)
	}
	return fmt.Errorf("не удалось открыть %s/%s: %w", shareID, linkID, err)
}

func (d *fsDrive) mimeType(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			return mimeType
		}
	}

	f, err := d.fs.Open(name)
	if err != nil {
		return mimeTypeUnknown
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return mimeTypeUnknown
	}
	return mt.String()
}
