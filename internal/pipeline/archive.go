package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/models"
)

const (
	CompressionStore   = "store"
	CompressionDeflate = "deflate"
)

func CompressionMethod(name string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CompressionStore:
		return zip.Store, nil
	case CompressionDeflate:
		return zip.Deflate, nil
	default:
		return 0, fmt.Errorf("неизвестный метод сжатия: %q", name)
	}
}

// ArchiveWriter пишет элементы в zip строго по одному: содержимое файла
// вычитывается полностью до начала следующего элемента.
type ArchiveWriter struct {
	sink       *sinkWriter
	zw         *zip.Writer
	method     uint16
	modified   time.Time
	onProgress func(int64)
	onEntry    func(models.Entry)
	logger     *zap.Logger

	entries int
	written int64
}

func NewArchiveWriter(w io.Writer, method uint16, onProgress func(int64), logger *zap.Logger) *ArchiveWriter {
	sink := &sinkWriter{w: w}
	return &ArchiveWriter{
		sink:       sink,
		zw:         zip.NewWriter(sink),
		method:     method,
		modified:   time.Now(),
		onProgress: onProgress,
		logger:     logger,
	}
}

func (a *ArchiveWriter) WriteAll(ctx context.Context, pairs <-chan Pair) error {
	for {
		select {
		case pair, ok := <-pairs:
			if !ok {
				return nil
			}
			if err := a.writePair(ctx, pair); err != nil {
				return err
			}
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}
}

// Close дописывает центральный каталог архива.
func (a *ArchiveWriter) Close() error {
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	a.logger.Debug("архив сформирован",
		zap.Int("entries", a.entries),
		zap.Int64("bytes", a.written),
	)
	return nil
}

func (a *ArchiveWriter) Entries() int {
	return a.entries
}

func (a *ArchiveWriter) writePair(ctx context.Context, pair Pair) error {
	defer pair.close()

	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	header := &zip.FileHeader{
		Name:     pair.Entry.ArchivePath(),
		Modified: a.modified,
	}
	if pair.Entry.IsFolder() {
		header.Method = zip.Store
		header.SetMode(fs.ModeDir | 0o755)
	} else {
		header.Method = a.method
		header.SetMode(0o644)
	}

	w, err := a.zw.CreateHeader(header)
	if err != nil {
		return a.writeErr(ctx, err)
	}

	if pair.Content != nil {
		_, err := io.Copy(&progressWriter{w: w, a: a}, &ctxReader{ctx: ctx, r: pair.Content})
		if err != nil {
			if a.sink.err != nil {
				return a.writeErr(ctx, a.sink.err)
			}
			if ctx.Err() != nil {
				return cancelled(ctx)
			}
			return fmt.Errorf("%w: %s: %w", ErrFetchFailed, header.Name, err)
		}
	}

	a.entries++
	if a.onEntry != nil {
		a.onEntry(pair.Entry)
	}
	return nil
}

func (a *ArchiveWriter) writeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
}

// sinkWriter запоминает ошибку записи, чтобы отличить ее от ошибки чтения.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

type progressWriter struct {
	w io.Writer
	a *ArchiveWriter
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.a.written += int64(n)
	if n > 0 && p.a.onProgress != nil {
		p.a.onProgress(int64(n))
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if r.ctx.Err() != nil {
		return 0, r.ctx.Err()
	}
	return r.r.Read(p)
}
