package pipeline

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/models"
)

type ListChildrenFunc func(ctx context.Context, shareID, linkID string) ([]models.Link, error)

// Discoverer обходит дерево папки и складывает найденные элементы в очередь,
// не дожидаясь окончания обхода.
type Discoverer struct {
	list   ListChildrenFunc
	queue  *entryQueue
	logger *zap.Logger
}

func NewDiscoverer(list ListChildrenFunc, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		list:   list,
		queue:  newEntryQueue(),
		logger: logger,
	}
}

// Discover блокируется до конца обхода и возвращает суммарный размер файлов.
// Очередь закрывается в любом случае, уже найденные элементы остаются доступны.
func (d *Discoverer) Discover(ctx context.Context, shareID, linkID string) (int64, error) {
	total, err := d.walk(ctx, shareID, linkID, nil)
	d.queue.close(err)
	if err != nil {
		return 0, err
	}

	d.logger.Debug("обход папки завершен",
		zap.String("share_id", shareID),
		zap.String("link_id", linkID),
		zap.Int64("total_size", total),
	)
	return total, nil
}

// Next возвращает io.EOF, когда обход завершен и очередь пуста.
func (d *Discoverer) Next(ctx context.Context) (models.Entry, error) {
	return d.queue.pop(ctx)
}

func (d *Discoverer) walk(ctx context.Context, shareID, linkID string, parent []string) (int64, error) {
	if ctx.Err() != nil {
		return 0, cancelled(ctx)
	}

	children, err := d.list(ctx, shareID, linkID)
	if err != nil {
		if ctx.Err() != nil {
			return 0, cancelled(ctx)
		}
		return 0, fmt.Errorf("%w: %s: %w", ErrListingFailed, linkID, err)
	}

	entries := make([]models.Entry, 0, len(children))
	for _, child := range children {
		if !models.ValidName(child.Name) {
			return 0, fmt.Errorf("%w: %s: недопустимое имя элемента %q", ErrListingFailed, linkID, child.Name)
		}
		entries = append(entries, models.Entry{
			ShareID:    shareID,
			LinkID:     child.LinkID,
			Kind:       child.Kind,
			Name:       child.Name,
			ParentPath: parent,
			Size:       child.Size,
			MediaType:  child.MediaType,
		})
	}
	d.queue.push(entries...)

	var total int64
	for _, entry := range entries {
		if !entry.IsFolder() {
			total += entry.Size
			continue
		}

		size, err := d.walk(ctx, shareID, entry.LinkID, append(slices.Clip(parent), entry.Name))
		if err != nil {
			return 0, err
		}
		total += size
	}

	return total, nil
}
