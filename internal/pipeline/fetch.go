package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sunr3d/folderzip/models"
)

const DefaultConcurrency = 3

type FetchContentFunc func(ctx context.Context, shareID, linkID string) (io.ReadCloser, error)

type EntrySource interface {
	Next(ctx context.Context) (models.Entry, error)
}

// Pair - элемент с его содержимым. Для папок Content == nil.
type Pair struct {
	Entry   models.Entry
	Content io.ReadCloser
}

func (p Pair) close() {
	if p.Content != nil {
		p.Content.Close()
	}
}

type fetchResult struct {
	index int
	pair  Pair
}

// Fetcher держит не более limit открытых загрузок и отдает результаты
// в порядке поступления элементов, а не в порядке завершения загрузок.
type Fetcher struct {
	fetch  FetchContentFunc
	limit  int
	gate   pauseGate
	logger *zap.Logger
}

func NewFetcher(fetch FetchContentFunc, limit int, logger *zap.Logger) *Fetcher {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	return &Fetcher{
		fetch:  fetch,
		limit:  limit,
		logger: logger,
	}
}

func (f *Fetcher) Pause() {
	f.gate.pause()
}

func (f *Fetcher) Resume() {
	f.gate.resume()
}

// Run закрывает out при выходе. Слот загрузки освобождается, когда
// потребитель закрывает Content.
func (f *Fetcher) Run(ctx context.Context, src EntrySource, out chan<- Pair) error {
	defer close(out)

	// runCtx отменяется только при ошибке: после успешного Run потребитель
	// еще читает последние выданные потоки
	runCtx, abort := context.WithCancelCause(ctx)
	fail := func(err error) error {
		if err != nil {
			abort(err)
		}
		return err
	}

	slots := semaphore.NewWeighted(int64(f.limit))
	results := make(chan fetchResult, f.limit)

	var eg errgroup.Group
	eg.Go(func() error {
		var fetches sync.WaitGroup
		defer func() {
			fetches.Wait()
			close(results)
		}()
		return fail(f.dispatch(runCtx, &eg, &fetches, src, slots, results, fail))
	})
	eg.Go(func() error {
		return fail(f.deliver(runCtx, results, out))
	})

	err := eg.Wait()
	for res := range results {
		res.pair.close()
	}
	if err != nil && ctx.Err() == nil {
		// первая ошибка, а не отмена, вызванная ею у соседей
		err = context.Cause(runCtx)
	}
	return err
}

func (f *Fetcher) dispatch(
	ctx context.Context,
	eg *errgroup.Group,
	fetches *sync.WaitGroup,
	src EntrySource,
	slots *semaphore.Weighted,
	results chan<- fetchResult,
	fail func(error) error,
) error {
	for index := 0; ; index++ {
		if err := f.gate.wait(ctx); err != nil {
			return err
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			return cancelled(ctx)
		}

		entry, err := src.Next(ctx)
		if err != nil {
			slots.Release(1)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if entry.IsFolder() {
			slots.Release(1)
			select {
			case results <- fetchResult{index: index, pair: Pair{Entry: entry}}:
			case <-ctx.Done():
				return cancelled(ctx)
			}
			continue
		}

		// пауза могла наступить, пока ждали слот или следующий элемент
		if err := f.gate.wait(ctx); err != nil {
			slots.Release(1)
			return err
		}

		fetches.Add(1)
		eg.Go(func() error {
			defer fetches.Done()
			return fail(f.fetchOne(ctx, index, entry, slots, results))
		})
	}
}

func (f *Fetcher) fetchOne(
	ctx context.Context,
	index int,
	entry models.Entry,
	slots *semaphore.Weighted,
	results chan<- fetchResult,
) error {
	content, err := f.fetch(ctx, entry.ShareID, entry.LinkID)
	if err != nil {
		slots.Release(1)
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		f.logger.Error("не удалось загрузить файл",
			zap.String("link_id", entry.LinkID),
			zap.String("path", entry.ArchivePath()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, entry.ArchivePath(), err)
	}

	pair := Pair{
		Entry:   entry,
		Content: &slotReader{ReadCloser: content, release: func() { slots.Release(1) }},
	}

	select {
	case results <- fetchResult{index: index, pair: pair}:
		return nil
	case <-ctx.Done():
		pair.close()
		return cancelled(ctx)
	}
}

func (f *Fetcher) deliver(ctx context.Context, results <-chan fetchResult, out chan<- Pair) error {
	next := 0
	pending := make(map[int]Pair, f.limit)
	defer func() {
		for _, pair := range pending {
			pair.close()
		}
	}()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return nil
			}
			pending[res.index] = res.pair

			for {
				pair, ok := pending[next]
				if !ok {
					break
				}
				if err := f.send(ctx, pair, out); err != nil {
					return err
				}
				delete(pending, next)
				next++
			}
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}
}

type slotReader struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (r *slotReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.ReadCloser.Close()
		r.release()
	})
	return err
}

// send отдает пару потребителю. Пауза, наступившая во время ожидания,
// прерывает отправку до Resume.
func (f *Fetcher) send(ctx context.Context, pair Pair, out chan<- Pair) error {
	for {
		if err := f.gate.wait(ctx); err != nil {
			return err
		}

		paused := f.gate.pausedCh()
		select {
		case <-paused:
			continue
		default:
		}

		select {
		case out <- pair:
			return nil
		case <-paused:
		case <-ctx.Done():
			return cancelled(ctx)
		}
	}
}
