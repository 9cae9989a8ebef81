package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sunr3d/folderzip/models"
)

type Callbacks struct {
	ListChildren ListChildrenFunc
	FetchContent FetchContentFunc

	OnInit     func(totalSize int64)
	OnProgress func(bytes int64)
	OnEntry    func(entry models.Entry)
	OnFinish   func()
}

type Option func(*Pipeline)

func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithCompression(method uint16) Option {
	return func(p *Pipeline) {
		p.method = method
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline собирает архив папки: обход дерева, загрузка файлов и запись zip
// идут одновременно, а архив отдается вызывающему потоком.
type Pipeline struct {
	shareID     string
	linkID      string
	cb          Callbacks
	concurrency int
	method      uint16
	logger      *zap.Logger

	fetcher *Fetcher

	mu      sync.Mutex
	state   models.PipelineState
	started bool
	cancel  context.CancelCauseFunc
	err     error
	done    chan struct{}
}

func New(shareID, linkID string, cb Callbacks, opts ...Option) *Pipeline {
	p := &Pipeline{
		shareID:     shareID,
		linkID:      linkID,
		cb:          cb,
		concurrency: DefaultConcurrency,
		method:      zip.Store,
		logger:      zap.NewNop(),
		state:       models.PipelineStateIdle,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(
		zap.String("share_id", shareID),
		zap.String("link_id", linkID),
	)
	p.fetcher = NewFetcher(cb.FetchContent, p.concurrency, p.logger)
	return p
}

// Start возвращает поток архива сразу, не дожидаясь обхода дерева.
// Повторный вызов возвращает ErrAlreadyStarted.
func (p *Pipeline) Start(ctx context.Context) (io.ReadCloser, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	p.started = true

	pr, pw := io.Pipe()

	if p.state == models.PipelineStateCancelled {
		p.err = ErrTransferCancelled
		p.mu.Unlock()

		pw.CloseWithError(ErrTransferCancelled)
		close(p.done)
		return pr, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	p.cancel = cancel
	p.state = models.PipelineStateRunning
	p.mu.Unlock()

	p.logger.Info("загрузка папки запущена", zap.Int("concurrency", p.concurrency))

	// запись в pipe не видит контекст, поэтому поток закрывается при отмене
	stop := context.AfterFunc(ctx, func() {
		pw.CloseWithError(normalize(context.Cause(ctx)))
	})

	go func() {
		err := p.run(ctx, pw)
		if !stop() && err == nil {
			// отмена успела закрыть поток уже после сборки архива
			err = cancelled(ctx)
		}
		p.finish(ctx, err, pw)
	}()

	return pr, nil
}

func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PipelineStateRunning {
		return
	}
	p.state = models.PipelineStatePaused
	p.fetcher.Pause()
	p.logger.Info("загрузка приостановлена")
}

func (p *Pipeline) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PipelineStatePaused {
		return
	}
	p.state = models.PipelineStateRunning
	p.fetcher.Resume()
	p.logger.Info("загрузка возобновлена")
}

func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Terminal() {
		return
	}
	p.state = models.PipelineStateCancelled
	if p.cancel != nil {
		p.cancel(ErrTransferCancelled)
	}
}

func (p *Pipeline) State() models.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done закрывается после завершения загрузки в любом конечном состоянии.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) run(ctx context.Context, pw *io.PipeWriter) error {
	discoverer := NewDiscoverer(p.cb.ListChildren, p.logger)
	archive := NewArchiveWriter(pw, p.method, p.cb.OnProgress, p.logger)
	archive.onEntry = p.cb.OnEntry
	pairs := make(chan Pair)

	fail := func(err error) error {
		if err != nil {
			p.cancel(err)
		}
		return err
	}

	var eg errgroup.Group
	eg.Go(func() error {
		total, err := discoverer.Discover(ctx, p.shareID, p.linkID)
		if err != nil {
			return fail(err)
		}
		p.logger.Info("размер папки определен", zap.Int64("total_size", total))
		if p.cb.OnInit != nil {
			p.cb.OnInit(total)
		}
		return nil
	})
	eg.Go(func() error {
		return fail(p.fetcher.Run(ctx, discoverer, pairs))
	})
	eg.Go(func() error {
		return fail(archive.WriteAll(ctx, pairs))
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	return fail(archive.Close())
}

func (p *Pipeline) finish(ctx context.Context, err error, pw *io.PipeWriter) {
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
		err = normalize(err)
	}

	p.mu.Lock()
	switch {
	case err == nil:
		p.state = models.PipelineStateDone
	case IsCancelled(err):
		p.state = models.PipelineStateCancelled
	default:
		p.state = models.PipelineStateFailed
	}
	p.err = err
	p.mu.Unlock()

	pw.CloseWithError(err)
	p.cancel(nil)

	switch {
	case err == nil:
		p.logger.Info("архив папки сформирован")
		if p.cb.OnFinish != nil {
			p.cb.OnFinish()
		}
	case IsCancelled(err):
		p.logger.Info("загрузка папки отменена", zap.Error(err))
	default:
		p.logger.Error("загрузка папки завершилась ошибкой", zap.Error(err))
	}

	close(p.done)
}

// normalize сводит отмену внешнего контекста к ErrTransferCancelled.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrListingFailed, ErrFetchFailed, ErrArchiveWriteFailed, ErrTransferCancelled} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrTransferCancelled, err)
}
