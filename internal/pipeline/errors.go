package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrListingFailed      = errors.New("не удалось получить содержимое папки")
	ErrFetchFailed        = errors.New("не удалось загрузить файл")
	ErrTransferCancelled  = errors.New("загрузка отменена")
	ErrArchiveWriteFailed = errors.New("не удалось записать архив")

	ErrAlreadyStarted = errors.New("загрузка уже запущена")
)

// cancelled приводит отмену контекста к ErrTransferCancelled, сохраняя причину.
func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ErrTransferCancelled) {
		return ErrTransferCancelled
	}
	return fmt.Errorf("%w: %w", ErrTransferCancelled, cause)
}

// IsCancelled отличает отмену пользователем от реальной ошибки.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrTransferCancelled) &&
		!errors.Is(err, ErrListingFailed) &&
		!errors.Is(err, ErrFetchFailed) &&
		!errors.Is(err, ErrArchiveWriteFailed)
}
