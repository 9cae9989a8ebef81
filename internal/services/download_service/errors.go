package download_service

import "errors"

var (
	ErrContextDone = errors.New("отмена контекста")

	ErrServerBusy = errors.New("сервер занят, достигнуто максимальное количество активных загрузок")

	ErrInvalidRequest = errors.New("некорректный запрос: share_id и link_id обязательны")

	ErrDownloadNotFound = errors.New("загрузка не найдена")
	ErrDownloadFinished = errors.New("загрузка уже завершена")
	ErrDownloadSave     = errors.New("не удалось сохранить загрузку")
	ErrDownloadGet      = errors.New("не удалось получить загрузку")
	ErrDownloadStart    = errors.New("не удалось запустить загрузку")
)
