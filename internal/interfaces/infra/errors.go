package infra

import "errors"

// ErrDownloadNotFound возвращают все реализации Database для неизвестного ID.
var ErrDownloadNotFound = errors.New("загрузка не найдена")
