package inmem

import (
	"errors"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
)

var (
	ErrDownloadNotFound = infra.ErrDownloadNotFound
	ErrDownloadNil      = errors.New("загрузка не может быть nil")
	ErrDownloadIDEmpty  = errors.New("ID загрузки не может быть пустым")
	ErrContextDone      = errors.New("отмена контекста")
)
