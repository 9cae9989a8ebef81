package fsdrive

import "errors"

var (
	ErrInvalidPath  = errors.New("некорректный путь")
	ErrLinkNotFound = errors.New("элемент не найден")
	ErrNotAFolder   = errors.New("элемент не является папкой")
	ErrNotAFile     = errors.New("элемент не является файлом")
)
