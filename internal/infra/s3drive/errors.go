package s3drive

import "errors"

var (
	ErrInvalidPath   = errors.New("некорректный путь")
	ErrLinkNotFound  = errors.New("элемент не найден")
	ErrRequestFailed = errors.New("ошибка запроса к S3")
)
