package httpdrive

import "errors"

var (
	ErrInvalidURL       = errors.New("некорректный URL хранилища")
	ErrRequestFailed    = errors.New("запрос к хранилищу не выполнен")
	ErrUnexpectedStatus = errors.New("неожиданный HTTP статус хранилища")
	ErrDecodeFailed     = errors.New("не удалось разобрать ответ хранилища")
)
