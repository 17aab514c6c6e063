package storage

import "errors"

var (
	ErrInvalidKey    = errors.New("invalid history key")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageInit   = errors.New("storage initialization failed")
	ErrFileOperation = errors.New("file operation failed")
)
