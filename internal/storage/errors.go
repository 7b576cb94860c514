package storage

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrReadOnly          = errors.New("write in read-only view")
)
