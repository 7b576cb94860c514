package queue

import (
	"errors"

	"github.com/mishalsheza/queue-ease/internal/storage"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotInQueue   = errors.New("user not in queue")
	ErrQueueEmpty   = errors.New("queue is empty")
	ErrNoOneServing = errors.New("no user is currently being served")
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound          = storage.ErrNotFound
	ErrConflict          = storage.ErrConflict
	ErrInvalidTransition = storage.ErrInvalidTransition
)
