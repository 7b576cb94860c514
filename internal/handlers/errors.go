package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/response"
)

type errorKind struct {
	target  error
	status  int
	code    string
	message string
}

var errorKinds = []errorKind{
	{queue.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization required"},
	{queue.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Not allowed for this account"},
	{queue.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Queue not found"},
	{queue.ErrNotInQueue, http.StatusBadRequest, "NOT_IN_QUEUE", "User not in queue"},
	{queue.ErrQueueEmpty, http.StatusBadRequest, "QUEUE_EMPTY", "Queue is empty"},
	{queue.ErrNoOneServing, http.StatusBadRequest, "NO_ONE_SERVING", "No user is currently being served"},
	{queue.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", "Ticket cannot move to that status"},
	{queue.ErrConflict, http.StatusConflict, "CONFLICT", "Queue was changed concurrently, retry"},
	{queue.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request data"},
}

// writeError answers with the status and stable code of err's kind.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			c.JSON(k.status, response.ErrorResponse{Code: k.code, Message: k.message, Details: err.Error()})
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{Code: "TIMEOUT", Message: "Request timed out"})
		return
	}
	log.Error("queue operation failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, response.ErrorResponse{Code: "INTERNAL_ERROR", Message: "Internal server error"})
}
