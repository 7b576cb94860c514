package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mishalsheza/queue-ease/internal/auth"
	"github.com/mishalsheza/queue-ease/internal/response"
)

// MyStatus godoc
// @Summary		Caller's queues
// @Description	Queues the caller is waiting in or being served at, then tickets completed in the last few minutes
// @Tags			profile
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		queue.StatusEntry
// @Failure		401	{object}	response.ErrorResponse	"UNAUTHORIZED"
// @Router			/api/queues/my-status [get]
func (h *QueueHandler) MyStatus(c *gin.Context) {
	status, err := h.svc.MyStatus(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// MyHistory godoc
// @Summary		Caller's finished tickets
// @Tags			profile
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		models.Ticket
// @Failure		401	{object}	response.ErrorResponse	"UNAUTHORIZED"
// @Router			/api/queues/my-history [get]
func (h *QueueHandler) MyHistory(c *gin.Context) {
	history, err := h.svc.MyHistory(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// UsersReport godoc
// @Summary		All tickets with live positions
// @Tags			queue-admin
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		queue.ReportRow
// @Failure		403	{object}	response.ErrorResponse	"FORBIDDEN"
// @Router			/api/queues/admin/users-report [get]
func (h *QueueHandler) UsersReport(c *gin.Context) {
	rows, err := h.svc.UsersReport(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// CompletedReport godoc
// @Summary		Recently served tickets
// @Tags			queue-admin
// @Produce		json
// @Param			queue_id	query		string	false	"Only this queue"
// @Param			limit		query		int		false	"Maximum rows (default 20, at most 100)"
// @Security		BearerAuth
// @Success		200	{array}		queue.ReportRow
// @Failure		400	{object}	response.ErrorResponse	"VALIDATION_ERROR"
// @Failure		403	{object}	response.ErrorResponse	"FORBIDDEN"
// @Router			/api/queues/admin/completed-report [get]
func (h *QueueHandler) CompletedReport(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "limit must be a number",
				Details: err.Error(),
			})
			return
		}
		limit = n
	}

	rows, err := h.svc.CompletedReport(c.Request.Context(), auth.ActorFrom(c), c.Query("queue_id"), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
