package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mishalsheza/queue-ease/internal/auth"
	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/response"
)

type QueueHandler struct {
	svc *queue.Service
	log *slog.Logger
}

func NewQueueHandler(svc *queue.Service, log *slog.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, log: log}
}

// Routes mounts the queue API on an authenticated group.
func (h *QueueHandler) Routes(g *gin.RouterGroup) {
	g.POST("", h.CreateQueue)
	g.GET("", h.ListQueues)
	g.GET("/my-status", h.MyStatus)
	g.GET("/my-history", h.MyHistory)
	g.GET("/admin/users-report", h.UsersReport)
	g.GET("/admin/completed-report", h.CompletedReport)
	g.GET("/:id", h.GetQueue)
	g.POST("/:id/join", h.JoinQueue)
	g.POST("/:id/leave", h.LeaveQueue)
	g.GET("/:id/position", h.Position)
	g.POST("/:id/call-next", h.CallNext)
	g.POST("/:id/serve", h.MarkServed)
	g.DELETE("/:id", h.DeleteQueue)
}

type CreateQueueRequest struct {
	Name                  string `json:"name" binding:"required" example:"Dr. Smith Clinic"`
	Type                  string `json:"type" example:"General Checkup"`
	Section               string `json:"section" example:"A"`
	AvgProcessTimeMinutes int    `json:"avg_process_time_minutes" binding:"min=0" example:"15"`
}

// CreateQueue godoc
// @Summary		Create a queue
// @Description	Opens an empty queue owned by the calling admin
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			queue	body		CreateQueueRequest		true	"Queue data"
// @Security		BearerAuth
// @Success		201		{object}	models.Queue
// @Failure		400		{object}	response.ErrorResponse	"VALIDATION_ERROR"
// @Failure		403		{object}	response.ErrorResponse	"FORBIDDEN"
// @Router			/api/queues [post]
func (h *QueueHandler) CreateQueue(c *gin.Context) {
	var req CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request data",
			Details: err.Error(),
		})
		return
	}

	q, err := h.svc.CreateQueue(c.Request.Context(), auth.ActorFrom(c), queue.CreateQueueInput{
		Name:                  req.Name,
		Type:                  req.Type,
		Section:               req.Section,
		AvgProcessTimeMinutes: req.AvgProcessTimeMinutes,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// ListQueues godoc
// @Summary		List queues
// @Tags			queue
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		models.Queue
// @Failure		401	{object}	response.ErrorResponse	"UNAUTHORIZED"
// @Router			/api/queues [get]
func (h *QueueHandler) ListQueues(c *gin.Context) {
	queues, err := h.svc.ListQueues(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, queues)
}

// GetQueue godoc
// @Summary		Get a queue
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	models.Queue
// @Failure		404	{object}	response.ErrorResponse	"NOT_FOUND"
// @Router			/api/queues/{id} [get]
func (h *QueueHandler) GetQueue(c *gin.Context) {
	q, err := h.svc.GetQueue(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// JoinQueue godoc
// @Summary		Join a queue
// @Description	Adds the caller to the back of the line; joining twice changes nothing
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	models.Queue
// @Failure		404	{object}	response.ErrorResponse	"NOT_FOUND"
// @Failure		409	{object}	response.ErrorResponse	"CONFLICT"
// @Router			/api/queues/{id}/join [post]
func (h *QueueHandler) JoinQueue(c *gin.Context) {
	q, err := h.svc.Join(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// LeaveQueue godoc
// @Summary		Leave a queue
// @Description	Removes the caller from the line and cancels their ticket; leaving a queue one is not in succeeds
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	models.Queue
// @Failure		404	{object}	response.ErrorResponse	"NOT_FOUND"
// @Router			/api/queues/{id}/leave [post]
func (h *QueueHandler) LeaveQueue(c *gin.Context) {
	q, err := h.svc.Leave(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// Position godoc
// @Summary		Caller's position
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	queue.PositionInfo
// @Failure		400	{object}	response.ErrorResponse	"NOT_IN_QUEUE"
// @Failure		404	{object}	response.ErrorResponse	"NOT_FOUND"
// @Router			/api/queues/{id}/position [get]
func (h *QueueHandler) Position(c *gin.Context) {
	pos, err := h.svc.Position(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

// CallNext godoc
// @Summary		Call the next user
// @Description	Completes whoever is at the counter and calls the front of the line
// @Tags			queue-admin
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	response.QueueActionResponse
// @Failure		400	{object}	response.ErrorResponse	"QUEUE_EMPTY"
// @Failure		403	{object}	response.ErrorResponse	"FORBIDDEN"
// @Router			/api/queues/{id}/call-next [post]
func (h *QueueHandler) CallNext(c *gin.Context) {
	q, err := h.svc.CallNext(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.QueueActionResponse{Message: "Next user called", Queue: q})
}

// MarkServed godoc
// @Summary		Complete the current user
// @Tags			queue-admin
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	response.QueueActionResponse
// @Failure		400	{object}	response.ErrorResponse	"NO_ONE_SERVING"
// @Failure		403	{object}	response.ErrorResponse	"FORBIDDEN"
// @Router			/api/queues/{id}/serve [post]
func (h *QueueHandler) MarkServed(c *gin.Context) {
	q, err := h.svc.MarkServed(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.QueueActionResponse{Message: "User marked as served", Queue: q})
}

// DeleteQueue godoc
// @Summary		Delete a queue
// @Description	Removes the queue; its tickets stay as history
// @Tags			queue-admin
// @Produce		json
// @Param			id	path		string	true	"Queue ID"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse
// @Failure		403	{object}	response.ErrorResponse	"FORBIDDEN"
// @Failure		404	{object}	response.ErrorResponse	"NOT_FOUND"
// @Router			/api/queues/{id} [delete]
func (h *QueueHandler) DeleteQueue(c *gin.Context) {
	if err := h.svc.DeleteQueue(c.Request.Context(), auth.ActorFrom(c), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Queue deleted"})
}
