package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/response"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

type Handler struct {
	store  storage.Store
	issuer *Issuer
	log    *slog.Logger
	cost   int
}

func NewHandler(store storage.Store, issuer *Issuer, log *slog.Logger) *Handler {
	return &Handler{store: store, issuer: issuer, log: log, cost: bcrypt.DefaultCost}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required" example:"Jane Doe"`
	Email    string `json:"email" binding:"required,email" example:"jane@example.com"`
	Password string `json:"password" binding:"required,min=6" example:"secret123"`
	Role     string `json:"role" binding:"omitempty,oneof=user admin" example:"user"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.ErrorResponse{
		Code:    "VALIDATION_ERROR",
		Message: "Invalid request data",
		Details: err.Error(),
	})
}

// @Summary		Register
// @Description	Creates a user or queue operator account
// @Tags			auth
// @Accept			json
// @Produce		json
// @Param			user	body		RegisterRequest				true	"Account data"
// @Success		201		{object}	response.SuccessResponse	"Registered"
// @Failure		400		{object}	response.ErrorResponse		"VALIDATION_ERROR or EMAIL_EXISTS"
// @Failure		500		{object}	response.ErrorResponse		"PASSWORD_HASH_ERROR or DB_ERROR"
// @Router			/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "PASSWORD_HASH_ERROR",
			Message: "Could not hash password",
		})
		return
	}

	user := models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if req.Role != "" {
		user.Role = models.Role(req.Role)
	}

	err = h.store.Atomic(c.Request.Context(), func(r storage.Repository) error { return r.CreateUser(&user) })
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "EMAIL_EXISTS",
			Message: "A user with this email already exists",
		})
		return
	case err != nil:
		h.log.Error("create user", "email", user.Email, "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Could not create user",
		})
		return
	}

	h.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	c.JSON(http.StatusCreated, response.SuccessResponse{Message: "User registered"})
}

// @Summary		Login
// @Description	Exchanges credentials for a token pair
// @Tags			auth
// @Accept			json
// @Produce		json
// @Param			user	body		LoginRequest			true	"Credentials"
// @Success		200		{object}	response.TokenResponse	"Logged in"
// @Failure		400		{object}	response.ErrorResponse	"VALIDATION_ERROR"
// @Failure		401		{object}	response.ErrorResponse	"INVALID_CREDENTIALS"
// @Failure		500		{object}	response.ErrorResponse	"TOKEN_GENERATION_ERROR"
// @Router			/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	var user models.User
	err := h.store.View(c.Request.Context(), func(r storage.Repository) error {
		var err error
		user, err = r.GetUserByEmail(strings.TrimSpace(req.Email))
		return err
	})
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "INVALID_CREDENTIALS",
			Message: "Invalid email or password",
		})
		return
	}

	h.issue(c, user)
}

// @Summary		Refresh tokens
// @Description	Issues a new token pair from a refresh token
// @Tags			auth
// @Accept			json
// @Produce		json
// @Param			refresh_token	body		RefreshTokenRequest		true	"Refresh token"
// @Success		200				{object}	response.TokenResponse	"Refreshed"
// @Failure		400				{object}	response.ErrorResponse	"VALIDATION_ERROR"
// @Failure		401				{object}	response.ErrorResponse	"INVALID_REFRESH_TOKEN or USER_NOT_FOUND"
// @Failure		500				{object}	response.ErrorResponse	"TOKEN_GENERATION_ERROR"
// @Router			/auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	userID, err := h.issuer.ParseRefresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "INVALID_REFRESH_TOKEN",
			Message: "Invalid or expired refresh token",
		})
		return
	}

	var user models.User
	err = h.store.View(c.Request.Context(), func(r storage.Repository) error {
		var err error
		user, err = r.GetUser(userID)
		return err
	})
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{
			Code:    "USER_NOT_FOUND",
			Message: "User not found",
		})
		return
	}

	h.issue(c, user)
}

func (h *Handler) issue(c *gin.Context, user models.User) {
	pair, err := h.issuer.Issue(user)
	if err != nil {
		h.log.Error("issue tokens", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "TOKEN_GENERATION_ERROR",
			Message: "Could not issue tokens",
		})
		return
	}
	c.JSON(http.StatusOK, response.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}
