package response

import "github.com/mishalsheza/queue-ease/internal/models"

// SuccessResponse is a plain acknowledgement.
type SuccessResponse struct {
	Message string `json:"message" example:"Queue deleted"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	// Stable code callers can branch on
	// example: QUEUE_EMPTY
	Code string `json:"code"`

	// Human readable message
	// example: Queue is empty
	Message string `json:"message"`

	// Optional extra detail
	// example: name is required
	Details string `json:"details,omitempty"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	// Short-lived JWT for the API
	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	AccessToken string `json:"access_token"`

	// Long-lived JWT used to obtain a new access token
	// example: eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9...
	RefreshToken string `json:"refresh_token"`
}

// QueueActionResponse answers counter operations (call-next, serve).
type QueueActionResponse struct {
	Message string       `json:"message" example:"Next user called"`
	Queue   models.Queue `json:"queue"`
}
