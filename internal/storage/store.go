package storage

import (
	"context"
	"time"

	"github.com/mishalsheza/queue-ease/internal/models"
)

// Store is the durable collaborator behind the queue orchestrator.
//
// Atomic runs fn as one unit: reads observe earlier writes made through the
// same Repository, and if fn returns an error none of its writes persist.
// View runs fn against a consistent read-only snapshot.
type Store interface {
	Atomic(ctx context.Context, fn func(Repository) error) error
	View(ctx context.Context, fn func(Repository) error) error
}

type Repository interface {
	QueueRepository
	TicketLedger
	UserRepository
}

type QueueRepository interface {
	CreateQueue(q *models.Queue) error
	GetQueue(id string) (models.Queue, error)
	ListQueues() ([]models.Queue, error)
	// SaveQueue persists q if its Version still matches the stored one, then bumps q.Version.
	SaveQueue(q *models.Queue) error
	DeleteQueue(id string) error
}

// TicketLedger is the durable history of queue participation.
type TicketLedger interface {
	// OpenTicketFor returns the most recently joined waiting or serving ticket for the pair.
	OpenTicketFor(userID, queueID string) (models.Ticket, bool, error)
	CreateTicket(t *models.Ticket) error
	TransitionTicket(id string, to models.TicketStatus, at time.Time) (models.Ticket, error)
	ListTicketsByUser(userID string, statuses ...models.TicketStatus) ([]models.Ticket, error)
	ListRecentCompleted(filter CompletedFilter) ([]models.Ticket, error)
	ListTickets() ([]models.Ticket, error)
}

type UserRepository interface {
	CreateUser(u *models.User) error
	GetUser(id string) (models.User, error)
	GetUserByEmail(email string) (models.User, error)
	ListUsers() ([]models.User, error)
}

// CompletedFilter narrows ListRecentCompleted. Zero fields do not filter;
// an empty Statuses means served and cancelled.
type CompletedFilter struct {
	QueueID  string
	UserID   string
	Statuses []models.TicketStatus
	Since    time.Time
	Limit    int
}

func (f CompletedFilter) statuses() []models.TicketStatus {
	if len(f.Statuses) == 0 {
		return []models.TicketStatus{models.TicketServed, models.TicketCancelled}
	}
	return f.Statuses
}
