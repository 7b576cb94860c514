package models

import "time"

type TicketStatus string

const (
	TicketWaiting   TicketStatus = "waiting"
	TicketServing   TicketStatus = "serving"
	TicketServed    TicketStatus = "served"
	TicketCancelled TicketStatus = "cancelled"
)

// IsOpen reports whether the ticket is still moving through the queue.
func (s TicketStatus) IsOpen() bool {
	return s == TicketWaiting || s == TicketServing
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketWaiting: {TicketServing, TicketCancelled},
	TicketServing: {TicketServed},
}

// CanTransition reports whether the ledger allows moving a ticket from one status to another.
func CanTransition(from, to TicketStatus) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ticket records one join of a user into a queue. Closed tickets are history and never change.
type Ticket struct {
	ID          string       `json:"id" gorm:"primaryKey;size:36"`
	UserID      string       `json:"user_id" gorm:"size:36;not null;index:idx_ticket_user_queue"`
	QueueID     string       `json:"queue_id" gorm:"size:36;not null;index:idx_ticket_user_queue;index"`
	QueueName   string       `json:"queue_name" gorm:"not null"` // name captured at join time
	Token       string       `json:"token" gorm:"size:32;not null"`
	Status      TicketStatus `json:"status" gorm:"size:16;not null;index"`
	JoinedAt    time.Time    `json:"joined_at" gorm:"not null;index"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" gorm:"index"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
