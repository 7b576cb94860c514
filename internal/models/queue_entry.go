package models

import "time"

// WaitingEntry is one user in a queue's waiting list. List order is queue order.
type WaitingEntry struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
