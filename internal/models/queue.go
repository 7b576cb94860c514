package models

import "time"

const (
	DefaultQueueType             = "General Checkup"
	DefaultQueueSection          = "A"
	DefaultAvgProcessTimeMinutes = 15
)

// Queue is one service line. It is also the snapshot shape sent to callers
// and to websocket observers.
type Queue struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	AdminID               string         `json:"admin_id"`
	Type                  string         `json:"type"`
	Section               string         `json:"section"`
	WaitingList           []WaitingEntry `json:"waiting_list"`
	ServedCount           int            `json:"served_count"`
	AvgProcessTimeMinutes int            `json:"avg_process_time_minutes"`
	NowServing            *NowServing    `json:"now_serving"` // nil when the counter is free
	Version               int64          `json:"version"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// NowServing is the occupant of the single service slot.
type NowServing struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// Clone returns a deep copy, so callers may mutate it without touching shared state.
func (q Queue) Clone() Queue {
	out := q
	if q.WaitingList != nil {
		out.WaitingList = make([]WaitingEntry, len(q.WaitingList))
		copy(out.WaitingList, q.WaitingList)
	}
	if q.NowServing != nil {
		ns := *q.NowServing
		out.NowServing = &ns
	}
	return out
}
