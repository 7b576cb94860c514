package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

const (
	DefaultCompletedLimit = 20
	MaxCompletedLimit     = 100
)

type PositionInfo struct {
	QueueID    string `json:"queue_id"`
	QueueName  string `json:"queue_name"`
	Position   int    `json:"position"` // 1-based
	TotalUsers int    `json:"total_users"`
}

// StatusEntry is one line of a user's personal status board.
type StatusEntry struct {
	QueueID              string              `json:"queue_id"`
	QueueName            string              `json:"queue_name"`
	Position             int                 `json:"position"` // 0 while serving, -1 for completed tickets
	Status               models.TicketStatus `json:"status"`
	TotalInQueue         int                 `json:"total_in_queue"`
	Token                string              `json:"token"`
	EstimatedWaitMinutes int                 `json:"estimated_wait_minutes"`
	CurrentlyServing     string              `json:"currently_serving,omitempty"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
}

// ReportRow is a ticket enriched with its user and live position.
type ReportRow struct {
	TicketID    string              `json:"id"`
	UserID      string              `json:"user_id"`
	Name        string              `json:"name"`
	Email       string              `json:"email,omitempty"`
	Token       string              `json:"token"`
	QueueID     string              `json:"queue_id"`
	QueueName   string              `json:"queue_name"`
	Status      models.TicketStatus `json:"status"`
	JoinedAt    time.Time           `json:"joined_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Position    int                 `json:"position"` // -1 unless waiting
	WaitMinutes int                 `json:"wait_minutes"`
}

func (s *Service) GetQueue(ctx context.Context, actor Actor, queueID string) (models.Queue, error) {
	if err := actor.check(); err != nil {
		return models.Queue{}, err
	}
	var q models.Queue
	err := s.view(ctx, func(r storage.Repository) error {
		var err error
		q, err = r.GetQueue(queueID)
		return err
	})
	return q, err
}

func (s *Service) ListQueues(ctx context.Context, actor Actor) ([]models.Queue, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	var out []models.Queue
	err := s.view(ctx, func(r storage.Repository) error {
		var err error
		out, err = r.ListQueues()
		return err
	})
	return out, err
}

// Position reports where the caller stands in the waiting list. The user at
// the counter is not in the waiting list and gets ErrNotInQueue.
func (s *Service) Position(ctx context.Context, actor Actor, queueID string) (info PositionInfo, err error) {
	ctx, span := s.startSpan(ctx, "queue.Position", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := actor.check(); err != nil {
		return PositionInfo{}, err
	}
	err = s.view(ctx, func(r storage.Repository) error {
		q, err := r.GetQueue(queueID)
		if err != nil {
			return err
		}
		idx, ok := NewAggregate(&q).PositionOf(actor.UserID)
		if !ok {
			return ErrNotInQueue
		}
		info = PositionInfo{QueueID: q.ID, QueueName: q.Name, Position: idx + 1, TotalUsers: len(q.WaitingList)}
		return nil
	})
	return info, err
}

// MyStatus lists the queues the caller is waiting in or being served at,
// followed by tickets they completed within the recent window.
func (s *Service) MyStatus(ctx context.Context, actor Actor) ([]StatusEntry, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	out := []StatusEntry{}
	err := s.view(ctx, func(r storage.Repository) error {
		queues, err := r.ListQueues()
		if err != nil {
			return err
		}
		for _, q := range queues {
			entry, ok, err := s.statusIn(r, q, actor.UserID)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, entry)
			}
		}

		recent, err := r.ListRecentCompleted(storage.CompletedFilter{
			UserID: actor.UserID,
			Since:  s.now().Add(-s.recentWindow),
		})
		if err != nil {
			return err
		}
		for _, t := range recent {
			out = append(out, StatusEntry{
				QueueID:          t.QueueID,
				QueueName:        t.QueueName,
				Position:         -1,
				Status:           t.Status,
				Token:            t.Token,
				CurrentlyServing: t.Token,
				CompletedAt:      t.CompletedAt,
			})
		}
		return nil
	})
	return out, err
}

func (s *Service) statusIn(r storage.Repository, q models.Queue, userID string) (StatusEntry, bool, error) {
	agg := NewAggregate(&q)
	entry := StatusEntry{QueueID: q.ID, QueueName: q.Name, TotalInQueue: agg.Len()}
	if q.NowServing != nil {
		entry.CurrentlyServing = q.NowServing.Token
	}

	if agg.IsServing(userID) {
		entry.Status = models.TicketServing
		entry.Token = q.NowServing.Token
		return entry, true, nil
	}
	idx, ok := agg.PositionOf(userID)
	if !ok {
		return StatusEntry{}, false, nil
	}
	entry.Status = models.TicketWaiting
	entry.Position = idx + 1
	entry.EstimatedWaitMinutes = idx * q.AvgProcessTimeMinutes

	ticket, open, err := r.OpenTicketFor(userID, q.ID)
	if err != nil {
		return StatusEntry{}, false, err
	}
	if open {
		entry.Token = ticket.Token
	} else {
		entry.Token = FormatToken(TokenPrefix(q.Name), idx+1)
	}
	return entry, true, nil
}

// MyHistory returns the caller's closed tickets, newest first.
func (s *Service) MyHistory(ctx context.Context, actor Actor) ([]models.Ticket, error) {
	if err := actor.check(); err != nil {
		return nil, err
	}
	var out []models.Ticket
	err := s.view(ctx, func(r storage.Repository) error {
		var err error
		out, err = r.ListTicketsByUser(actor.UserID, models.TicketServed, models.TicketCancelled)
		return err
	})
	if out == nil {
		out = []models.Ticket{}
	}
	return out, err
}

// UsersReport lists every ticket with its user and, for waiting tickets, the
// live position and wait estimate.
func (s *Service) UsersReport(ctx context.Context, actor Actor) ([]ReportRow, error) {
	if err := s.checkOperator(actor); err != nil {
		return nil, err
	}
	out := []ReportRow{}
	err := s.view(ctx, func(r storage.Repository) error {
		tickets, err := r.ListTickets()
		if err != nil {
			return err
		}
		queues, err := r.ListQueues()
		if err != nil {
			return err
		}
		users, err := r.ListUsers()
		if err != nil {
			return err
		}
		byQueue := make(map[string]models.Queue, len(queues))
		for _, q := range queues {
			byQueue[q.ID] = q
		}
		byUser := make(map[string]models.User, len(users))
		for _, u := range users {
			byUser[u.ID] = u
		}

		for _, t := range tickets {
			row := reportRow(t, byUser)
			if q, ok := byQueue[t.QueueID]; ok && t.Status == models.TicketWaiting {
				if idx, found := NewAggregate(&q).PositionOf(t.UserID); found {
					row.Position = idx + 1
					row.WaitMinutes = idx * q.AvgProcessTimeMinutes
				}
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

// CompletedReport lists served tickets, most recently completed first,
// optionally for a single queue.
func (s *Service) CompletedReport(ctx context.Context, actor Actor, queueID string, limit int) ([]ReportRow, error) {
	if err := s.checkOperator(actor); err != nil {
		return nil, err
	}
	switch {
	case limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	case limit == 0:
		limit = DefaultCompletedLimit
	case limit > MaxCompletedLimit:
		limit = MaxCompletedLimit
	}

	out := []ReportRow{}
	err := s.view(ctx, func(r storage.Repository) error {
		tickets, err := r.ListRecentCompleted(storage.CompletedFilter{
			QueueID:  queueID,
			Statuses: []models.TicketStatus{models.TicketServed},
			Limit:    limit,
		})
		if err != nil {
			return err
		}
		users, err := r.ListUsers()
		if err != nil {
			return err
		}
		byUser := make(map[string]models.User, len(users))
		for _, u := range users {
			byUser[u.ID] = u
		}
		for _, t := range tickets {
			out = append(out, reportRow(t, byUser))
		}
		return nil
	})
	return out, err
}

func reportRow(t models.Ticket, users map[string]models.User) ReportRow {
	row := ReportRow{
		TicketID:    t.ID,
		UserID:      t.UserID,
		Name:        "Unknown",
		Token:       t.Token,
		QueueID:     t.QueueID,
		QueueName:   t.QueueName,
		Status:      t.Status,
		JoinedAt:    t.JoinedAt,
		CompletedAt: t.CompletedAt,
		Position:    -1,
	}
	if u, ok := users[t.UserID]; ok {
		row.Name = u.Name
		row.Email = u.Email
	}
	return row
}
