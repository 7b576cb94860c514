package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

type CreateQueueInput struct {
	Name                  string
	Type                  string
	Section               string
	AvgProcessTimeMinutes int
}

// CreateQueue opens a new, empty line owned by the calling admin.
func (s *Service) CreateQueue(ctx context.Context, actor Actor, in CreateQueueInput) (q models.Queue, err error) {
	ctx, span := s.startSpan(ctx, "queue.CreateQueue", actor, "")
	defer func() { endSpan(span, err) }()

	if err := actor.check(); err != nil {
		return models.Queue{}, err
	}
	if !actor.Role.IsAdmin() {
		return models.Queue{}, fmt.Errorf("%w: admin access only", ErrForbidden)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Queue{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.AvgProcessTimeMinutes < 0 {
		return models.Queue{}, fmt.Errorf("%w: avg_process_time_minutes must not be negative", ErrInvalidInput)
	}

	q = models.Queue{
		Name:                  name,
		AdminID:               actor.UserID,
		Type:                  strings.TrimSpace(in.Type),
		Section:               strings.TrimSpace(in.Section),
		AvgProcessTimeMinutes: in.AvgProcessTimeMinutes,
		WaitingList:           []models.WaitingEntry{},
	}
	if q.Type == "" {
		q.Type = models.DefaultQueueType
	}
	if q.Section == "" {
		q.Section = models.DefaultQueueSection
	}
	if q.AvgProcessTimeMinutes == 0 {
		q.AvgProcessTimeMinutes = models.DefaultAvgProcessTimeMinutes
	}

	if err := s.store.Atomic(ctx, func(r storage.Repository) error { return r.CreateQueue(&q) }); err != nil {
		return models.Queue{}, err
	}
	s.log.Info("queue created", "queue_id", q.ID, "name", q.Name, "admin_id", q.AdminID)
	s.publishSnapshot(q)
	return q, nil
}

// Join puts the caller at the back of the line and issues a waiting ticket.
// Joining a queue the caller is already in (waiting or being served) returns
// the current snapshot and changes nothing.
func (s *Service) Join(ctx context.Context, actor Actor, queueID string) (q models.Queue, err error) {
	ctx, span := s.startSpan(ctx, "queue.Join", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := actor.check(); err != nil {
		return models.Queue{}, err
	}

	var token string
	q, changed, err := s.mutate(ctx, queueID, func(r storage.Repository, q *models.Queue) (bool, error) {
		if _, open, err := r.OpenTicketFor(actor.UserID, q.ID); err != nil || open {
			return false, err
		}
		agg := NewAggregate(q)
		now := s.now()
		if _, added := agg.Append(actor.UserID, now); !added {
			return false, nil
		}
		// position-derived: a later leave ahead of this user does not renumber it
		token = FormatToken(TokenPrefix(q.Name), agg.Len())
		ticket := models.Ticket{
			UserID:    actor.UserID,
			QueueID:   q.ID,
			QueueName: q.Name,
			Token:     token,
			Status:    models.TicketWaiting,
			JoinedAt:  now,
		}
		return true, r.CreateTicket(&ticket)
	})
	if err != nil {
		return models.Queue{}, err
	}
	if changed {
		s.log.Info("user joined queue", "queue_id", q.ID, "user_id", actor.UserID, "token", token)
		s.publishSnapshot(q)
	}
	return q, nil
}

// Leave takes the caller out of the waiting list and cancels their waiting
// ticket. Leaving a queue one is not in is not an error.
func (s *Service) Leave(ctx context.Context, actor Actor, queueID string) (q models.Queue, err error) {
	ctx, span := s.startSpan(ctx, "queue.Leave", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := actor.check(); err != nil {
		return models.Queue{}, err
	}

	q, changed, err := s.mutate(ctx, queueID, func(r storage.Repository, q *models.Queue) (bool, error) {
		removed := NewAggregate(q).RemoveByUser(actor.UserID)
		ticket, open, err := r.OpenTicketFor(actor.UserID, q.ID)
		if err != nil {
			return false, err
		}
		if open && ticket.Status == models.TicketWaiting {
			if _, err := r.TransitionTicket(ticket.ID, models.TicketCancelled, s.now()); err != nil {
				return false, err
			}
		}
		return removed, nil
	})
	if err != nil {
		return models.Queue{}, err
	}
	if changed {
		s.log.Info("user left queue", "queue_id", q.ID, "user_id", actor.UserID)
		s.publishSnapshot(q)
	}
	return q, nil
}

// CallNext completes whoever is at the counter and calls the front of the line.
func (s *Service) CallNext(ctx context.Context, actor Actor, queueID string) (q models.Queue, err error) {
	ctx, span := s.startSpan(ctx, "queue.CallNext", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := s.checkOperator(actor); err != nil {
		return models.Queue{}, err
	}

	var (
		called   models.NowServing
		finished string
	)
	q, _, err = s.mutate(ctx, queueID, func(r storage.Repository, q *models.Queue) (bool, error) {
		if !actor.canOperate(*q) {
			return false, fmt.Errorf("%w: queue %s is not yours to operate", ErrForbidden, q.ID)
		}
		agg := NewAggregate(q)
		if agg.Len() == 0 {
			return false, ErrQueueEmpty
		}
		now := s.now()

		if prev := q.NowServing; prev != nil {
			if err := s.closeServing(r, q.ID, prev.UserID); err != nil {
				return false, err
			}
			q.ServedCount++
			finished = prev.UserID
		}

		next, _ := agg.DequeueFront()
		ticket, open, err := r.OpenTicketFor(next.UserID, q.ID)
		if err != nil {
			return false, err
		}
		reuse := open && ticket.Status == models.TicketWaiting
		token := FormatToken(TokenPrefix(q.Name), q.ServedCount+1)
		if reuse {
			token = ticket.Token
		} else {
			s.log.Warn("no waiting ticket for called user", "queue_id", q.ID, "user_id", next.UserID, "token", token)
		}
		agg.SetNowServing(next.UserID, token, now)
		if reuse {
			if _, err := r.TransitionTicket(ticket.ID, models.TicketServing, now); err != nil {
				return false, err
			}
		}
		called = *q.NowServing
		return true, nil
	})
	if err != nil {
		return models.Queue{}, err
	}
	s.log.Info("next user called", "queue_id", q.ID, "user_id", called.UserID, "token", called.Token,
		"completed_user_id", finished, "served_count", q.ServedCount)
	s.publishSnapshot(q)
	return q, nil
}

// MarkServed completes the user at the counter and frees the serving slot.
func (s *Service) MarkServed(ctx context.Context, actor Actor, queueID string) (q models.Queue, err error) {
	ctx, span := s.startSpan(ctx, "queue.MarkServed", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := s.checkOperator(actor); err != nil {
		return models.Queue{}, err
	}

	var served *models.NowServing
	q, _, err = s.mutate(ctx, queueID, func(r storage.Repository, q *models.Queue) (bool, error) {
		if !actor.canOperate(*q) {
			return false, fmt.Errorf("%w: queue %s is not yours to operate", ErrForbidden, q.ID)
		}
		if q.NowServing == nil {
			return false, ErrNoOneServing
		}
		if err := s.closeServing(r, q.ID, q.NowServing.UserID); err != nil {
			return false, err
		}
		q.ServedCount++
		served = NewAggregate(q).ClearNowServing()
		return true, nil
	})
	if err != nil {
		return models.Queue{}, err
	}
	s.log.Info("user served", "queue_id", q.ID, "user_id", served.UserID, "token", served.Token, "served_count", q.ServedCount)
	s.publishSnapshot(q)
	return q, nil
}

// closeServing moves the user's serving ticket to served. A missing ticket is
// tolerated; the serving slot is still authoritative.
func (s *Service) closeServing(r storage.Repository, queueID, userID string) error {
	ticket, open, err := r.OpenTicketFor(userID, queueID)
	if err != nil {
		return err
	}
	if !open || ticket.Status != models.TicketServing {
		s.log.Warn("no serving ticket for completed user", "queue_id", queueID, "user_id", userID)
		return nil
	}
	_, err = r.TransitionTicket(ticket.ID, models.TicketServed, s.now())
	return err
}

// DeleteQueue removes a queue. Its tickets stay in the ledger as history.
func (s *Service) DeleteQueue(ctx context.Context, actor Actor, queueID string) (err error) {
	ctx, span := s.startSpan(ctx, "queue.DeleteQueue", actor, queueID)
	defer func() { endSpan(span, err) }()

	if err := s.checkOperator(actor); err != nil {
		return err
	}

	if err := s.deleteLocked(ctx, actor, queueID); err != nil {
		return err
	}
	s.log.Info("queue removed", "queue_id", queueID, "user_id", actor.UserID)
	s.pub.Publish(Event{Type: EventQueueRemoved, QueueID: queueID})
	return nil
}

func (s *Service) deleteLocked(ctx context.Context, actor Actor, queueID string) error {
	release, err := s.lock(ctx, queueID)
	if err != nil {
		return err
	}
	defer release()

	return s.store.Atomic(ctx, func(r storage.Repository) error {
		q, err := r.GetQueue(queueID)
		if err != nil {
			return err
		}
		if !actor.canOperate(q) {
			return fmt.Errorf("%w: queue %s is not yours to delete", ErrForbidden, q.ID)
		}
		return r.DeleteQueue(queueID)
	})
}

// ResetServedCounts zeroes the served counter of every queue, one queue at a
// time under its own lock. It returns how many queues were reset.
func (s *Service) ResetServedCounts(ctx context.Context) (n int, err error) {
	ctx, span := s.startSpan(ctx, "queue.ResetServedCounts", Actor{}, "")
	defer func() { endSpan(span, err) }()

	var ids []string
	err = s.view(ctx, func(r storage.Repository) error {
		queues, err := r.ListQueues()
		for _, q := range queues {
			ids = append(ids, q.ID)
		}
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		q, changed, err := s.mutate(ctx, id, func(_ storage.Repository, q *models.Queue) (bool, error) {
			if q.ServedCount == 0 {
				return false, nil
			}
			q.ServedCount = 0
			return true, nil
		})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return n, err
		}
		if changed {
			n++
			s.publishSnapshot(q)
		}
	}
	if n > 0 {
		s.log.Info("served counters reset", "queues", n)
	}
	return n, nil
}

func (s *Service) checkOperator(actor Actor) error {
	if err := actor.check(); err != nil {
		return err
	}
	if !actor.Role.IsAdmin() {
		return fmt.Errorf("%w: admin access only", ErrForbidden)
	}
	return nil
}
