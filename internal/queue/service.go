package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

const (
	DefaultLockTimeout  = 5 * time.Second
	DefaultRecentWindow = 10 * time.Minute
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   models.Role
}

func (a Actor) check() error {
	if a.UserID == "" {
		return ErrUnauthorized
	}
	return nil
}

// canOperate reports whether a may run counter operations on q:
// platform admins on any queue, admins on the queues they own.
func (a Actor) canOperate(q models.Queue) bool {
	switch a.Role {
	case models.RolePlatformAdmin:
		return true
	case models.RoleAdmin:
		return q.AdminID == a.UserID
	}
	return false
}

type EventType string

const (
	EventQueueUpdated EventType = "queue_updated"
	EventQueueRemoved EventType = "queue_removed"
)

// Event is what observers of a queue receive after a committed change.
//
// Events are published after the queue lock is released, so two events for
// the same queue can arrive out of order. Every committed change raises
// Queue.Version; observers keep the snapshot with the highest version and
// drop any that is not newer. queue_removed is final for its queue.
type Event struct {
	Type    EventType     `json:"event_type"`
	QueueID string        `json:"queue_id"`
	Queue   *models.Queue `json:"data,omitempty"`
}

// Publisher fans events out to observers. It is called after the queue lock
// is released and must not wait on observers.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

type Options struct {
	Publisher    Publisher
	Logger       *slog.Logger
	LockTimeout  time.Duration
	RecentWindow time.Duration
	Now          func() time.Time
}

// Service sequences every queue-mutating operation. Mutations on one queue run
// one at a time under that queue's lock; different queues never wait on each other.
type Service struct {
	store        storage.Store
	locks        *LockRegistry
	pub          Publisher
	log          *slog.Logger
	tracer       trace.Tracer
	lockTimeout  time.Duration
	recentWindow time.Duration
	now          func() time.Time
}

func NewService(store storage.Store, opts Options) *Service {
	s := &Service{
		store:        store,
		locks:        NewLockRegistry(),
		pub:          opts.Publisher,
		log:          opts.Logger,
		tracer:       otel.Tracer("github.com/mishalsheza/queue-ease/internal/queue"),
		lockTimeout:  opts.LockTimeout,
		recentWindow: opts.RecentWindow,
		now:          opts.Now,
	}
	if s.pub == nil {
		s.pub = nopPublisher{}
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = DefaultLockTimeout
	}
	if s.recentWindow <= 0 {
		s.recentWindow = DefaultRecentWindow
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, actor Actor, queueID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("user.id", actor.UserID)}
	if queueID != "" {
		attrs = append(attrs, attribute.String("queue.id", queueID))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// lock takes the per-queue lock, waiting at most lockTimeout.
func (s *Service) lock(ctx context.Context, queueID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, queueID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: queue %s is busy", ErrConflict, queueID)
	}
	return release, nil
}

// mutateFunc changes q in place and reports whether q needs saving.
type mutateFunc func(r storage.Repository, q *models.Queue) (bool, error)

// mutate runs fn against the current state of one queue under its lock, in a
// single store unit. Any error leaves both the queue and the ledger untouched.
// The returned snapshot is the committed state.
func (s *Service) mutate(ctx context.Context, queueID string, fn mutateFunc) (models.Queue, bool, error) {
	release, err := s.lock(ctx, queueID)
	if err != nil {
		return models.Queue{}, false, err
	}
	defer release()

	var (
		snapshot models.Queue
		changed  bool
	)
	err = s.store.Atomic(ctx, func(r storage.Repository) error {
		q, err := r.GetQueue(queueID)
		if err != nil {
			return err
		}
		changed, err = fn(r, &q)
		if err != nil {
			return err
		}
		if changed {
			if err := r.SaveQueue(&q); err != nil {
				return err
			}
		}
		snapshot = q.Clone()
		return nil
	})
	if err != nil {
		return models.Queue{}, false, err
	}
	return snapshot, changed, nil
}

func (s *Service) publishSnapshot(q models.Queue) {
	snap := q.Clone()
	s.pub.Publish(Event{Type: EventQueueUpdated, QueueID: q.ID, Queue: &snap})
}

func (s *Service) view(ctx context.Context, fn func(r storage.Repository) error) error {
	return s.store.View(ctx, fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
