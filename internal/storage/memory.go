package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mishalsheza/queue-ease/internal/models"
)

// MemoryStore keeps everything in process. Writes made inside Atomic are
// staged and only become visible to others when fn succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	queues  map[string]models.Queue
	tickets map[string]memTicket
	users   map[string]models.User
	seq     atomic.Int64
	now     func() time.Time
}

type memTicket struct {
	models.Ticket
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:  make(map[string]models.Queue),
		tickets: make(map[string]memTicket),
		users:   make(map[string]models.User),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) View(ctx context.Context, fn func(Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newMemTx(s, true))
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, expected := range tx.expect {
		base, ok := s.queues[id]
		switch {
		case expected < 0 && ok:
			return fmt.Errorf("%w: queue %s", ErrDuplicate, id)
		case expected >= 0 && (!ok || base.Version != expected):
			return fmt.Errorf("%w: queue %s", ErrConflict, id)
		}
	}
	for _, u := range tx.users {
		for _, existing := range s.users {
			if existing.ID != u.ID && strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
			}
		}
	}

	for id, q := range tx.queues {
		if q == nil {
			delete(s.queues, id)
			continue
		}
		s.queues[id] = q.Clone()
	}
	for id, t := range tx.tickets {
		s.tickets[id] = t
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	return nil
}

// memTx is a Repository over a MemoryStore. In a View the store read lock is
// already held, so base reads must not lock again.
type memTx struct {
	s        *MemoryStore
	readOnly bool

	queues  map[string]*models.Queue // nil value = deleted
	expect  map[string]int64         // base version seen when first staged, -1 = must not exist
	tickets map[string]memTicket
	users   map[string]models.User
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		s:        s,
		readOnly: readOnly,
		queues:   make(map[string]*models.Queue),
		expect:   make(map[string]int64),
		tickets:  make(map[string]memTicket),
		users:    make(map[string]models.User),
	}
}

func (tx *memTx) read(fn func()) {
	if tx.readOnly {
		fn()
		return
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	fn()
}

func (tx *memTx) lookupQueue(id string) (models.Queue, bool) {
	if staged, ok := tx.queues[id]; ok {
		if staged == nil {
			return models.Queue{}, false
		}
		return staged.Clone(), true
	}
	var (
		q  models.Queue
		ok bool
	)
	tx.read(func() { q, ok = tx.s.queues[id] })
	return q.Clone(), ok
}

func (tx *memTx) stage(id string, q *models.Queue) {
	if _, seen := tx.expect[id]; !seen {
		expected := int64(-1)
		tx.read(func() {
			if base, ok := tx.s.queues[id]; ok {
				expected = base.Version
			}
		})
		tx.expect[id] = expected
	}
	tx.queues[id] = q
}

func (tx *memTx) CreateQueue(q *models.Queue) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if _, exists := tx.lookupQueue(q.ID); exists {
		return fmt.Errorf("%w: queue %s", ErrDuplicate, q.ID)
	}
	now := tx.s.now()
	q.CreatedAt, q.UpdatedAt = now, now
	if q.WaitingList == nil {
		q.WaitingList = []models.WaitingEntry{}
	}
	staged := q.Clone()
	tx.stage(q.ID, &staged)
	return nil
}

func (tx *memTx) GetQueue(id string) (models.Queue, error) {
	q, ok := tx.lookupQueue(id)
	if !ok {
		return models.Queue{}, fmt.Errorf("%w: queue %s", ErrNotFound, id)
	}
	return q, nil
}

func (tx *memTx) ListQueues() ([]models.Queue, error) {
	seen := make(map[string]bool)
	var out []models.Queue
	for id, q := range tx.queues {
		seen[id] = true
		if q != nil {
			out = append(out, q.Clone())
		}
	}
	tx.read(func() {
		for id, q := range tx.s.queues {
			if !seen[id] {
				out = append(out, q.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (tx *memTx) SaveQueue(q *models.Queue) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	current, ok := tx.lookupQueue(q.ID)
	if !ok {
		return fmt.Errorf("%w: queue %s", ErrNotFound, q.ID)
	}
	if current.Version != q.Version {
		return fmt.Errorf("%w: queue %s at version %d, have %d", ErrConflict, q.ID, current.Version, q.Version)
	}
	q.Version++
	q.UpdatedAt = tx.s.now()
	staged := q.Clone()
	tx.stage(q.ID, &staged)
	return nil
}

func (tx *memTx) DeleteQueue(id string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if _, ok := tx.lookupQueue(id); !ok {
		return fmt.Errorf("%w: queue %s", ErrNotFound, id)
	}
	tx.stage(id, nil)
	return nil
}

func (tx *memTx) allTickets() []memTicket {
	out := make([]memTicket, 0, len(tx.tickets))
	for _, t := range tx.tickets {
		out = append(out, t)
	}
	tx.read(func() {
		for id, t := range tx.s.tickets {
			if _, staged := tx.tickets[id]; !staged {
				out = append(out, t)
			}
		}
	})
	return out
}

func (tx *memTx) lookupTicket(id string) (memTicket, bool) {
	if t, ok := tx.tickets[id]; ok {
		return t, true
	}
	var (
		t  memTicket
		ok bool
	)
	tx.read(func() { t, ok = tx.s.tickets[id] })
	return t, ok
}

func (tx *memTx) OpenTicketFor(userID, queueID string) (models.Ticket, bool, error) {
	var (
		best  memTicket
		found bool
	)
	for _, t := range tx.allTickets() {
		if t.UserID != userID || t.QueueID != queueID || !t.Status.IsOpen() {
			continue
		}
		if !found || joinedAfter(t, best) {
			best, found = t, true
		}
	}
	return best.Ticket, found, nil
}

func (tx *memTx) CreateTicket(t *models.Ticket) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := tx.s.now()
	if t.JoinedAt.IsZero() {
		t.JoinedAt = now
	}
	if t.Status == "" {
		t.Status = models.TicketWaiting
	}
	t.CreatedAt, t.UpdatedAt = now, now
	tx.tickets[t.ID] = memTicket{Ticket: *t, seq: tx.s.seq.Add(1)}
	return nil
}

func (tx *memTx) TransitionTicket(id string, to models.TicketStatus, at time.Time) (models.Ticket, error) {
	if tx.readOnly {
		return models.Ticket{}, ErrReadOnly
	}
	t, ok := tx.lookupTicket(id)
	if !ok {
		return models.Ticket{}, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
	}
	if !models.CanTransition(t.Status, to) {
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	if !to.IsOpen() {
		completed := at
		t.CompletedAt = &completed
	}
	t.UpdatedAt = tx.s.now()
	tx.tickets[id] = t
	return t.Ticket, nil
}

func (tx *memTx) ListTicketsByUser(userID string, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	var matched []memTicket
	for _, t := range tx.allTickets() {
		if t.UserID == userID && hasStatus(statuses, t.Status) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return joinedAfter(matched[i], matched[j]) })
	return unwrapTickets(matched), nil
}

func (tx *memTx) ListRecentCompleted(filter CompletedFilter) ([]models.Ticket, error) {
	statuses := filter.statuses()
	var matched []memTicket
	for _, t := range tx.allTickets() {
		if t.CompletedAt == nil || !hasStatus(statuses, t.Status) {
			continue
		}
		if filter.QueueID != "" && t.QueueID != filter.QueueID {
			continue
		}
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if !filter.Since.IsZero() && t.CompletedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CompletedAt.Equal(*b.CompletedAt) {
			return a.seq > b.seq
		}
		return a.CompletedAt.After(*b.CompletedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return unwrapTickets(matched), nil
}

func (tx *memTx) ListTickets() ([]models.Ticket, error) {
	all := tx.allTickets()
	sort.Slice(all, func(i, j int) bool { return joinedAfter(all[i], all[j]) })
	return unwrapTickets(all), nil
}

func (tx *memTx) CreateUser(u *models.User) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if _, err := tx.GetUserByEmail(u.Email); err == nil {
		return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	now := tx.s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	tx.users[u.ID] = *u
	return nil
}

func (tx *memTx) GetUser(id string) (models.User, error) {
	if u, ok := tx.users[id]; ok {
		return u, nil
	}
	var (
		u  models.User
		ok bool
	)
	tx.read(func() { u, ok = tx.s.users[id] })
	if !ok {
		return models.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (tx *memTx) GetUserByEmail(email string) (models.User, error) {
	users, _ := tx.ListUsers()
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (tx *memTx) ListUsers() ([]models.User, error) {
	out := make([]models.User, 0, len(tx.users))
	for _, u := range tx.users {
		out = append(out, u)
	}
	tx.read(func() {
		for id, u := range tx.s.users {
			if _, staged := tx.users[id]; !staged {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func joinedAfter(a, b memTicket) bool {
	if a.JoinedAt.Equal(b.JoinedAt) {
		return a.seq > b.seq
	}
	return a.JoinedAt.After(b.JoinedAt)
}

func hasStatus(statuses []models.TicketStatus, s models.TicketStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

func unwrapTickets(in []memTicket) []models.Ticket {
	out := make([]models.Ticket, len(in))
	for i, t := range in {
		out[i] = t.Ticket
	}
	return out
}
