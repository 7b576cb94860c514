package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mishalsheza/queue-ease/internal/models"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("queue round trip keeps order and serving slot", func(t *testing.T) {
		s := newStore(t)
		q := models.Queue{Name: "Dr. Smith Clinic", AdminID: uuid.NewString(), Type: "General Checkup", Section: "A", AvgProcessTimeMinutes: 15}
		require.NoError(t, s.Atomic(ctx, func(r Repository) error { return r.CreateQueue(&q) }))
		require.NotEmpty(t, q.ID)

		u1, u2 := uuid.NewString(), uuid.NewString()
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			got, err := r.GetQueue(q.ID)
			if err != nil {
				return err
			}
			got.WaitingList = append(got.WaitingList,
				models.WaitingEntry{UserID: u1, JoinedAt: now},
				models.WaitingEntry{UserID: u2, JoinedAt: now.Add(time.Second)})
			got.NowServing = &models.NowServing{UserID: uuid.NewString(), Token: "D-0", StartedAt: now}
			return r.SaveQueue(&got)
		}))

		var loaded models.Queue
		require.NoError(t, s.View(ctx, func(r Repository) error {
			var err error
			loaded, err = r.GetQueue(q.ID)
			return err
		}))
		require.Len(t, loaded.WaitingList, 2)
		assert.Equal(t, u1, loaded.WaitingList[0].UserID)
		assert.Equal(t, u2, loaded.WaitingList[1].UserID)
		require.NotNil(t, loaded.NowServing)
		assert.Equal(t, "D-0", loaded.NowServing.Token)
		assert.Equal(t, int64(1), loaded.Version)
	})

	t.Run("failed unit discards writes", func(t *testing.T) {
		s := newStore(t)
		q := models.Queue{Name: "Lab", AdminID: uuid.NewString(), Type: "t", Section: "s"}
		require.NoError(t, s.Atomic(ctx, func(r Repository) error { return r.CreateQueue(&q) }))

		boom := errors.New("boom")
		err := s.Atomic(ctx, func(r Repository) error {
			got, err := r.GetQueue(q.ID)
			if err != nil {
				return err
			}
			got.ServedCount = 99
			if err := r.SaveQueue(&got); err != nil {
				return err
			}
			if err := r.CreateTicket(&models.Ticket{UserID: uuid.NewString(), QueueID: q.ID, QueueName: q.Name, Token: "L-1"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, s.View(ctx, func(r Repository) error {
			got, err := r.GetQueue(q.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.ServedCount)
			tickets, err := r.ListTickets()
			require.NoError(t, err)
			for _, tk := range tickets {
				assert.NotEqual(t, q.ID, tk.QueueID)
			}
			return nil
		}))
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		s := newStore(t)
		q := models.Queue{Name: "Desk", AdminID: uuid.NewString(), Type: "t", Section: "s"}
		require.NoError(t, s.Atomic(ctx, func(r Repository) error { return r.CreateQueue(&q) }))

		stale := q
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			fresh := q
			return r.SaveQueue(&fresh)
		}))
		err := s.Atomic(ctx, func(r Repository) error { return r.SaveQueue(&stale) })
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("ledger transitions and open ticket lookup", func(t *testing.T) {
		s := newStore(t)
		userID, queueID := uuid.NewString(), uuid.NewString()
		var first, second models.Ticket
		base := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			first = models.Ticket{UserID: userID, QueueID: queueID, QueueName: "Q", Token: "Q-1", JoinedAt: base}
			if err := r.CreateTicket(&first); err != nil {
				return err
			}
			second = models.Ticket{UserID: userID, QueueID: queueID, QueueName: "Q", Token: "Q-2", JoinedAt: base.Add(time.Minute)}
			return r.CreateTicket(&second)
		}))

		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			open, ok, err := r.OpenTicketFor(userID, queueID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.ID, open.ID)

			_, err = r.TransitionTicket(second.ID, models.TicketServed, base)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			serving, err := r.TransitionTicket(second.ID, models.TicketServing, base)
			require.NoError(t, err)
			assert.Nil(t, serving.CompletedAt)

			done := base.Add(2 * time.Minute)
			served, err := r.TransitionTicket(second.ID, models.TicketServed, done)
			require.NoError(t, err)
			require.NotNil(t, served.CompletedAt)
			assert.True(t, served.CompletedAt.Equal(done))

			_, err = r.TransitionTicket(uuid.NewString(), models.TicketServing, base)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))

		require.NoError(t, s.View(ctx, func(r Repository) error {
			open, ok, err := r.OpenTicketFor(userID, queueID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first.ID, open.ID)

			closed, err := r.ListTicketsByUser(userID, models.TicketServed, models.TicketCancelled)
			require.NoError(t, err)
			require.Len(t, closed, 1)
			assert.Equal(t, second.ID, closed[0].ID)

			recent, err := r.ListRecentCompleted(CompletedFilter{QueueID: queueID, Limit: 5})
			require.NoError(t, err)
			require.Len(t, recent, 1)
			return nil
		}))
	})

	t.Run("recent completed sorts by completion time", func(t *testing.T) {
		s := newStore(t)
		queueID := uuid.NewString()
		base := time.Now().UTC().Truncate(time.Millisecond)
		ids := make([]string, 3)
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			for i := range ids {
				tk := models.Ticket{UserID: uuid.NewString(), QueueID: queueID, QueueName: "Q", Token: "Q-x", JoinedAt: base.Add(time.Duration(i) * time.Second)}
				if err := r.CreateTicket(&tk); err != nil {
					return err
				}
				ids[i] = tk.ID
			}
			return nil
		}))
		// completion order is the reverse of join order
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			for i, id := range ids {
				if _, err := r.TransitionTicket(id, models.TicketServing, base); err != nil {
					return err
				}
				if _, err := r.TransitionTicket(id, models.TicketServed, base.Add(time.Duration(10-i)*time.Minute)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, s.View(ctx, func(r Repository) error {
			got, err := r.ListRecentCompleted(CompletedFilter{QueueID: queueID, Statuses: []models.TicketStatus{models.TicketServed}, Limit: 2})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ids[0], got[0].ID)
			assert.Equal(t, ids[1], got[1].ID)
			return nil
		}))
	})

	t.Run("delete keeps ticket history", func(t *testing.T) {
		s := newStore(t)
		q := models.Queue{Name: "Gone", AdminID: uuid.NewString(), Type: "t", Section: "s"}
		tk := models.Ticket{UserID: uuid.NewString(), QueueName: "Gone", Token: "G-1"}
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			if err := r.CreateQueue(&q); err != nil {
				return err
			}
			tk.QueueID = q.ID
			return r.CreateTicket(&tk)
		}))
		require.NoError(t, s.Atomic(ctx, func(r Repository) error { return r.DeleteQueue(q.ID) }))

		require.NoError(t, s.View(ctx, func(r Repository) error {
			_, err := r.GetQueue(q.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			open, ok, err := r.OpenTicketFor(tk.UserID, q.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tk.ID, open.ID)
			return nil
		}))
		err := s.Atomic(ctx, func(r Repository) error { return r.DeleteQueue(q.ID) })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("users are unique by email", func(t *testing.T) {
		s := newStore(t)
		email := uuid.NewString() + "@example.com"
		require.NoError(t, s.Atomic(ctx, func(r Repository) error {
			return r.CreateUser(&models.User{Name: "Admin User", Email: email, PasswordHash: "x", Role: models.RoleAdmin})
		}))
		err := s.Atomic(ctx, func(r Repository) error {
			return r.CreateUser(&models.User{Name: "Other", Email: email, PasswordHash: "y"})
		})
		assert.ErrorIs(t, err, ErrDuplicate)

		require.NoError(t, s.View(ctx, func(r Repository) error {
			u, err := r.GetUserByEmail(email)
			require.NoError(t, err)
			assert.Equal(t, models.RoleAdmin, u.Role)
			return nil
		}))
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryViewRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(r Repository) error {
		return r.CreateQueue(&models.Queue{Name: "x"})
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestMemoryAtomicIsolatedUntilCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	q := models.Queue{Name: "Isolated", AdminID: "a"}

	err := s.Atomic(ctx, func(r Repository) error {
		if err := r.CreateQueue(&q); err != nil {
			return err
		}
		// another reader must not see the staged queue yet
		return s.View(ctx, func(other Repository) error {
			_, err := other.GetQueue(q.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
	})
	require.NoError(t, err)

	require.NoError(t, s.View(ctx, func(r Repository) error {
		_, err := r.GetQueue(q.ID)
		return err
	}))
}
