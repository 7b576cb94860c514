package queue

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mishalsheza/queue-ease/internal/models"
)

// Aggregate applies ordering changes to one queue. A user is never both in the
// waiting list and in the serving slot, and never twice in the waiting list.
type Aggregate struct {
	q *models.Queue
}

func NewAggregate(q *models.Queue) *Aggregate {
	if q.WaitingList == nil {
		q.WaitingList = []models.WaitingEntry{}
	}
	return &Aggregate{q: q}
}

func (a *Aggregate) Len() int { return len(a.q.WaitingList) }

// IsServing reports whether userID occupies the serving slot.
func (a *Aggregate) IsServing(userID string) bool {
	return a.q.NowServing != nil && a.q.NowServing.UserID == userID
}

// PositionOf returns the zero-based index of userID in the waiting list.
func (a *Aggregate) PositionOf(userID string) (int, bool) {
	for i, e := range a.q.WaitingList {
		if e.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

// Append adds userID to the back of the line. It returns the user's index and
// whether it was added; a user already waiting keeps their index, and a user
// being served is not added (index -1).
func (a *Aggregate) Append(userID string, at time.Time) (int, bool) {
	if idx, ok := a.PositionOf(userID); ok {
		return idx, false
	}
	if a.IsServing(userID) {
		return -1, false
	}
	a.q.WaitingList = append(a.q.WaitingList, models.WaitingEntry{UserID: userID, JoinedAt: at})
	return len(a.q.WaitingList) - 1, true
}

func (a *Aggregate) RemoveByUser(userID string) bool {
	idx, ok := a.PositionOf(userID)
	if !ok {
		return false
	}
	a.q.WaitingList = append(a.q.WaitingList[:idx], a.q.WaitingList[idx+1:]...)
	return true
}

func (a *Aggregate) DequeueFront() (models.WaitingEntry, bool) {
	if len(a.q.WaitingList) == 0 {
		return models.WaitingEntry{}, false
	}
	front := a.q.WaitingList[0]
	a.q.WaitingList = a.q.WaitingList[1:]
	return front, true
}

// SetNowServing puts userID in the serving slot, taking them out of the waiting list.
func (a *Aggregate) SetNowServing(userID, token string, at time.Time) {
	a.RemoveByUser(userID)
	a.q.NowServing = &models.NowServing{UserID: userID, Token: token, StartedAt: at}
}

// ClearNowServing empties the serving slot and returns its previous occupant.
func (a *Aggregate) ClearNowServing() *models.NowServing {
	prev := a.q.NowServing
	a.q.NowServing = nil
	return prev
}

// TokenPrefix is the upper-cased first letter of a queue name, or "Q".
func TokenPrefix(name string) string {
	r, size := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if size == 0 || r == utf8.RuneError {
		return "Q"
	}
	return string(unicode.ToUpper(r))
}

func FormatToken(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}
