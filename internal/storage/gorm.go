package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mishalsheza/queue-ease/internal/models"
)

type queueRow struct {
	ID                    string            `gorm:"primaryKey;size:36"`
	Name                  string            `gorm:"not null"`
	AdminID               string            `gorm:"size:36;not null;index"`
	Type                  string            `gorm:"not null"`
	Section               string            `gorm:"not null"`
	ServedCount           int               `gorm:"not null;default:0"`
	AvgProcessTimeMinutes int               `gorm:"not null;default:15"`
	NowServingUserID      *string           `gorm:"size:36"`
	NowServingToken       *string           `gorm:"size:32"`
	NowServingStartedAt   *time.Time
	Version               int64             `gorm:"not null;default:0"`
	Entries               []waitingEntryRow `gorm:"foreignKey:QueueID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time         `gorm:"index"`
	UpdatedAt             time.Time
}

func (queueRow) TableName() string { return "queues" }

type waitingEntryRow struct {
	QueueID  string    `gorm:"primaryKey;size:36"`
	UserID   string    `gorm:"primaryKey;size:36"`
	Seq      int       `gorm:"not null;index"`
	JoinedAt time.Time `gorm:"not null"`
}

func (waitingEntryRow) TableName() string { return "waiting_entries" }

func rowFromQueue(q models.Queue) queueRow {
	row := queueRow{
		ID:                    q.ID,
		Name:                  q.Name,
		AdminID:               q.AdminID,
		Type:                  q.Type,
		Section:               q.Section,
		ServedCount:           q.ServedCount,
		AvgProcessTimeMinutes: q.AvgProcessTimeMinutes,
		Version:               q.Version,
		CreatedAt:             q.CreatedAt,
		UpdatedAt:             q.UpdatedAt,
	}
	if ns := q.NowServing; ns != nil {
		userID, token, started := ns.UserID, ns.Token, ns.StartedAt
		row.NowServingUserID = &userID
		row.NowServingToken = &token
		row.NowServingStartedAt = &started
	}
	row.Entries = entryRows(q.ID, q.WaitingList)
	return row
}

func entryRows(queueID string, list []models.WaitingEntry) []waitingEntryRow {
	rows := make([]waitingEntryRow, len(list))
	for i, e := range list {
		rows[i] = waitingEntryRow{QueueID: queueID, UserID: e.UserID, Seq: i, JoinedAt: e.JoinedAt}
	}
	return rows
}

func (r queueRow) toModel() models.Queue {
	q := models.Queue{
		ID:                    r.ID,
		Name:                  r.Name,
		AdminID:               r.AdminID,
		Type:                  r.Type,
		Section:               r.Section,
		ServedCount:           r.ServedCount,
		AvgProcessTimeMinutes: r.AvgProcessTimeMinutes,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
		WaitingList:           make([]models.WaitingEntry, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		q.WaitingList = append(q.WaitingList, models.WaitingEntry{UserID: e.UserID, JoinedAt: e.JoinedAt})
	}
	if r.NowServingUserID != nil {
		ns := &models.NowServing{UserID: *r.NowServingUserID}
		if r.NowServingToken != nil {
			ns.Token = *r.NowServingToken
		}
		if r.NowServingStartedAt != nil {
			ns.StartedAt = *r.NowServingStartedAt
		}
		q.NowServing = ns
	}
	return q
}

// GormStore persists queues, tickets and users through gorm (postgres in production).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables the store needs.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&queueRow{}, &waitingEntryRow{}, &models.Ticket{}, &models.User{})
}

func (s *GormStore) Atomic(ctx context.Context, fn func(Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepo{db: tx})
	})
}

func (s *GormStore) View(ctx context.Context, fn func(Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepo{db: tx, readOnly: true})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

type gormRepo struct {
	db       *gorm.DB
	readOnly bool
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

func orderedEntries(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func (r *gormRepo) CreateQueue(q *models.Queue) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.WaitingList == nil {
		q.WaitingList = []models.WaitingEntry{}
	}
	row := rowFromQueue(*q)
	if err := r.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: queue %s", ErrDuplicate, q.ID)
		}
		return err
	}
	q.CreatedAt, q.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (r *gormRepo) GetQueue(id string) (models.Queue, error) {
	var row queueRow
	if err := r.db.Preload("Entries", orderedEntries).First(&row, "id = ?", id).Error; err != nil {
		return models.Queue{}, notFound(err, "queue", id)
	}
	return row.toModel(), nil
}

func (r *gormRepo) ListQueues() ([]models.Queue, error) {
	var rows []queueRow
	if err := r.db.Preload("Entries", orderedEntries).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Queue, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *gormRepo) SaveQueue(q *models.Queue) error {
	if r.readOnly {
		return ErrReadOnly
	}
	row := rowFromQueue(*q)
	now := time.Now().UTC()
	res := r.db.Model(&queueRow{}).
		Where("id = ? AND version = ?", q.ID, q.Version).
		Updates(map[string]interface{}{
			"name":                     row.Name,
			"type":                     row.Type,
			"section":                  row.Section,
			"served_count":             row.ServedCount,
			"avg_process_time_minutes": row.AvgProcessTimeMinutes,
			"now_serving_user_id":      row.NowServingUserID,
			"now_serving_token":        row.NowServingToken,
			"now_serving_started_at":   row.NowServingStartedAt,
			"version":                  q.Version + 1,
			"updated_at":               now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&queueRow{}).Where("id = ?", q.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: queue %s", ErrNotFound, q.ID)
		}
		return fmt.Errorf("%w: queue %s", ErrConflict, q.ID)
	}

	if err := r.db.Where("queue_id = ?", q.ID).Delete(&waitingEntryRow{}).Error; err != nil {
		return err
	}
	if len(row.Entries) > 0 {
		if err := r.db.Create(&row.Entries).Error; err != nil {
			return err
		}
	}
	q.Version++
	q.UpdatedAt = now
	return nil
}

func (r *gormRepo) DeleteQueue(id string) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if err := r.db.Where("queue_id = ?", id).Delete(&waitingEntryRow{}).Error; err != nil {
		return err
	}
	res := r.db.Delete(&queueRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: queue %s", ErrNotFound, id)
	}
	return nil
}

func (r *gormRepo) OpenTicketFor(userID, queueID string) (models.Ticket, bool, error) {
	var t models.Ticket
	err := r.db.
		Where("user_id = ? AND queue_id = ? AND status IN ?", userID, queueID,
			[]models.TicketStatus{models.TicketWaiting, models.TicketServing}).
		Order("joined_at DESC, created_at DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return t, true, nil
}

func (r *gormRepo) CreateTicket(t *models.Ticket) error {
	if r.readOnly {
		return ErrReadOnly
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.JoinedAt.IsZero() {
		t.JoinedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = models.TicketWaiting
	}
	return r.db.Create(t).Error
}

func (r *gormRepo) TransitionTicket(id string, to models.TicketStatus, at time.Time) (models.Ticket, error) {
	if r.readOnly {
		return models.Ticket{}, ErrReadOnly
	}
	var t models.Ticket
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "id = ?", id).Error; err != nil {
		return models.Ticket{}, notFound(err, "ticket", id)
	}
	if !models.CanTransition(t.Status, to) {
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	updates := map[string]interface{}{"status": to}
	if !to.IsOpen() {
		completed := at
		t.CompletedAt = &completed
		updates["completed_at"] = completed
	}
	res := r.db.Model(&models.Ticket{}).Where("id = ? AND status = ?", id, t.Status).Updates(updates)
	if res.Error != nil {
		return models.Ticket{}, res.Error
	}
	if res.RowsAffected == 0 {
		return models.Ticket{}, fmt.Errorf("%w: ticket %s", ErrConflict, id)
	}
	t.Status = to
	return t, nil
}

func (r *gormRepo) ListTicketsByUser(userID string, statuses ...models.TicketStatus) ([]models.Ticket, error) {
	q := r.db.Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []models.Ticket
	if err := q.Order("joined_at DESC, created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepo) ListRecentCompleted(filter CompletedFilter) ([]models.Ticket, error) {
	q := r.db.Where("status IN ? AND completed_at IS NOT NULL", filter.statuses())
	if filter.QueueID != "" {
		q = q.Where("queue_id = ?", filter.QueueID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("completed_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []models.Ticket
	if err := q.Order("completed_at DESC, updated_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepo) ListTickets() ([]models.Ticket, error) {
	var out []models.Ticket
	if err := r.db.Order("joined_at DESC, created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepo) CreateUser(u *models.User) error {
	if r.readOnly {
		return ErrReadOnly
	}
	var existing models.User
	err := r.db.Where("LOWER(email) = LOWER(?)", u.Email).First(&existing).Error
	if err == nil {
		return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	return r.db.Create(u).Error
}

func (r *gormRepo) GetUser(id string) (models.User, error) {
	var u models.User
	if err := r.db.First(&u, "id = ?", id).Error; err != nil {
		return models.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (r *gormRepo) GetUserByEmail(email string) (models.User, error) {
	var u models.User
	if err := r.db.Where("LOWER(email) = LOWER(?)", email).First(&u).Error; err != nil {
		return models.User{}, notFound(err, "user", email)
	}
	return u, nil
}

func (r *gormRepo) ListUsers() ([]models.User, error) {
	var out []models.User
	if err := r.db.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
