package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = time.Minute

// ServedCounterResetter zeroes the per-queue served counters.
type ServedCounterResetter interface {
	ResetServedCounts(ctx context.Context) (int, error)
}

// ResetServedCounts runs one reset and logs the outcome.
func ResetServedCounts(svc ServedCounterResetter, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := svc.ResetServedCounts(ctx)
	if err != nil {
		log.Error("served counter reset failed", "reset", n, "error", err)
		return
	}
	log.Info("served counters reset", "queues", n)
}

// InitScheduler starts the cron scheduler. schedule uses the six-field,
// seconds-first cron format.
func InitScheduler(svc ServedCounterResetter, schedule string, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())

	if _, err := c.AddFunc(schedule, func() { ResetServedCounts(svc, log) }); err != nil {
		return nil, fmt.Errorf("schedule served counter reset %q: %w", schedule, err)
	}

	c.Start()
	log.Info("cron scheduler started", "served_reset", schedule)
	return c, nil
}
