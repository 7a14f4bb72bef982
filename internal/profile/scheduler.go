package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron"

	"github.com/kalambet/dishdex/internal/storage"
)

// DefaultSchedule refreshes profiles four times a day.
const DefaultSchedule = "@every 6h"

// Enqueuer puts jobs on the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Enqueue schedules a refresh_profiles job. ownerID 0 means every owner.
func Enqueue(q Enqueuer, ownerID int64) (string, error) {
	payload, err := json.Marshal(refreshPayload{OwnerID: ownerID})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := q.EnqueueJob(storage.Job{ID: id, Type: JobRefreshProfiles, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing profile refresh: %w", err)
	}
	return id, nil
}

// Scheduler enqueues a full profile refresh on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

// NewScheduler validates spec and prepares the schedule. Call Start to begin.
func NewScheduler(spec string, q Enqueuer) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	s := &Scheduler{cron: cron.New(), spec: spec, logger: slog.Default()}
	err := s.cron.AddFunc(spec, func() {
		id, err := Enqueue(q, 0)
		if err != nil {
			s.logger.Error("scheduled profile refresh failed", "error", err)
			return
		}
		s.logger.Info("scheduled profile refresh", "job_id", id)
	})
	if err != nil {
		return nil, fmt.Errorf("parsing profile schedule %q: %w", spec, err)
	}
	return s, nil
}

// ValidSchedule reports whether spec parses as a cron schedule.
func ValidSchedule(spec string) error {
	_, err := cron.Parse(spec)
	return err
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string { return s.spec }

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("profile scheduler started", "schedule", s.spec)
	s.cron.Start()
}

// Stop halts the schedule. A job already enqueued still runs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
