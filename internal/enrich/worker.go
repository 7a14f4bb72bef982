package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/dishdex/internal/storage"
)

const (
	// JobAnalyzeDish carries {"dish_id": n}.
	JobAnalyzeDish = "analyze_dish"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	ReleaseJob(id string) error
	TouchJob(id string) error
}

// ErrInterrupted is returned by handlers that stopped because ctx ended.
var ErrInterrupted = errors.New("job interrupted")

// HandlerFunc processes one job payload. A returned error fails the job,
// which is retried with the queue's backoff until it runs out of attempts.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Worker processes jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	handlers  map[string]HandlerFunc
	poll      time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker that handles analyze_dish jobs with enricher.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, enricher *Enricher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	w := &Worker{
		store:    store,
		handlers: make(map[string]HandlerFunc),
		poll:     pollInterval,
		logger:   slog.Default(),
	}
	if enricher != nil {
		w.Handle(JobAnalyzeDish, AnalyzeHandler(enricher))
	}
	return w
}

// Handle registers fn for jobType. It must be called before Run.
func (w *Worker) Handle(jobType string, fn HandlerFunc) {
	w.handlers[jobType] = fn
}

// SetHeartbeat makes the worker refresh a claimed job every d while its
// handler runs. Zero disables it.
func (w *Worker) SetHeartbeat(d time.Duration) {
	w.heartbeat = d
}

func (w *Worker) types() []string {
	types := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(w.types())
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		if ctx.Err() != nil {
			w.logger.Info("job interrupted, releasing", "job_id", job.ID, "type", job.Type, "error", err)
			if relErr := w.store.ReleaseJob(job.ID); relErr != nil {
				w.logger.Error("failed to release job", "job_id", job.ID, "error", relErr)
			}
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (err error) {
	fn, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	if w.heartbeat > 0 {
		stop := w.keepAlive(job.ID)
		defer stop()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, []byte(job.PayloadJSON))
}

// keepAlive touches job id every heartbeat until stop is called.
func (w *Worker) keepAlive(id string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(w.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := w.store.TouchJob(id); err != nil {
					w.logger.Warn("job heartbeat failed", "job_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// AnalyzePayload is the body of an analyze_dish job.
type AnalyzePayload struct {
	DishID int64 `json:"dish_id"`
}

// AnalyzeHandler adapts enricher to the job queue. Malformed payloads fail
// the job and an interrupted run returns ErrInterrupted; enrichment resolves
// every other failure itself.
func AnalyzeHandler(enricher *Enricher) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var p AnalyzePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if p.DishID <= 0 {
			return errors.New("payload has no dish_id")
		}
		if enricher.Enrich(ctx, p.DishID) == StatusInterrupted {
			return ErrInterrupted
		}
		return nil
	}
}
