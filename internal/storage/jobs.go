package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	defaultJobAttempts = 3
	maxJobBackoff      = 5 * time.Minute
)

// jobBackoff is the delay before a failed job is offered again: 2s, 4s, 8s...
// capped at maxJobBackoff.
func jobBackoff(attempts int) time.Duration {
	if attempts >= 20 {
		return maxJobBackoff
	}
	return min(time.Second<<attempts, maxJobBackoff)
}

// EnqueueJob adds a pending job. Zero RunAfter means now and zero
// MaxAttempts means three.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now()
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultJobAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, maxAttempts,
		formatTime(runAfter), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s job %s: %w", job.Type, job.ID, err)
	}
	return nil
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it, or nil when none is due. Selection and the status change
// happen in a single statement so two workers never claim the same job.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
			ORDER BY run_after, created_at, rowid
			LIMIT 1
		)
		RETURNING id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

	j, err := scanJob(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &j, nil
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String

	var err error
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return Job{}, fmt.Errorf("job %s run_after: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("job %s updated_at: %w", j.ID, err)
	}
	return j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// FailJob records errMsg against the job. The job is retried after
// jobBackoff until it has used max_attempts, then it stays failed.
func (s *Store) FailJob(id string, errMsg string) error {
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	attempts++
	status, runAfter := JobPending, now.Add(jobBackoff(attempts))
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	_, err = s.db.Exec(`
		UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ?
		WHERE id = ?`,
		status, attempts, errMsg, formatTime(runAfter), formatTime(now), id)
	return err
}

// TouchJob refreshes a running job's updated_at so RequeueStale leaves it
// alone while its handler is still working.
func (s *Store) TouchJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = ? AND status = ?`,
		formatTime(time.Now()), id, JobRunning)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ReleaseJob puts a running job back on the queue without counting an
// attempt. Workers use it when they stop mid-job.
func (s *Store) ReleaseJob(id string) error {
	now := formatTime(time.Now())
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, run_after = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		JobPending, now, now, id, JobRunning)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// RequeueStale returns running jobs whose last update is older than maxAge to
// the pending state, so work claimed by a process that died is delivered again.
func (s *Store) RequeueStale(maxAge time.Duration) (int64, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, run_after = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		JobPending, formatTime(now), formatTime(now), JobRunning, formatTime(now.Add(-maxAge)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
