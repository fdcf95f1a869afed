package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/gesture"
)

// RunStatus is the outcome of a training run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// TrainingRun is a stored record of one training attempt.
type TrainingRun struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Classes    []string  `json:"classes"`
	Samples    int       `json:"samples"`
	Epochs     int       `json:"epochs"`
	Loss       float64   `json:"loss"`
	Accuracy   float64   `json:"accuracy"`
	Converged  bool      `json:"converged"`
	DurationMs int64     `json:"duration_ms"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunRepository provides access to training runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the training run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a run and fills in its ID and timestamp.
func (r *RunRepository) Create(ctx context.Context, run *TrainingRun) error {
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now().UTC()
	if run.Classes == nil {
		run.Classes = []string{}
	}

	classes, err := json.Marshal(run.Classes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO training_runs
		 (id, strategy, classes, samples, epochs, loss, accuracy, converged, duration_ms, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, string(classes), run.Samples, run.Epochs, run.Loss, run.Accuracy,
		run.Converged, run.DurationMs, string(run.Status), run.Error, run.CreatedAt,
	)
	return err
}

// RecordRun stores a trainer run. It satisfies gesture.RunRecorder.
func (r *RunRepository) RecordRun(ctx context.Context, run gesture.Run) error {
	rec := &TrainingRun{
		Strategy:   run.Strategy,
		Classes:    run.Classes,
		Samples:    run.Samples,
		Epochs:     run.Epochs,
		Loss:       run.Loss,
		Accuracy:   run.Accuracy,
		Converged:  run.Converged,
		DurationMs: run.Duration.Milliseconds(),
		Status:     RunSucceeded,
	}
	if run.Err != nil {
		rec.Status = RunFailed
		rec.Error = run.Err.Error()
	}
	return r.Create(ctx, rec)
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, strategy, classes, samples, epochs, loss, accuracy, converged, duration_ms, status, error, created_at
		 FROM training_runs
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Latest returns the most recent successful run.
func (r *RunRepository) Latest(ctx context.Context) (*TrainingRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, strategy, classes, samples, epochs, loss, accuracy, converged, duration_ms, status, error, created_at
		 FROM training_runs
		 WHERE status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		string(RunSucceeded),
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func scanRun(row rowScanner) (*TrainingRun, error) {
	var (
		run     TrainingRun
		classes string
		status  string
	)
	if err := row.Scan(&run.ID, &run.Strategy, &classes, &run.Samples, &run.Epochs, &run.Loss,
		&run.Accuracy, &run.Converged, &run.DurationMs, &status, &run.Error, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(classes), &run.Classes); err != nil {
		return nil, err
	}
	return &run, nil
}
