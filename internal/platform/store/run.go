package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	perr "vesselclass/internal/platform/errors"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one training or inference run record
type Run struct {
	ID         string
	Kind       string
	Config     string
	Status     string
	Error      string
	StartedAt  int64
	FinishedAt int64
}

// Checkpoint is one persisted model state
type Checkpoint struct {
	RunID     string
	Step      int64
	CreatedAt int64
	Payload   []byte
}

// MetricPoint is one recorded metric value
type MetricPoint struct {
	Step  int64
	Name  string
	Value float64
}

// CreateRun records a new running run and returns it with a fresh id
func (s *Store) CreateRun(ctx context.Context, kind, config string) (Run, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Config:    config,
		Status:    StatusRunning,
		StartedAt: time.Now().Unix(),
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, config, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.Config, run.Status, run.StartedAt)
	if err != nil {
		return Run{}, perr.Wrap(err, perr.ErrorCodeDB, "insert run")
	}
	return run, nil
}

// FinishRun marks a run completed or failed
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, status, errMsg, time.Now().Unix(), id)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "finish run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perr.NotFoundf("run %s", id)
	}
	return nil
}

// GetRun fetches one run record
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, err
	}

	var run Run
	var finished sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT id, kind, config, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Kind, &run.Config, &run.Status, &run.Error, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, perr.NotFoundf("run %s", id)
	}
	if err != nil {
		return Run{}, perr.Wrap(err, perr.ErrorCodeDB, "select run")
	}
	run.FinishedAt = finished.Int64
	return run, nil
}

// SaveCheckpoint persists a model state for a run step
func (s *Store) SaveCheckpoint(ctx context.Context, runID string, step int64, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step, created_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			created_at = excluded.created_at,
			payload = excluded.payload
	`, runID, step, time.Now().Unix(), payload)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "save checkpoint")
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint of a run. No checkpoint yet
// is a transient condition: the trainer may simply not have written one, so
// the error is retryable
func (s *Store) LatestCheckpoint(ctx context.Context, runID string) (Checkpoint, error) {
	db, err := s.getDB()
	if err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	err = db.QueryRowContext(ctx, `
		SELECT run_id, step, created_at, payload
		FROM checkpoints WHERE run_id = ?
		ORDER BY step DESC LIMIT 1
	`, runID).Scan(&cp.RunID, &cp.Step, &cp.CreatedAt, &cp.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, perr.Unavailablef("no checkpoint yet for run %s", runID)
	}
	if err != nil {
		return Checkpoint{}, perr.Wrap(err, perr.ErrorCodeDB, "select checkpoint")
	}
	return cp, nil
}

// LogMetric records one metric value for a run step
func (s *Store) LogMetric(ctx context.Context, runID string, step int64, name string, value float64) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO metrics (run_id, step, name, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step, name) DO UPDATE SET value = excluded.value
	`, runID, step, name, value)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "log metric")
	}
	return nil
}

// Metrics returns a run's values for one metric name in step order
func (s *Store) Metrics(ctx context.Context, runID, name string) ([]MetricPoint, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT step, name, value FROM metrics
		WHERE run_id = ? AND name = ?
		ORDER BY step ASC
	`, runID, name)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "select metrics")
	}
	defer rows.Close()

	var out []MetricPoint
	for rows.Next() {
		var p MetricPoint
		if err := rows.Scan(&p.Step, &p.Name, &p.Value); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeDB, "scan metric")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDB, "iterate metrics")
	}
	return out, nil
}
