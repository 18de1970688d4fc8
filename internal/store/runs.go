package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one training invocation.
type Run struct {
	ID        int64
	RunID     string
	BertModel string
	Config    string // JSON encoded run configuration
	StartedAt int64  // Unix milliseconds
	EndedAt   *int64
	Status    string
	TrainMS   *int64
}

// Epoch is the outcome of one training epoch.
type Epoch struct {
	RunID      string
	Epoch      int
	LR         float64
	Loss       float64
	BatchMS    float64
	ExactMatch *float64 // nil when evaluation was skipped
	F1         *float64
	CreatedAt  int64
}

// StartRun inserts a new running run with a fresh id.
func (db *DB) StartRun(bertModel, configJSON string) (*Run, error) {
	run := &Run{
		RunID:     uuid.NewString(),
		BertModel: bertModel,
		Config:    configJSON,
		StartedAt: time.Now().UnixMilli(),
		Status:    StatusRunning,
	}
	result, err := db.Exec(`
		INSERT INTO runs (run_id, bert_model, config, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.BertModel, run.Config, run.StartedAt, run.Status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert run")
	}
	run.ID, _ = result.LastInsertId()
	return run, nil
}

// FinishRun marks a run completed or failed and records the total train
// time.
func (db *DB) FinishRun(runID, status string, trainTime time.Duration) error {
	result, err := db.Exec(`
		UPDATE runs SET status = ?, ended_at = ?, train_ms = ?
		WHERE run_id = ?
	`, status, time.Now().UnixMilli(), trainTime.Milliseconds(), runID)
	if err != nil {
		return errors.Wrap(err, "failed to finish run")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns a run by id, or nil when it does not exist.
func (db *DB) GetRun(runID string) (*Run, error) {
	var r Run
	err := db.QueryRow(`
		SELECT id, run_id, bert_model, config, started_at, ended_at, status, train_ms
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.ID, &r.RunID, &r.BertModel, &r.Config, &r.StartedAt, &r.EndedAt, &r.Status, &r.TrainMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	return &r, nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, run_id, bert_model, config, started_at, ended_at, status, train_ms
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RunID, &r.BertModel, &r.Config, &r.StartedAt, &r.EndedAt, &r.Status, &r.TrainMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordEpoch stores the results of one epoch.
func (db *DB) RecordEpoch(e Epoch) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO epochs (run_id, epoch, lr, loss, batch_ms, exact_match, f1, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Epoch, e.LR, e.Loss, e.BatchMS, e.ExactMatch, e.F1, e.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to record epoch %d", e.Epoch)
	}
	return nil
}

// Epochs returns the recorded epochs of a run in order.
func (db *DB) Epochs(runID string) ([]Epoch, error) {
	rows, err := db.Query(`
		SELECT run_id, epoch, lr, loss, batch_ms, exact_match, f1, created_at
		FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list epochs")
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.LR, &e.Loss, &e.BatchMS, &e.ExactMatch, &e.F1, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan epoch")
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}
