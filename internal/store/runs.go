package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
)

// Run is a row of agent_runs.
type Run struct {
	ID           string
	RunID        string
	ThreadID     string
	AccountID    string
	ProjectID    *string
	Status       enum.RunStatus
	InstanceID   *string
	ErrorMessage *string
	StartedAt    time.Time
	EndedAt      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var status string
	if err := row.Scan(&r.RunID, &r.ThreadID, &r.AccountID, &r.ProjectID, &status, &r.InstanceID,
		&r.ErrorMessage, &r.StartedAt, &r.EndedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = enum.RunStatus(status)
	return &r, nil
}

const runColumns = `run_id, thread_id, account_id, project_id, status, instance_id, error_message, started_at, ended_at, created_at, updated_at`

// CreateRun inserts a new running agent_runs row owned by instanceID.
func (s *Store) CreateRun(ctx context.Context, runID, threadID, accountID, projectID, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (run_id, thread_id, account_id, project_id, status, instance_id) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		runID, threadID, accountID, projectID, string(enum.RunRunning), instanceID)
	if err != nil {
		return fmt.Errorf("store: create run %s: %w", runID, err)
	}
	return nil
}

// GetRun fetches a run by its public run ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get run %s: %w", runID, err)
	}
	return r, nil
}

// FinishRun marks a run terminal with the given status and optional error message.
// Refuses the transition (returns ErrAlreadyTerminal) if the run is already terminal.
func (s *Store) FinishRun(ctx context.Context, runID string, status enum.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = $1, error_message = NULLIF($2, ''), ended_at = now(), updated_at = now()
		 WHERE run_id = $3 AND status = $4`,
		string(status), errMsg, runID, string(enum.RunRunning))
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish run %s rows affected: %w", runID, err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// ActiveRunForProject returns the currently running run for a project, if any.
func (s *Store) ActiveRunForProject(ctx context.Context, projectID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE project_id = $1 AND status = $2 LIMIT 1`,
		projectID, string(enum.RunRunning))
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: active run for project %s: %w", projectID, err)
	}
	return r, nil
}

// RunningRunsSince returns every run for accountID in status=running started
// at or after since, used by StartRun's parallel-run-cap precondition.
func (s *Store) RunningRunsSince(ctx context.Context, accountID string, since time.Time) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE account_id = $1 AND status = $2 AND started_at >= $3`,
		accountID, string(enum.RunRunning), since)
	if err != nil {
		return nil, fmt.Errorf("store: running runs since for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RunsByThread returns every run recorded against a thread, most recent first.
func (s *Store) RunsByThread(ctx context.Context, threadID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE thread_id = $1 ORDER BY created_at DESC`,
		threadID)
	if err != nil {
		return nil, fmt.Errorf("store: runs by thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RunsOwnedByInstance returns every still-running run assigned to instanceID,
// used by the reaper to stop orphaned runs after an instance drops its lease.
func (s *Store) RunsOwnedByInstance(ctx context.Context, instanceID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM agent_runs WHERE instance_id = $1 AND status = $2`,
		instanceID, string(enum.RunRunning))
	if err != nil {
		return nil, fmt.Errorf("store: runs owned by instance %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
