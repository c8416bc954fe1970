package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/agentcore/internal/enum"
)

func runRows() []string {
	return []string{
		"run_id", "thread_id", "account_id", "project_id", "status", "instance_id",
		"error_message", "started_at", "ended_at", "created_at", "updated_at",
	}
}

func TestStore_CreateRun(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`INSERT INTO agent_runs`).
		WithArgs("run-1", "thread-1", "acct-1", "proj-1", "running", "instance-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.CreateRun(context.Background(), "run-1", "thread-1", "acct-1", "proj-1", "instance-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FinishRun_TransitionsRunningToStopped(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE agent_runs SET status`).
		WithArgs("stopped", "", "run-1", "running").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.FinishRun(context.Background(), "run-1", enum.RunStopped, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FinishRun_AlreadyTerminalRefuses(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE agent_runs SET status`).
		WithArgs("failed", "boom", "run-1", "running").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.FinishRun(context.Background(), "run-1", enum.RunFailed, "boom")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestStore_RunningRunsSince(t *testing.T) {
	s, mock := newTestStore(t)
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT .* FROM agent_runs WHERE account_id = \$1 AND status = \$2 AND started_at >= \$3`).
		WithArgs("acct-1", "running", since).
		WillReturnRows(sqlmock.NewRows(runRows()).
			AddRow("run-1", "thread-1", "acct-1", "proj-1", "running", "instance-1", nil, time.Now(), nil, time.Now(), time.Now()).
			AddRow("run-2", "thread-2", "acct-1", "proj-2", "running", "instance-1", nil, time.Now(), nil, time.Now(), time.Now()))

	runs, err := s.RunningRunsSince(context.Background(), "acct-1", since)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "thread-1", runs[0].ThreadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunsOwnedByInstance(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT .* FROM agent_runs WHERE instance_id = \$1 AND status = \$2`).
		WithArgs("instance-1", "running").
		WillReturnRows(sqlmock.NewRows(runRows()).
			AddRow("run-1", "thread-1", "acct-1", "proj-1", "running", "instance-1", nil, time.Now(), nil, time.Now(), time.Now()))

	runs, err := s.RunsOwnedByInstance(context.Background(), "instance-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestStore_RunsByThread(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT .* FROM agent_runs WHERE thread_id = \$1 ORDER BY created_at DESC`).
		WithArgs("thread-1").
		WillReturnRows(sqlmock.NewRows(runRows()).
			AddRow("run-2", "thread-1", "acct-1", "proj-1", "completed", "instance-1", nil, time.Now(), &time.Time{}, time.Now(), time.Now()).
			AddRow("run-1", "thread-1", "acct-1", "proj-1", "running", "instance-1", nil, time.Now(), nil, time.Now(), time.Now()))

	runs, err := s.RunsByThread(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRun_NotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT .* FROM agent_runs WHERE run_id = \$1`).
		WithArgs("missing").
		WillReturnError(ErrNotFound)

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
