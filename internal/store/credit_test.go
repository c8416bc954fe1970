package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/agentcore/internal/money"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT .* FROM credit_accounts WHERE account_id = \$1`).
		WithArgs("acct-1").
		WillReturnError(ErrNotFound)

	_, err := s.GetAccount(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AddCredits(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT atomic_add_credits`).
		WithArgs("acct-1", money.NewFromFloat(10), true, sqlmock.AnyArg(), "tier_grant", "monthly grant", "ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"atomic_add_credits"}).AddRow("10.00"))

	expires := time.Now().Add(30 * 24 * time.Hour)
	balance, err := s.AddCredits(context.Background(), "acct-1", money.NewFromFloat(10), true, &expires, "tier_grant", "monthly grant", "ref-1")
	require.NoError(t, err)
	want, _ := money.New("10.00")
	assert.True(t, balance.Equal(want))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UseCredits_InsufficientCreditsTranslatesError(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT atomic_use_credits`).
		WillReturnError(assertSQLState{})

	_, err := s.UseCredits(context.Background(), "acct-1", money.NewFromFloat(5), "usage", "ref-2")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// assertSQLState simulates a driver error carrying Postgres's insufficient_credits message
// the way lib/pq surfaces a raised exception, without depending on the pq error type directly.
type assertSQLState struct{}

func (assertSQLState) Error() string { return `pq: insufficient_credits` }
