package credit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/store"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.New(db)
	return New(s), mock
}

func TestManager_DepositCheckout(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectExec("INSERT INTO credit_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT atomic_add_credits").
		WillReturnRows(sqlmock.NewRows([]string{"atomic_add_credits"}).AddRow("25.00"))

	balance, err := m.DepositCheckout(context.Background(), "acct-1", money.NewFromFloat(25), "sess-1")
	require.NoError(t, err)
	want, _ := money.New("25.00")
	require.True(t, balance.Equal(want))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_GrantUpgrade(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectQuery("SELECT atomic_add_credits").
		WillReturnRows(sqlmock.NewRows([]string{"atomic_add_credits"}).AddRow("100.00"))
	mock.ExpectExec("UPDATE credit_accounts SET last_grant_date").
		WithArgs(sqlmock.AnyArg(), "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expires := time.Now().Add(30 * 24 * time.Hour)
	balance, err := m.GrantUpgrade(context.Background(), "acct-1", money.NewFromFloat(50), expires, "sub-1", 12345, "pro")
	require.NoError(t, err)
	want, _ := money.New("100.00")
	require.True(t, balance.Equal(want))
	require.NoError(t, mock.ExpectationsWereMet())
}
