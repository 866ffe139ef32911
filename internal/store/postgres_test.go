package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reva-labs/dialer-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func leadRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "company_name", "contact_name", "phone", "email",
		"status", "call_attempts", "last_called_at", "source", "created_at", "updated_at",
	})
}

func TestPostgresStore_CountCalling(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leads WHERE user_id = \$1 AND status = 'calling'`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountCalling(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SelectPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM leads\s+WHERE user_id = \$1 AND status = 'pending'`).
		WithArgs("user-1", pgxmock.AnyArg(), 3, 2).
		WillReturnRows(leadRows().
			AddRow("l1", "user-1", "Acme Realty", "Jane Smith", "+15550001111", "jane@acme.com",
				"pending", 0, nil, nil, now, now).
			AddRow("l2", "user-1", "Bolt Homes", "Bob Lee", "+15550002222", "bob@bolt.com",
				"pending", 1, &now, nil, now, now))

	settings := model.DefaultSettings("user-1")
	leads, err := s.SelectPending(context.Background(), "user-1", settings, 2)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "l1", leads[0].ID)
	assert.Nil(t, leads[0].LastCalledAt)
	assert.Equal(t, 1, leads[1].CallAttempts)
	assert.NotNil(t, leads[1].LastCalledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkCalling(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads\s+SET status = 'calling', call_attempts = \$2 \+ 1`).
		WithArgs("l1", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkCalling(context.Background(), "l1", 2)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkCalling_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads\s+SET status = 'calling'`).
		WithArgs("l1", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkCalling(context.Background(), "l1", 2)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrAttemptConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE leads\s+SET status = 'calling', call_attempts = call_attempts \+ 1.+FOR UPDATE SKIP LOCKED`).
		WithArgs("user-1", pgxmock.AnyArg(), 3, 10, pgxmock.AnyArg()).
		WillReturnRows(leadRows().
			AddRow("l1", "user-1", "Acme Realty", "Jane Smith", "+15550001111", "jane@acme.com",
				"calling", 1, &now, nil, now, now))

	settings := model.DefaultSettings("user-1")
	leads, err := s.ClaimPending(context.Background(), "user-1", settings)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, model.StatusCalling, leads[0].Status)
	assert.Equal(t, 1, leads[0].CallAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReconcileOutcome_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET status = \$3`).
		WithArgs("user-1", "+15559999999", "no_answer", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ReconcileOutcome(context.Background(), "user-1", "+15559999999", model.StatusNoAnswer)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseStuck(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET status = 'pending'`).
		WithArgs("user-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ReleaseStuck(context.Background(), "user-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSettings_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_id, max_calls_batch`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "max_calls_batch", "retry_interval", "max_attempts",
			"automation_enabled", "ai_dialer", "selected_assistant", "followupboss_apikey",
		}).AddRow("user-1", 5, 30, 2, true, "vapi", "asst-1", "fub-key"))

	st, err := s.GetSettings(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.MaxCallsBatch)
	assert.Equal(t, 30, st.RetryInterval)
	assert.Equal(t, "vapi", st.Provider)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSettings_SeedsDefaultsOnMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_id, max_calls_batch`).
		WithArgs("user-2").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO dialer_settings`).
		WithArgs("user-2", 10, 15, 3, false, "", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st, err := s.GetSettings(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings("user-2"), st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSettings_InsertFailureFallsBackToDefaults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_id, max_calls_batch`).
		WithArgs("user-3").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO dialer_settings`).
		WithArgs("user-3", 10, 15, 3, false, "", "", "", pgxmock.AnyArg()).
		WillReturnError(eris.New("permission denied"))

	st, err := s.GetSettings(context.Background(), "user-3")
	require.NoError(t, err)
	// Defaults are still returned so a scheduling pass can proceed; they are
	// just not durable.
	assert.Equal(t, model.DefaultSettings("user-3"), st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteLeadsBySource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM leads WHERE user_id = \$1 AND source = \$2`).
		WithArgs("user-1", model.SourceCRM).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteLeadsBySource(context.Background(), "user-1", model.SourceCRM)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLeads_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, []string{
		"id", "user_id", "company_name", "contact_name", "phone", "email",
		"status", "call_attempts", "last_called_at", "source", "created_at", "updated_at",
	}).WillReturnResult(2)

	drafts := []model.LeadDraft{
		{CompanyName: "Acme Realty", ContactName: "Jane Smith", Phone: "+15550001111", Email: "jane@acme.com"},
		{CompanyName: "Bolt Homes", ContactName: "Bob Lee", Phone: "+15550002222", Email: "bob@bolt.com", Source: model.SourceCRM},
	}
	n, err := s.InsertLeads(context.Background(), "user-1", drafts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLeads_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	n, err := s.InsertLeads(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPostgresStore_UpdateLeadStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET status = \$1`).
		WithArgs("pending", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLeadStatus(context.Background(), "missing", model.StatusPending)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
