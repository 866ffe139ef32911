package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/reva-labs/dialer-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for local
// and single-operator deployments; concurrency guarantees rely on SQLite's
// writer serialization rather than row locks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	company_name   TEXT NOT NULL,
	contact_name   TEXT NOT NULL,
	phone          TEXT NOT NULL,
	email          TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	call_attempts  INTEGER NOT NULL DEFAULT 0,
	last_called_at DATETIME,
	source         TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_user_status ON leads(user_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_user_phone ON leads(user_id, phone, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_user_source ON leads(user_id, source);

CREATE TABLE IF NOT EXISTS dialer_settings (
	user_id             TEXT PRIMARY KEY,
	max_calls_batch     INTEGER NOT NULL DEFAULT 10,
	retry_interval      INTEGER NOT NULL DEFAULT 15,
	max_attempts        INTEGER NOT NULL DEFAULT 3,
	automation_enabled  INTEGER NOT NULL DEFAULT 0,
	ai_dialer           TEXT NOT NULL DEFAULT '',
	selected_assistant  TEXT NOT NULL DEFAULT '',
	followupboss_apikey TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteLeadColumns = `id, user_id, company_name, contact_name, phone, email, status, call_attempts, last_called_at, source, created_at, updated_at`

func (s *SQLiteStore) InsertLeads(ctx context.Context, userID string, drafts []model.LeadDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, user_id, company_name, contact_name, phone, email, status, call_attempts, last_called_at, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, d := range drafts {
		var source any
		if d.Source != "" {
			source = d.Source
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), userID, d.CompanyName, d.ContactName, d.Phone, d.Email,
			string(model.StatusPending), source, now, now,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert lead")
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert leads")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, userID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE user_id = ?`
	args := []any{userID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	return collectSQLiteLeads(rows)
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, leadID string, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", leadID)
	}
	return checkAffected(res, fmt.Sprintf("lead %s", leadID))
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, leadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", leadID)
	}
	return checkAffected(res, fmt.Sprintf("lead %s", leadID))
}

func (s *SQLiteStore) DeleteLeadsBySource(ctx context.Context, userID, source string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM leads WHERE user_id = ? AND source = ?`,
		userID, source,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete leads by source %s", source)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) CountCalling(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE user_id = ? AND status = 'calling'`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count calling")
}

const sqliteSelectPendingSQL = `SELECT ` + sqliteLeadColumns + ` FROM leads
 WHERE user_id = ? AND status = 'pending'
   AND (last_called_at IS NULL OR last_called_at < ?)
   AND call_attempts < ?
 ORDER BY last_called_at ASC NULLS FIRST, created_at ASC
 LIMIT ?`

func (s *SQLiteStore) SelectPending(ctx context.Context, userID string, settings model.Settings, limit int) ([]model.Lead, error) {
	cutoff := retryCutoff(time.Now().UTC(), settings.RetryInterval)

	rows, err := s.db.QueryContext(ctx, sqliteSelectPendingSQL, userID, cutoff, settings.MaxAttempts, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select pending")
	}
	defer rows.Close() //nolint:errcheck

	return collectSQLiteLeads(rows)
}

func (s *SQLiteStore) MarkCalling(ctx context.Context, leadID string, currentAttempts int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'calling', call_attempts = ? + 1, last_called_at = ?, updated_at = ?
		 WHERE id = ? AND call_attempts = ?`,
		currentAttempts, time.Now().UTC(), time.Now().UTC(), leadID, currentAttempts,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark calling %s", leadID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Wrapf(ErrAttemptConflict, "sqlite: lead %s at attempts %d", leadID, currentAttempts)
	}
	return nil
}

// ClaimPending runs the count, selection and calling transition inside one
// IMMEDIATE transaction. Taking the write lock before the count means a
// concurrent claimer blocks on BEGIN (within busy_timeout) instead of
// failing on a late lock upgrade, giving the same no-double-claim guarantee
// the Postgres store gets from SKIP LOCKED.
func (s *SQLiteStore) ClaimPending(ctx context.Context, userID string, settings model.Settings) ([]model.Lead, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim conn")
	}
	defer conn.Close() //nolint:errcheck

	// busy_timeout is per-connection and this conn may be fresh from the
	// pool; without it a concurrent claimer fails fast instead of waiting.
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim busy_timeout")
	}

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim")
	}
	committed := false
	defer func() {
		if !committed {
			// Closing the conn would also roll back; rolling back
			// explicitly returns it to the pool clean.
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var active int
	if err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE user_id = ? AND status = 'calling'`,
		userID,
	).Scan(&active); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim count calling")
	}

	slots := settings.MaxCallsBatch - active
	if slots <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	cutoff := retryCutoff(now, settings.RetryInterval)

	rows, err := conn.QueryContext(ctx, sqliteSelectPendingSQL, userID, cutoff, settings.MaxAttempts, slots)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim select pending")
	}
	leads, err := collectSQLiteLeads(rows)
	rows.Close() //nolint:errcheck
	if err != nil {
		return nil, err
	}

	for i := range leads {
		if _, err := conn.ExecContext(ctx,
			`UPDATE leads SET status = 'calling', call_attempts = call_attempts + 1, last_called_at = ?, updated_at = ? WHERE id = ?`,
			now, now, leads[i].ID,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim mark %s", leads[i].ID)
		}
		leads[i].Status = model.StatusCalling
		leads[i].CallAttempts++
		t := now
		leads[i].LastCalledAt = &t
		leads[i].UpdatedAt = now
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}
	committed = true
	return leads, nil
}

func (s *SQLiteStore) ReconcileOutcome(ctx context.Context, userID, phone string, status model.LeadStatus) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, last_called_at = ?, updated_at = ?
		 WHERE id = (
		   SELECT id FROM leads WHERE user_id = ? AND phone = ?
		   ORDER BY created_at DESC LIMIT 1
		 )`,
		string(status), now, now, userID, phone,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reconcile outcome for %s", phone)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: no lead with phone %s", phone)
	}
	return nil
}

func (s *SQLiteStore) ReleaseStuck(ctx context.Context, userID string, olderThan time.Duration) (int, error) {
	threshold := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = 'pending', updated_at = ?
		 WHERE user_id = ? AND status = 'calling' AND last_called_at < ?`,
		time.Now().UTC(), userID, threshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: release stuck")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	var st model.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey
		 FROM dialer_settings WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.MaxCallsBatch, &st.RetryInterval, &st.MaxAttempts,
		&st.AutomationEnabled, &st.Provider, &st.SelectedAssistant, &st.FollowUpBossKey)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, eris.Wrap(err, "sqlite: get settings")
	}

	defaults := model.DefaultSettings(userID)
	now := time.Now().UTC()
	_, insErr := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dialer_settings
		 (user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		defaults.UserID, defaults.MaxCallsBatch, defaults.RetryInterval, defaults.MaxAttempts,
		defaults.AutomationEnabled, defaults.Provider, defaults.SelectedAssistant, defaults.FollowUpBossKey, now, now,
	)
	if insErr != nil {
		zap.L().Warn("seeding default settings failed",
			zap.String("user_id", userID),
			zap.Error(insErr),
		)
	}
	return defaults, nil
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if settings.UserID == "" {
		return eris.New("sqlite: settings user id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dialer_settings
		 (user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   max_calls_batch = excluded.max_calls_batch,
		   retry_interval = excluded.retry_interval,
		   max_attempts = excluded.max_attempts,
		   automation_enabled = excluded.automation_enabled,
		   ai_dialer = excluded.ai_dialer,
		   selected_assistant = excluded.selected_assistant,
		   followupboss_apikey = excluded.followupboss_apikey,
		   updated_at = excluded.updated_at`,
		settings.UserID, settings.MaxCallsBatch, settings.RetryInterval, settings.MaxAttempts,
		settings.AutomationEnabled, settings.Provider, settings.SelectedAssistant, settings.FollowUpBossKey, now, now,
	)
	return eris.Wrapf(err, "sqlite: update settings for %s", settings.UserID)
}

func collectSQLiteLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var lastCalled sql.NullTime
		var source sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &l.CompanyName, &l.ContactName, &l.Phone, &l.Email,
			&l.Status, &l.CallAttempts, &lastCalled, &source, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		if lastCalled.Valid {
			t := lastCalled.Time
			l.LastCalledAt = &t
		}
		if source.Valid {
			l.Source = source.String
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s", what)
	}
	return nil
}
