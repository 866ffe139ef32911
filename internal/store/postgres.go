package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/db"
	"github.com/reva-labs/dialer-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const leadColumns = `id, user_id, company_name, contact_name, phone, email, status, call_attempts, last_called_at, source, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection. The
// scheduling loop hits these on every pass.
var preparedStatements = map[string]string{
	"count_calling":  `SELECT COUNT(*) FROM leads WHERE user_id = $1 AND status = 'calling'`,
	"select_pending": selectPendingSQL,
	"mark_calling":   markCallingSQL,
	"get_settings":   `SELECT user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey FROM dialer_settings WHERE user_id = $1`,
}

const selectPendingSQL = `SELECT ` + leadColumns + ` FROM leads
 WHERE user_id = $1 AND status = 'pending'
   AND (last_called_at IS NULL OR last_called_at < $2)
   AND call_attempts < $3
 ORDER BY last_called_at ASC NULLS FIRST, created_at ASC
 LIMIT $4`

const markCallingSQL = `UPDATE leads
 SET status = 'calling', call_attempts = $2 + 1, last_called_at = $3, updated_at = $3
 WHERE id = $1 AND call_attempts = $2`

// claimPendingSQL selects and marks eligible leads in one statement. The
// LIMIT subquery re-checks the concurrency budget and FOR UPDATE SKIP LOCKED
// keeps two concurrent passes from claiming the same rows, so the
// count-then-mark window of the two-step path does not exist here.
const claimPendingSQL = `UPDATE leads
 SET status = 'calling', call_attempts = call_attempts + 1, last_called_at = $5, updated_at = $5
 WHERE id IN (
   SELECT id FROM leads
   WHERE user_id = $1 AND status = 'pending'
     AND (last_called_at IS NULL OR last_called_at < $2)
     AND call_attempts < $3
   ORDER BY last_called_at ASC NULLS FIRST, created_at ASC
   LIMIT GREATEST($4 - (SELECT COUNT(*) FROM leads WHERE user_id = $1 AND status = 'calling'), 0)
   FOR UPDATE SKIP LOCKED
 )
 RETURNING ` + leadColumns

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id        TEXT NOT NULL,
	company_name   TEXT NOT NULL,
	contact_name   TEXT NOT NULL,
	phone          TEXT NOT NULL,
	email          TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	call_attempts  INTEGER NOT NULL DEFAULT 0,
	last_called_at TIMESTAMPTZ,
	source         TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_user_status ON leads(user_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_user_phone ON leads(user_id, phone, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_user_source ON leads(user_id, source);

CREATE TABLE IF NOT EXISTS dialer_settings (
	user_id             TEXT PRIMARY KEY,
	max_calls_batch     INTEGER NOT NULL DEFAULT 10,
	retry_interval      INTEGER NOT NULL DEFAULT 15,
	max_attempts        INTEGER NOT NULL DEFAULT 3,
	automation_enabled  BOOLEAN NOT NULL DEFAULT false,
	ai_dialer           TEXT NOT NULL DEFAULT '',
	selected_assistant  TEXT NOT NULL DEFAULT '',
	followupboss_apikey TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InsertLeads(ctx context.Context, userID string, drafts []model.LeadDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	columns := []string{"id", "user_id", "company_name", "contact_name", "phone", "email", "status", "call_attempts", "last_called_at", "source", "created_at", "updated_at"}
	rows := make([][]any, 0, len(drafts))
	for _, d := range drafts {
		var source *string
		if d.Source != "" {
			source = &d.Source
		}
		rows = append(rows, []any{
			uuid.New().String(), userID, d.CompanyName, d.ContactName, d.Phone, d.Email,
			string(model.StatusPending), 0, nil, source, now, now,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "leads", columns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert %d leads", len(drafts))
	}
	return int(n), nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, userID string, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, leadID string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) DeleteLead(ctx context.Context, leadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) DeleteLeadsBySource(ctx context.Context, userID, source string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM leads WHERE user_id = $1 AND source = $2`,
		userID, source,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete leads by source %s", source)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountCalling(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE user_id = $1 AND status = 'calling'`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count calling")
}

func (s *PostgresStore) SelectPending(ctx context.Context, userID string, settings model.Settings, limit int) ([]model.Lead, error) {
	cutoff := retryCutoff(time.Now().UTC(), settings.RetryInterval)

	rows, err := s.pool.Query(ctx, selectPendingSQL, userID, cutoff, settings.MaxAttempts, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select pending")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: select pending iterate")
}

func (s *PostgresStore) MarkCalling(ctx context.Context, leadID string, currentAttempts int) error {
	tag, err := s.pool.Exec(ctx, markCallingSQL, leadID, currentAttempts, time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: mark calling %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAttemptConflict, "postgres: lead %s at attempts %d", leadID, currentAttempts)
	}
	return nil
}

func (s *PostgresStore) ClaimPending(ctx context.Context, userID string, settings model.Settings) ([]model.Lead, error) {
	now := time.Now().UTC()
	cutoff := retryCutoff(now, settings.RetryInterval)

	rows, err := s.pool.Query(ctx, claimPendingSQL,
		userID, cutoff, settings.MaxAttempts, settings.MaxCallsBatch, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim pending")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: claim pending iterate")
}

func (s *PostgresStore) ReconcileOutcome(ctx context.Context, userID, phone string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $3, last_called_at = $4, updated_at = $4
		 WHERE id = (
		   SELECT id FROM leads WHERE user_id = $1 AND phone = $2
		   ORDER BY created_at DESC LIMIT 1
		 )`,
		userID, phone, string(status), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reconcile outcome for %s", phone)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: no lead with phone %s", phone)
	}
	return nil
}

func (s *PostgresStore) ReleaseStuck(ctx context.Context, userID string, olderThan time.Duration) (int, error) {
	threshold := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = 'pending', updated_at = $3
		 WHERE user_id = $1 AND status = 'calling' AND last_called_at < $2`,
		userID, threshold, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: release stuck")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	settings, err := s.querySettings(ctx, userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Settings{}, eris.Wrap(err, "postgres: get settings")
	}

	// Missing row: seed defaults. If the insert fails the caller still gets
	// usable in-memory defaults, just not durable ones.
	defaults := model.DefaultSettings(userID)
	now := time.Now().UTC()
	_, insErr := s.pool.Exec(ctx,
		`INSERT INTO dialer_settings
		 (user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (user_id) DO NOTHING`,
		defaults.UserID, defaults.MaxCallsBatch, defaults.RetryInterval, defaults.MaxAttempts,
		defaults.AutomationEnabled, defaults.Provider, defaults.SelectedAssistant, defaults.FollowUpBossKey, now,
	)
	if insErr != nil {
		// Non-durable fallback: the caller gets usable defaults either way.
		zap.L().Warn("seeding default settings failed",
			zap.String("user_id", userID),
			zap.Error(insErr),
		)
	}
	return defaults, nil
}

func (s *PostgresStore) querySettings(ctx context.Context, userID string) (model.Settings, error) {
	var st model.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey FROM dialer_settings WHERE user_id = $1`,
		userID,
	).Scan(&st.UserID, &st.MaxCallsBatch, &st.RetryInterval, &st.MaxAttempts,
		&st.AutomationEnabled, &st.Provider, &st.SelectedAssistant, &st.FollowUpBossKey)
	return st, err
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if settings.UserID == "" {
		return eris.New("postgres: settings user id is required")
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dialer_settings
		 (user_id, max_calls_batch, retry_interval, max_attempts, automation_enabled, ai_dialer, selected_assistant, followupboss_apikey, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (user_id) DO UPDATE SET
		   max_calls_batch = $2, retry_interval = $3, max_attempts = $4, automation_enabled = $5,
		   ai_dialer = $6, selected_assistant = $7, followupboss_apikey = $8, updated_at = $9`,
		settings.UserID, settings.MaxCallsBatch, settings.RetryInterval, settings.MaxAttempts,
		settings.AutomationEnabled, settings.Provider, settings.SelectedAssistant, settings.FollowUpBossKey, now,
	)
	return eris.Wrapf(err, "postgres: update settings for %s", settings.UserID)
}

// scanLead reads one lead row in leadColumns order.
func scanLead(row pgx.Row) (model.Lead, error) {
	var l model.Lead
	var source *string
	err := row.Scan(&l.ID, &l.UserID, &l.CompanyName, &l.ContactName, &l.Phone, &l.Email,
		&l.Status, &l.CallAttempts, &l.LastCalledAt, &source, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.Lead{}, err
	}
	if source != nil {
		l.Source = *source
	}
	return l, nil
}
