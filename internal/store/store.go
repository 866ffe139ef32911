package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/reva-labs/dialer-cli/internal/model"
)

// ErrNotFound is returned when an operation targets a lead or settings row
// that does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrAttemptConflict is returned by MarkCalling when the lead's attempt
// counter no longer matches the value the caller selected it with, meaning
// another scheduling pass got there first.
var ErrAttemptConflict = eris.New("store: attempt counter conflict")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Status model.LeadStatus `json:"status,omitempty"`
	Source string           `json:"source,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the call scheduling engine.
// All operations are scoped by an explicit user id; nothing is read from
// ambient state.
type Store interface {
	// Leads
	InsertLeads(ctx context.Context, userID string, drafts []model.LeadDraft) (int, error)
	ListLeads(ctx context.Context, userID string, filter LeadFilter) ([]model.Lead, error)
	UpdateLeadStatus(ctx context.Context, leadID string, status model.LeadStatus) error
	DeleteLead(ctx context.Context, leadID string) error
	DeleteLeadsBySource(ctx context.Context, userID, source string) (int, error)

	// Scheduling
	CountCalling(ctx context.Context, userID string) (int, error)
	SelectPending(ctx context.Context, userID string, settings model.Settings, limit int) ([]model.Lead, error)
	MarkCalling(ctx context.Context, leadID string, currentAttempts int) error
	ClaimPending(ctx context.Context, userID string, settings model.Settings) ([]model.Lead, error)
	ReconcileOutcome(ctx context.Context, userID, phone string, status model.LeadStatus) error
	ReleaseStuck(ctx context.Context, userID string, olderThan time.Duration) (int, error)

	// Settings
	GetSettings(ctx context.Context, userID string) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// retryCutoff computes the newest last_called_at a pending lead may carry
// and still be eligible. A zero retry interval disables the cool-down, which
// the callers express by passing now itself as the cutoff.
func retryCutoff(now time.Time, retryIntervalMinutes int) time.Time {
	if retryIntervalMinutes <= 0 {
		return now
	}
	return now.Add(-time.Duration(retryIntervalMinutes) * time.Minute)
}
