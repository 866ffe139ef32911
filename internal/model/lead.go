package model

import (
	"strings"
	"time"
)

// LeadStatus represents the scheduling state of a lead.
type LeadStatus string

const (
	StatusPending       LeadStatus = "pending"
	StatusCalling       LeadStatus = "calling"
	StatusNoAnswer      LeadStatus = "no_answer"
	StatusScheduled     LeadStatus = "scheduled"
	StatusNotInterested LeadStatus = "not_interested"
)

// SourceCRM marks leads created by a CRM resync. Manually imported leads
// carry an empty source.
const SourceCRM = "CRM"

// Lead is a contact record targeted for an outbound automated call.
type Lead struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	CompanyName  string     `json:"company_name"`
	ContactName  string     `json:"contact_name"`
	Phone        string     `json:"phone"`
	Email        string     `json:"email"`
	Status       LeadStatus `json:"status"`
	CallAttempts int        `json:"call_attempts"`
	LastCalledAt *time.Time `json:"last_called_at,omitempty"`
	Source       string     `json:"source,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// InFlight reports whether the lead currently occupies a concurrency slot.
func (l Lead) InFlight() bool {
	return l.Status == StatusCalling
}

// LeadDraft is a lead as produced by an import adapter, before the store
// assigns identity and timestamps. Drafts always start pending with zero
// attempts.
type LeadDraft struct {
	CompanyName string `json:"company_name"`
	ContactName string `json:"contact_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Source      string `json:"source,omitempty"`
}

// OutcomeStatus maps a dialer-reported outcome string onto a LeadStatus.
// Providers disagree on vocabulary, so matching is loose: anything that
// signals a booked appointment maps to scheduled, explicit rejections map
// to not_interested, and everything else (busy, failed, voicemail, unknown
// strings) collapses into no_answer so the lead becomes retry-eligible.
func OutcomeStatus(outcome string) LeadStatus {
	switch normalizeOutcome(outcome) {
	case "scheduled", "appointment", "appointmentscheduled", "booked":
		return StatusScheduled
	case "notinterested", "declined", "rejected", "donotcall":
		return StatusNotInterested
	case "pending":
		return StatusPending
	default:
		return StatusNoAnswer
	}
}

func normalizeOutcome(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
