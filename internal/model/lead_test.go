package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeStatus(t *testing.T) {
	tests := []struct {
		outcome string
		want    LeadStatus
	}{
		{"scheduled", StatusScheduled},
		{"Appointment Scheduled", StatusScheduled},
		{"booked", StatusScheduled},
		{"not-interested", StatusNotInterested},
		{"not_interested", StatusNotInterested},
		{"do-not-call", StatusNotInterested},
		{"no-answer", StatusNoAnswer},
		{"no_answer", StatusNoAnswer},
		{"busy", StatusNoAnswer},
		{"voicemail", StatusNoAnswer},
		{"failed", StatusNoAnswer},
		{"", StatusNoAnswer},
		{"something-unexpected", StatusNoAnswer},
		{"pending", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeStatus(tt.outcome))
		})
	}
}

func TestLead_InFlight(t *testing.T) {
	assert.True(t, Lead{Status: StatusCalling}.InFlight())
	assert.False(t, Lead{Status: StatusPending}.InFlight())
	assert.False(t, Lead{Status: StatusNoAnswer}.InFlight())
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings("user-1")
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, 10, s.MaxCallsBatch)
	assert.Equal(t, 15, s.RetryInterval)
	assert.Equal(t, 3, s.MaxAttempts)
	assert.False(t, s.AutomationEnabled)
}
