package model

// Settings holds the per-user dialer configuration. Exactly one row exists
// per user; a missing row is materialized from DefaultSettings on first
// access rather than treated as an error.
type Settings struct {
	UserID            string `json:"user_id" yaml:"user_id"`
	MaxCallsBatch     int    `json:"max_calls_batch" yaml:"max_calls_batch"`
	RetryInterval     int    `json:"retry_interval" yaml:"retry_interval"` // minutes
	MaxAttempts       int    `json:"max_attempts" yaml:"max_attempts"`
	AutomationEnabled bool   `json:"automation_enabled" yaml:"automation_enabled"`
	Provider          string `json:"ai_dialer" yaml:"ai_dialer"`
	SelectedAssistant string `json:"selected_assistant" yaml:"selected_assistant"`
	FollowUpBossKey   string `json:"followupboss_apikey" yaml:"followupboss_apikey"`
}

// DefaultSettings returns the settings seeded for a user without a row.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:            userID,
		MaxCallsBatch:     10,
		RetryInterval:     15,
		MaxAttempts:       3,
		AutomationEnabled: false,
	}
}
