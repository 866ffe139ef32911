package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/model"
)

// Dialer hands a claimed lead to the telephony layer. Provider-specific call
// behavior lives behind this interface and outside the scheduling core.
type Dialer interface {
	Dial(ctx context.Context, lead model.Lead, settings model.Settings) error
}

// LogDialer records the dispatch and does nothing else. Used for dry runs
// and as the default when no trigger webhook is configured.
type LogDialer struct{}

func (LogDialer) Dial(_ context.Context, lead model.Lead, settings model.Settings) error {
	zap.L().Info("dry-run dial",
		zap.String("lead_id", lead.ID),
		zap.String("phone", lead.Phone),
		zap.String("provider", settings.Provider),
		zap.String("assistant", settings.SelectedAssistant),
	)
	return nil
}

// WebhookDialer POSTs each claimed lead to a trigger webhook that owns the
// actual provider call. The payload carries the lead plus the provider
// selection from settings, so the receiving side needs no settings access.
type WebhookDialer struct {
	URL  string
	http *http.Client
}

// NewWebhookDialer creates a WebhookDialer for the given trigger URL.
func NewWebhookDialer(url string) *WebhookDialer {
	return &WebhookDialer{
		URL:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type dialPayload struct {
	Lead      model.Lead `json:"lead"`
	Provider  string     `json:"ai_dialer"`
	Assistant string     `json:"selected_assistant"`
}

func (d *WebhookDialer) Dial(ctx context.Context, lead model.Lead, settings model.Settings) error {
	body, err := json.Marshal(dialPayload{
		Lead:      lead,
		Provider:  settings.Provider,
		Assistant: settings.SelectedAssistant,
	})
	if err != nil {
		return eris.Wrap(err, "dialer: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "dialer: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "dialer: post trigger webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("dialer: trigger webhook status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
