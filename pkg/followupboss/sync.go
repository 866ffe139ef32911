package followupboss

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/model"
	"github.com/reva-labs/dialer-cli/internal/store"
)

// DraftFromPerson maps a FollowUpBoss person onto a lead draft. Company
// comes from the enrichment block, falling back to the contact name when the
// CRM has no company on file; contact name prefers the display name over
// first+last. People without a phone or email cannot be dialed and map to a
// zero draft, which the caller skips.
func DraftFromPerson(p Person) model.LeadDraft {
	contact := strings.TrimSpace(p.Name)
	if contact == "" {
		contact = strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	}

	var phone, email string
	if len(p.Phones) > 0 {
		phone = strings.TrimSpace(p.Phones[0].Value)
	}
	if len(p.Emails) > 0 {
		email = strings.TrimSpace(p.Emails[0].Value)
	}
	if contact == "" || phone == "" || email == "" {
		return model.LeadDraft{}
	}

	company := strings.TrimSpace(p.SocialData.Company)
	if company == "" {
		company = contact
	}

	return model.LeadDraft{
		CompanyName: company,
		ContactName: contact,
		Phone:       phone,
		Email:       email,
		Source:      model.SourceCRM,
	}
}

// SyncLeads performs a full CRM resync for one user: fetch everything from
// FollowUpBoss, delete the user's existing CRM-sourced leads, insert the
// fresh set. This is a destructive replace — attempt history on CRM leads
// does not survive a resync. Returns the number of leads inserted.
func SyncLeads(ctx context.Context, c Client, st store.Store, userID string) (int, error) {
	people, err := c.ListPeople(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "followupboss: fetch people")
	}

	drafts := make([]model.LeadDraft, 0, len(people))
	skipped := 0
	for _, p := range people {
		d := DraftFromPerson(p)
		if d.Phone == "" {
			skipped++
			continue
		}
		drafts = append(drafts, d)
	}

	deleted, err := st.DeleteLeadsBySource(ctx, userID, model.SourceCRM)
	if err != nil {
		return 0, eris.Wrap(err, "followupboss: purge previous CRM leads")
	}

	inserted, err := st.InsertLeads(ctx, userID, drafts)
	if err != nil {
		return 0, eris.Wrap(err, "followupboss: insert synced leads")
	}

	zap.L().Info("crm resync complete",
		zap.String("user_id", userID),
		zap.Int("fetched", len(people)),
		zap.Int("skipped", skipped),
		zap.Int("deleted", deleted),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}
