package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/pkg/followupboss"
)

var crmsyncUserID string

var crmsyncCmd = &cobra.Command{
	Use:   "crmsync",
	Short: "Replace CRM-sourced leads from Follow Up Boss",
	Long:  "Fetches all people from Follow Up Boss and replaces the user's CRM-sourced leads with the fetched set. Manually imported leads are untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// The per-user API key lives in the settings row; a key in the
		// config overrides it for all users.
		apiKey := cfg.FollowUpBoss.APIKey
		if apiKey == "" {
			settings, err := st.GetSettings(ctx, crmsyncUserID)
			if err != nil {
				return eris.Wrap(err, "load settings")
			}
			apiKey = settings.FollowUpBossKey
		}
		if apiKey == "" {
			return eris.New("follow up boss API key is required (settings row or DIALER_FOLLOWUPBOSS_API_KEY)")
		}

		client := followupboss.NewClient(apiKey,
			followupboss.WithBaseURL(cfg.FollowUpBoss.BaseURL),
			followupboss.WithRateLimit(cfg.FollowUpBoss.RateLimit),
		)

		inserted, err := followupboss.SyncLeads(ctx, client, st, crmsyncUserID)
		if err != nil {
			return eris.Wrap(err, "crm sync")
		}

		zap.L().Info("crm sync complete",
			zap.Int("inserted", inserted),
			zap.String("user_id", crmsyncUserID),
		)
		return nil
	},
}

func init() {
	crmsyncCmd.Flags().StringVar(&crmsyncUserID, "user", "", "user ID to sync leads for (required)")
	_ = crmsyncCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(crmsyncCmd)
}
