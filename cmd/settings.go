package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and update per-user dialer settings",
}

// -- settings show --

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's dialer settings",
	Long:  "Prints the user's settings as YAML. A settings row with defaults is created on first read.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		userID, _ := cmd.Flags().GetString("user")

		settings, err := st.GetSettings(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "get settings")
		}

		out, err := yaml.Marshal(settings)
		if err != nil {
			return eris.Wrap(err, "marshal settings")
		}
		_, _ = os.Stdout.Write(out)
		return nil
	},
}

// -- settings set --

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update a user's dialer settings",
	Long:  "Updates only the flags that were passed; other settings keep their stored values.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		userID, _ := cmd.Flags().GetString("user")

		settings, err := st.GetSettings(ctx, userID)
		if err != nil {
			return eris.Wrap(err, "get settings")
		}

		if cmd.Flags().Changed("batch") {
			settings.MaxCallsBatch, _ = cmd.Flags().GetInt("batch")
		}
		if cmd.Flags().Changed("retry-interval") {
			settings.RetryInterval, _ = cmd.Flags().GetInt("retry-interval")
		}
		if cmd.Flags().Changed("max-attempts") {
			settings.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")
		}
		if cmd.Flags().Changed("automation") {
			settings.AutomationEnabled, _ = cmd.Flags().GetBool("automation")
		}
		if cmd.Flags().Changed("provider") {
			settings.Provider, _ = cmd.Flags().GetString("provider")
		}
		if cmd.Flags().Changed("assistant") {
			settings.SelectedAssistant, _ = cmd.Flags().GetString("assistant")
		}
		if cmd.Flags().Changed("fub-key") {
			settings.FollowUpBossKey, _ = cmd.Flags().GetString("fub-key")
		}

		if settings.MaxCallsBatch < 1 {
			return eris.New("batch must be at least 1")
		}
		if settings.MaxAttempts < 1 {
			return eris.New("max-attempts must be at least 1")
		}
		if settings.RetryInterval < 0 {
			return eris.New("retry-interval must not be negative")
		}

		if err := st.UpdateSettings(ctx, settings); err != nil {
			return eris.Wrap(err, "update settings")
		}

		fmt.Printf("Settings updated for user %s\n", userID)
		return nil
	},
}

func init() {
	settingsShowCmd.Flags().String("user", "", "user ID (required)")
	_ = settingsShowCmd.MarkFlagRequired("user")

	settingsSetCmd.Flags().String("user", "", "user ID (required)")
	settingsSetCmd.Flags().Int("batch", 0, "max simultaneous calls per scheduling pass")
	settingsSetCmd.Flags().Int("retry-interval", 0, "minutes to wait before re-calling a lead (0 disables the cool-down)")
	settingsSetCmd.Flags().Int("max-attempts", 0, "max call attempts per lead")
	settingsSetCmd.Flags().Bool("automation", false, "enable or disable automated scheduling passes")
	settingsSetCmd.Flags().String("provider", "", "AI dialer provider")
	settingsSetCmd.Flags().String("assistant", "", "selected assistant ID")
	settingsSetCmd.Flags().String("fub-key", "", "Follow Up Boss API key")
	_ = settingsSetCmd.MarkFlagRequired("user")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
