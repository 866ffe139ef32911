package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/scheduler"
	"github.com/reva-labs/dialer-cli/internal/store"
)

var (
	runUserID   string
	runLoop     bool
	runInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scheduling pass for a user",
	Long:  "Claims up to the user's free batch slots of due pending leads and dispatches each to the dialer. With --loop, repeats on an interval while the user's automation flag is enabled.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner := newRunner(st)

		if !runLoop {
			result, err := runner.RunOnce(ctx, runUserID)
			if err != nil {
				return eris.Wrap(err, "scheduling pass")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		interval := runInterval
		if interval == 0 {
			interval = time.Duration(cfg.Scheduler.IntervalSecs) * time.Second
		}

		zap.L().Info("starting scheduling loop",
			zap.String("user_id", runUserID),
			zap.Duration("interval", interval),
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			settings, err := st.GetSettings(ctx, runUserID)
			if err != nil {
				return eris.Wrap(err, "load settings")
			}

			if !settings.AutomationEnabled {
				zap.L().Debug("automation disabled, skipping pass", zap.String("user_id", runUserID))
			} else {
				result, err := runner.RunOnce(ctx, runUserID)
				if err != nil {
					zap.L().Error("scheduling pass failed",
						zap.String("user_id", runUserID),
						zap.Error(err),
					)
				} else if result.Claimed > 0 || result.Released > 0 {
					zap.L().Info("scheduling pass complete",
						zap.String("user_id", runUserID),
						zap.Int("claimed", result.Claimed),
						zap.Int("dialed", result.Dialed),
						zap.Int("failed", result.Failed),
						zap.Int("released", result.Released),
					)
				}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

// newRunner builds a pass runner from config: webhook dialer when a trigger
// URL is set, log-only dry run otherwise.
func newRunner(st store.Store) *scheduler.Runner {
	var dialer scheduler.Dialer = scheduler.LogDialer{}
	if cfg.Scheduler.TriggerWebhookURL != "" {
		dialer = scheduler.NewWebhookDialer(cfg.Scheduler.TriggerWebhookURL)
	}

	runner := scheduler.NewRunner(st, dialer)
	runner.StuckAfter = time.Duration(cfg.Scheduler.StuckAfterMins) * time.Minute
	return runner
}

func init() {
	runCmd.Flags().StringVar(&runUserID, "user", "", "user ID to schedule calls for (required)")
	runCmd.Flags().BoolVar(&runLoop, "loop", false, "repeat passes on an interval until interrupted")
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "loop interval (default from config)")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)
}
