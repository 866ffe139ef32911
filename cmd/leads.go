package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/reva-labs/dialer-cli/internal/model"
	"github.com/reva-labs/dialer-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and manage leads",
	Long:  "Commands for listing leads, updating their status, and deleting them.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		userID, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.LeadFilter{
			Status: model.LeadStatus(status),
			Source: source,
			Limit:  limit,
		}

		leads, err := st.ListLeads(ctx, userID, filter)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads set-status --

var leadsSetStatusCmd = &cobra.Command{
	Use:   "set-status <lead-id> <status>",
	Short: "Set a lead's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status := model.LeadStatus(args[1])
		switch status {
		case model.StatusPending, model.StatusCalling, model.StatusNoAnswer,
			model.StatusScheduled, model.StatusNotInterested:
		default:
			return eris.Errorf("unknown status: %s", args[1])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpdateLeadStatus(ctx, args[0], status); err != nil {
			return eris.Wrap(err, "set status")
		}

		fmt.Printf("Lead %s -> %s\n", args[0], status)
		return nil
	},
}

// -- leads delete --

var leadsDeleteCmd = &cobra.Command{
	Use:   "delete <lead-id>",
	Short: "Delete a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteLead(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete lead")
		}

		fmt.Printf("Deleted lead %s\n", args[0])
		return nil
	},
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tCONTACT\tPHONE\tSTATUS\tATTEMPTS\tLAST_CALLED\tSOURCE")
	_, _ = fmt.Fprintln(w, "--\t-------\t-------\t-----\t------\t--------\t-----------\t------")

	for _, l := range leads {
		lastCalled := "never"
		if l.LastCalledAt != nil {
			lastCalled = l.LastCalledAt.UTC().Format(time.RFC3339)
		}

		company := l.CompanyName
		if len(company) > 30 {
			company = company[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(l.ID), company, l.ContactName, l.Phone,
			l.Status, l.CallAttempts, lastCalled, l.Source)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	leadsListCmd.Flags().String("user", "", "user ID (required)")
	leadsListCmd.Flags().String("status", "", "filter by status (pending, calling, no_answer, scheduled, not_interested)")
	leadsListCmd.Flags().String("source", "", "filter by source label")
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display")
	_ = leadsListCmd.MarkFlagRequired("user")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsSetStatusCmd)
	leadsCmd.AddCommand(leadsDeleteCmd)
	rootCmd.AddCommand(leadsCmd)
}
