package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reva-labs/dialer-cli/internal/importer"
	"github.com/reva-labs/dialer-cli/internal/model"
)

var (
	importFilePath string
	importUserID   string
	importSource   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from a CSV or XLSX file",
	Long:  "Parses a spreadsheet with fuzzy header matching (company, contact, phone, email) and inserts the rows as pending leads for a user.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		drafts, err := parseLeadFile(importFilePath)
		if err != nil {
			return err
		}

		source := importSource
		if source == "" {
			source = filepath.Base(importFilePath)
		}
		for i := range drafts {
			drafts[i].Source = source
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inserted, err := st.InsertLeads(ctx, importUserID, drafts)
		if err != nil {
			return eris.Wrap(err, "insert leads")
		}

		zap.L().Info("import complete",
			zap.Int("inserted", inserted),
			zap.String("file", importFilePath),
			zap.String("user_id", importUserID),
		)
		return nil
	},
}

// parseLeadFile dispatches on file extension.
func parseLeadFile(path string) ([]model.LeadDraft, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return importer.ParseXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open import file")
	}
	defer f.Close() //nolint:errcheck

	return importer.ParseCSV(f)
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importUserID, "user", "", "user ID to import leads for (required)")
	importCmd.Flags().StringVar(&importSource, "source", "", "source label stored on each lead (default file name)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(importCmd)
}
