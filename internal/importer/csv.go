// Package importer normalizes heterogeneous lead input (CSV exports, XLSX
// spreadsheets) into lead drafts. Header names vary wildly between CRM
// exports, so required columns are located by fuzzy matching rather than
// exact names.
package importer

import (
	"encoding/csv"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/reva-labs/dialer-cli/internal/model"
)

// columnSynonyms maps each required field to the normalized header names
// that identify it. Normalization lowercases and strips spaces, dashes and
// underscores, so "Phone Number", "phone_number" and "PhoneNumber" all
// collapse to "phonenumber".
var columnSynonyms = map[string][]string{
	"company": {"company", "companyname", "business", "businessname", "organization"},
	"contact": {"contact", "contactname", "name", "fullname"},
	"phone":   {"phone", "phonenumber", "mobile", "cell", "telephone"},
	"email":   {"email", "emailaddress", "mail"},
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, "-", "")
	return h
}

// locateColumns resolves the index of each required field in the header row
// or fails naming every field it could not find.
func locateColumns(headers []string) (map[string]int, error) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalizeHeader(h)
	}

	idx := make(map[string]int, len(columnSynonyms))
	var missing []string
	for field, synonyms := range columnSynonyms {
		found := -1
		for _, syn := range synonyms {
			for i, h := range normalized {
				if h == syn {
					found = i
					break
				}
			}
			if found >= 0 {
				break
			}
		}
		if found < 0 {
			missing = append(missing, field)
			continue
		}
		idx[field] = found
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, eris.Errorf("importer: required column(s) not found: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// ParseCSV reads CSV text and returns one LeadDraft per valid data row.
// The input must contain a header row plus at least one data row; rows
// missing any required value are skipped, and an input that yields no valid
// rows at all is an error (no partial import semantics apply — the caller
// inserts all drafts or none).
func ParseCSV(r io.Reader) ([]model.LeadDraft, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "importer: read csv")
	}

	return draftsFromRows(records)
}

func draftsFromRows(records [][]string) ([]model.LeadDraft, error) {
	if len(records) < 2 {
		return nil, eris.New("importer: file must contain headers and at least one row")
	}

	idx, err := locateColumns(records[0])
	if err != nil {
		return nil, err
	}

	cell := func(row []string, field string) string {
		i := idx[field]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var drafts []model.LeadDraft
	for _, row := range records[1:] {
		d := model.LeadDraft{
			CompanyName: cell(row, "company"),
			ContactName: cell(row, "contact"),
			Phone:       cell(row, "phone"),
			Email:       cell(row, "email"),
		}
		if d.CompanyName == "" || d.ContactName == "" || d.Phone == "" || d.Email == "" {
			continue
		}
		drafts = append(drafts, d)
	}

	if len(drafts) == 0 {
		return nil, eris.New("importer: no valid rows after filtering")
	}
	return drafts, nil
}
