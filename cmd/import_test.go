package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeadFile_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leads.csv")
	csv := "Company,Contact Name,Phone,Email\nAcme Realty,Pat Jones,+15550001111,pat@acme.test\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0644))

	drafts, err := parseLeadFile(path)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Acme Realty", drafts[0].CompanyName)
	assert.Equal(t, "+15550001111", drafts[0].Phone)
}

func TestParseLeadFile_MissingFile(t *testing.T) {
	_, err := parseLeadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestParseLeadFile_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte("Company,Contact,Phone,Email\n"), 0644))

	_, err := parseLeadFile(path)
	assert.Error(t, err)
}
