package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRules_MissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestLoadRules_PartialFileKeepsDefaultsForOmittedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	content := `rules:
  approvedStatuses: [Approved, funded]
  riskBands:
    - { label: Good, minScore: 700 }
    - { label: Prime, minScore: 780 }
    - { label: Subprime, minScore: 0 }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"approved", "funded"}, rules.ApprovedStatuses)
	assert.Equal(t, "Prime", rules.RiskBands[0].Label, "bands are ordered by descending threshold")
	assert.Equal(t, "Subprime", rules.RiskBands[2].Label)
	assert.Equal(t, DefaultRules().DelinquencyBuckets, rules.DelinquencyBuckets)
	assert.Equal(t, ScoreRange{Min: 300, Max: 850}, rules.CreditScore)
}

func TestLoadRules_ExampleFileMatchesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join("..", "..", "rules.example.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
	assert.Empty(t, rules.ApplicationIDPattern, "application id format check is opt-in")
}

func TestLoadRules_InstallationTypesKeepTheirSpelling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yml")
	content := `rules:
  installationTypes: [" solar_pv ", Heat_Pump]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"solar_pv", "Heat_Pump"}, rules.InstallationTypes)
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Rules)
	}{
		{"inverted score range", func(r *Rules) { r.CreditScore = ScoreRange{Min: 900, Max: 300} }},
		{"no risk bands", func(r *Rules) { r.RiskBands = nil }},
		{"overlapping buckets", func(r *Rules) {
			r.DelinquencyBuckets = []DelinquencyBucket{
				{Label: "a", MinDays: 0, MaxDays: intPtr(10)},
				{Label: "b", MinDays: 5, MaxDays: nil},
			}
		}},
		{"bad postal pattern", func(r *Rules) { r.PostalCodePattern = "([" }},
		{"no approved statuses", func(r *Rules) { r.ApprovedStatuses = nil }},
	}

	require.NoError(t, ValidateRules(DefaultRules()))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rules := DefaultRules()
			tc.mutate(&rules)
			assert.Error(t, ValidateRules(rules))
		})
	}
}

func TestParseFormats(t *testing.T) {
	assert.Equal(t, []string{"csv", "pdf"}, parseFormats(" CSV, pdf ,csv,xml"))
	assert.Equal(t, []string{"csv"}, parseFormats(""))
}
