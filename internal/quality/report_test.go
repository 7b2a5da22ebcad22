package quality

import (
	"testing"
	"time"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/reconcile"
	"github.com/smallbiznis/loanportfolio/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleaned(id string, violated ...string) domain.CleanedApplication {
	flags := domain.Flags{}
	for _, name := range validation.ApplicationRuleNames() {
		flags[name] = false
	}
	for _, name := range violated {
		flags[name] = true
	}
	return domain.CleanedApplication{
		Application:      domain.Application{ApplicationID: id},
		DataQualityFlags: flags,
	}
}

func servicing(loanID, appID string, violated ...string) domain.ValidatedServicing {
	flags := domain.Flags{}
	for _, name := range validation.ServicingRuleNames() {
		flags[name] = false
	}
	for _, name := range violated {
		flags[name] = true
	}
	return domain.ValidatedServicing{
		Record: domain.ServicingRecord{LoanID: loanID, ApplicationID: appID},
		Flags:  flags,
	}
}

func portfolioRow(appID, svcAppID string, joinViolated ...string) domain.PortfolioRecord {
	join := domain.Flags{}
	for _, name := range reconcile.JoinFlagNames() {
		join[name] = false
	}
	for _, name := range joinViolated {
		join[name] = true
	}
	row := domain.PortfolioRecord{JoinFlags: join}
	row.ApplicationID = appID
	row.Servicing.ApplicationID = svcAppID
	return row
}

func TestBuild(t *testing.T) {
	processedAt := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	in := Input{
		ProcessedAt: processedAt,
		Applications: []domain.CleanedApplication{
			cleaned("app_1"),
			cleaned("app_bad", validation.RuleCreditScoreOutOfRange, validation.RulePostalCodeInvalid),
			cleaned("", validation.RuleApplicationIDNull),
			cleaned("app_123"),
			cleaned("app_declined"),
		},
		ApplicationsQuarantined: []domain.QuarantinedRow{{Source: domain.SourceApplications, LineNumber: 7}},
		Servicing: []domain.ValidatedServicing{
			servicing("loan_1", "app_1"),
			servicing("loan_2", "app_declined", validation.RuleApplicationNotApproved),
			servicing("loan_3", "app_123", validation.RuleApplicationIDMultipleLoans),
			servicing("loan_4", "app_123", validation.RuleApplicationIDMultipleLoans),
		},
		ServicingQuarantined: []domain.QuarantinedRow{{Source: domain.SourceServicing, LineNumber: 3}, {Source: domain.SourceServicing, LineNumber: 9}},
		Portfolio: []domain.PortfolioRecord{
			portfolioRow("app_1", "app_1"),
			portfolioRow("app_123", "app_123", reconcile.FlagMultipleServicingRecords),
			portfolioRow("app_123", "app_123", reconcile.FlagMultipleServicingRecords),
			portfolioRow("", "app_ghost", reconcile.FlagOrphanedServicingRecord),
		},
	}

	report := Build(in)

	assert.Equal(t, processedAt, report.ProcessedAt)
	assert.Equal(t, domain.SourceCounts{Read: 6, Processed: 5, Quarantined: 1}, report.Applications)
	assert.Equal(t, domain.SourceCounts{Read: 6, Processed: 4, Quarantined: 2}, report.Servicing)
	assert.Equal(t, 4, report.PortfolioRows)
	assert.Len(t, report.Quarantined, 3)

	want := len(validation.ApplicationRuleNames()) + len(validation.ServicingRuleNames()) + len(reconcile.JoinFlagNames())
	require.Len(t, report.RuleFailures, want)
	assert.Equal(t, domain.RuleFailure{Source: domain.SourceApplications, Rule: validation.RuleApplicationIDNull, Failures: 1}, report.RuleFailures[0])
	assert.Equal(t, 1, report.Failures(domain.SourceApplications, validation.RuleCreditScoreOutOfRange))
	assert.Equal(t, 0, report.Failures(domain.SourceApplications, validation.RuleApplicationIDDuplicate))
	assert.Equal(t, 2, report.Failures(domain.SourceServicing, validation.RuleApplicationIDMultipleLoans))
	assert.Equal(t, 2, report.Failures(domain.SourcePortfolio, reconcile.FlagMultipleServicingRecords))
	assert.Equal(t, 1, report.Failures(domain.SourcePortfolio, reconcile.FlagOrphanedServicingRecord))

	assert.Equal(t, []string{"app_123", "app_bad", "app_declined", "app_ghost"}, report.ProblematicApplicationIDs)
	assert.True(t, report.HasAnomalies())
}

func TestBuild_CleanRunHasNoAnomalies(t *testing.T) {
	report := Build(Input{
		Applications: []domain.CleanedApplication{cleaned("app_1")},
		Servicing:    []domain.ValidatedServicing{servicing("loan_1", "app_1")},
		Portfolio:    []domain.PortfolioRecord{portfolioRow("app_1", "app_1")},
	})

	assert.False(t, report.HasAnomalies())
	assert.Empty(t, report.ProblematicApplicationIDs)
	assert.NotNil(t, report.ProblematicApplicationIDs)
	for _, f := range report.RuleFailures {
		assert.Zero(t, f.Failures, f.Key())
	}
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	apps := []domain.CleanedApplication{cleaned("app_b", validation.RulePostalCodeInvalid), cleaned("app_a", validation.RulePostalCodeInvalid)}
	_ = Build(Input{Applications: apps})

	assert.Equal(t, "app_b", apps[0].ApplicationID)
	assert.True(t, apps[0].DataQualityFlags[validation.RulePostalCodeInvalid])
}

func TestBuild_UnlistedRulesAreReported(t *testing.T) {
	report := Build(Input{
		Applications:     []domain.CleanedApplication{{DataQualityFlags: domain.Flags{"custom_rule": true}}},
		ApplicationRules: []string{},
		ServicingRules:   []string{},
		PortfolioRules:   []string{},
	})

	require.Len(t, report.RuleFailures, 1)
	assert.Equal(t, "applications.custom_rule", report.RuleFailures[0].Key())
}
