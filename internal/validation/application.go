package validation

import (
	"regexp"

	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

const (
	RuleApplicationIDNull         = "application_id_null"
	RuleApplicationIDDuplicate    = "application_id_duplicate"
	RuleLoanAmountNonPositive     = "loan_amount_non_positive"
	RuleCreditScoreMissing        = "credit_score_missing"
	RuleCreditScoreOutOfRange     = "credit_score_out_of_range"
	RulePostalCodeInvalid         = "postal_code_invalid"
	RuleInstallationTypeInvalid   = "installation_type_invalid"
	RuleSystemSizeInvalid         = "system_size_invalid"
	RuleSystemSizePresentSizeless = "system_size_present_for_heat_pump"
)

// ApplicationRules builds the application rule set for one batch. Duplicate
// detection is scoped to apps.
func ApplicationRules(rules config.Rules, apps []domain.Application) RuleSet[domain.Application] {
	ids := countKeys(apps, func(a domain.Application) string { return a.ApplicationID })
	postal := regexp.MustCompile(rules.PostalCodePattern)

	return RuleSet[domain.Application]{
		{Name: RuleApplicationIDNull, Violated: func(a domain.Application) bool {
			return a.ApplicationID == ""
		}},
		{Name: RuleApplicationIDDuplicate, Violated: func(a domain.Application) bool {
			return a.ApplicationID != "" && ids[a.ApplicationID] > 1
		}},
		{Name: RuleLoanAmountNonPositive, Violated: func(a domain.Application) bool {
			return a.LoanAmountEUR == nil || !a.LoanAmountEUR.IsPositive()
		}},
		{Name: RuleCreditScoreMissing, Violated: func(a domain.Application) bool {
			return a.CreditScore == nil
		}},
		{Name: RuleCreditScoreOutOfRange, Violated: func(a domain.Application) bool {
			return a.CreditScore != nil &&
				(*a.CreditScore < rules.CreditScore.Min || *a.CreditScore > rules.CreditScore.Max)
		}},
		{Name: RulePostalCodeInvalid, Violated: func(a domain.Application) bool {
			return !postal.MatchString(a.PostalCode)
		}},
		{Name: RuleInstallationTypeInvalid, Violated: func(a domain.Application) bool {
			return !contains(rules.InstallationTypes, a.InstallationType)
		}},
		{Name: RuleSystemSizeInvalid, Violated: func(a domain.Application) bool {
			return contains(rules.SolarInstallationTypes, a.InstallationType) &&
				(a.SystemSizeKWp == nil || *a.SystemSizeKWp <= 0)
		}},
		// A size on a heat pump is unexpected rather than invalid; it is still
		// surfaced so analysts can decide.
		{Name: RuleSystemSizePresentSizeless, Violated: func(a domain.Application) bool {
			return contains(rules.SizelessInstallationTypes, a.InstallationType) && a.SystemSizeKWp != nil
		}},
	}
}

// ApplicationRuleNames lists the application rules in evaluation order.
func ApplicationRuleNames() []string {
	return ApplicationRules(config.DefaultRules(), nil).Names()
}
