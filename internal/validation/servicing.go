package validation

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

const (
	RuleLoanIDNull                      = "loan_id_null"
	RuleLoanIDDuplicate                 = "loan_id_duplicate"
	RuleServicingApplicationIDNull      = "application_id_null"
	RuleApplicationIDInvalidFormat      = "application_id_invalid_format"
	RuleApplicationIDNotFound           = "application_id_not_found"
	RuleApplicationNotApproved          = "application_not_approved"
	RuleApplicationIDMultipleLoans      = "application_id_multiple_loans"
	RuleCurrentBalanceExceedsOriginal   = "current_balance_exceeds_original"
	RuleCurrentBalanceNegative          = "current_balance_negative"
	RuleDaysPastDueNegative             = "days_past_due_negative"
	RuleDisbursementNotAfterApplication = "disbursement_not_after_application"
	RuleLastPaymentBeforeDisbursement   = "last_payment_before_disbursement"
	RuleNextDueBeforeDisbursement       = "next_due_before_disbursement"
	RuleLastPaymentAfterNextDue         = "last_payment_after_next_due"
)

// ApplicationIndex resolves servicing references against the application batch.
type ApplicationIndex struct {
	byID     map[string][]domain.Application
	approved []string
}

func NewApplicationIndex(apps []domain.Application, approvedStatuses []string) ApplicationIndex {
	byID := make(map[string][]domain.Application, len(apps))
	for _, a := range apps {
		if a.ApplicationID == "" {
			continue
		}
		byID[a.ApplicationID] = append(byID[a.ApplicationID], a)
	}
	return ApplicationIndex{byID: byID, approved: approvedStatuses}
}

// Lookup returns every application row carrying id, in source order.
func (ix ApplicationIndex) Lookup(id string) []domain.Application {
	if id == "" {
		return nil
	}
	return ix.byID[id]
}

// Approved reports whether any application row for id is in an approved status.
func (ix ApplicationIndex) Approved(id string) bool {
	for _, a := range ix.Lookup(id) {
		if contains(ix.approved, a.Status) {
			return true
		}
	}
	return false
}

// LatestApplicationDate is the most recent known application_date for id.
func (ix ApplicationIndex) LatestApplicationDate(id string) *time.Time {
	var latest *time.Time
	for _, a := range ix.Lookup(id) {
		if a.ApplicationDate == nil {
			continue
		}
		if latest == nil || a.ApplicationDate.After(*latest) {
			d := *a.ApplicationDate
			latest = &d
		}
	}
	return latest
}

// OriginalAmount is the record's own original amount, or the loan amount of
// the first referenced application when the servicing source omits it.
func (ix ApplicationIndex) OriginalAmount(rec domain.ServicingRecord) *decimal.Decimal {
	if rec.OriginalLoanAmountEUR != nil {
		return rec.OriginalLoanAmountEUR
	}
	for _, a := range ix.Lookup(rec.ApplicationID) {
		if a.LoanAmountEUR != nil {
			return a.LoanAmountEUR
		}
	}
	return nil
}

// ServicingRules builds the servicing rule set for one batch, resolving
// references through ix.
func ServicingRules(rules config.Rules, ix ApplicationIndex, records []domain.ServicingRecord) RuleSet[domain.ServicingRecord] {
	loanIDs := countKeys(records, func(r domain.ServicingRecord) string { return r.LoanID })
	appRefs := countKeys(records, func(r domain.ServicingRecord) string { return r.ApplicationID })

	var idFormat *regexp.Regexp
	if rules.ApplicationIDPattern != "" {
		idFormat = regexp.MustCompile(rules.ApplicationIDPattern)
	}

	return RuleSet[domain.ServicingRecord]{
		{Name: RuleLoanIDNull, Violated: func(r domain.ServicingRecord) bool {
			return r.LoanID == ""
		}},
		{Name: RuleLoanIDDuplicate, Violated: func(r domain.ServicingRecord) bool {
			return r.LoanID != "" && loanIDs[r.LoanID] > 1
		}},
		{Name: RuleServicingApplicationIDNull, Violated: func(r domain.ServicingRecord) bool {
			return r.ApplicationID == ""
		}},
		{Name: RuleApplicationIDInvalidFormat, Violated: func(r domain.ServicingRecord) bool {
			return idFormat != nil && r.ApplicationID != "" && !idFormat.MatchString(r.ApplicationID)
		}},
		{Name: RuleApplicationIDNotFound, Violated: func(r domain.ServicingRecord) bool {
			return r.ApplicationID != "" && len(ix.Lookup(r.ApplicationID)) == 0
		}},
		{Name: RuleApplicationNotApproved, Violated: func(r domain.ServicingRecord) bool {
			return len(ix.Lookup(r.ApplicationID)) > 0 && !ix.Approved(r.ApplicationID)
		}},
		{Name: RuleApplicationIDMultipleLoans, Violated: func(r domain.ServicingRecord) bool {
			return r.ApplicationID != "" && appRefs[r.ApplicationID] > 1
		}},
		{Name: RuleCurrentBalanceExceedsOriginal, Violated: func(r domain.ServicingRecord) bool {
			original := ix.OriginalAmount(r)
			return r.CurrentBalanceEUR != nil && original != nil && r.CurrentBalanceEUR.GreaterThan(*original)
		}},
		{Name: RuleCurrentBalanceNegative, Violated: func(r domain.ServicingRecord) bool {
			return r.CurrentBalanceEUR != nil && r.CurrentBalanceEUR.IsNegative()
		}},
		{Name: RuleDaysPastDueNegative, Violated: func(r domain.ServicingRecord) bool {
			return r.DaysPastDue != nil && *r.DaysPastDue < 0
		}},
		{Name: RuleDisbursementNotAfterApplication, Violated: func(r domain.ServicingRecord) bool {
			applied := ix.LatestApplicationDate(r.ApplicationID)
			return r.DisbursementDate != nil && applied != nil && !r.DisbursementDate.After(*applied)
		}},
		{Name: RuleLastPaymentBeforeDisbursement, Violated: func(r domain.ServicingRecord) bool {
			return before(r.LastPaymentDate, r.DisbursementDate)
		}},
		{Name: RuleNextDueBeforeDisbursement, Violated: func(r domain.ServicingRecord) bool {
			return before(r.NextPaymentDue, r.DisbursementDate)
		}},
		{Name: RuleLastPaymentAfterNextDue, Violated: func(r domain.ServicingRecord) bool {
			return before(r.NextPaymentDue, r.LastPaymentDate)
		}},
	}
}

// ServicingRuleNames lists the servicing rules in evaluation order.
func ServicingRuleNames() []string {
	return ServicingRules(config.DefaultRules(), ApplicationIndex{}, nil).Names()
}

// before is false when either side is NULL.
func before(a, b *time.Time) bool {
	return a != nil && b != nil && a.Before(*b)
}
