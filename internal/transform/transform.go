// Package transform derives analytical fields from parsed records. Every
// function is pure and returns nil instead of guessing when an input is
// missing or unusable.
package transform

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

// RatioPlaces is the output scale of loan_to_income_ratio. Decimal division
// needs a fixed scale, and the ratio is stored and exported at four places.
const RatioPlaces = 4

// Engine applies the configured thresholds.
type Engine struct {
	rules config.Rules
}

func New(rules config.Rules) *Engine {
	return &Engine{rules: rules}
}

// RiskCategory maps an in-range credit score to its band. A NULL or
// out-of-range score is Unknown, never clamped into a band.
func (e *Engine) RiskCategory(score *int) string {
	if score == nil || *score < e.rules.CreditScore.Min || *score > e.rules.CreditScore.Max {
		return config.RiskCategoryUnknown
	}
	for _, band := range e.rules.RiskBands {
		if *score >= band.MinScore {
			return band.Label
		}
	}
	return config.RiskCategoryUnknown
}

// LoanToIncomeRatio divides loan by income. No division is attempted when
// either side is NULL or not positive.
func LoanToIncomeRatio(loan, income *decimal.Decimal) *decimal.Decimal {
	if loan == nil || income == nil || !loan.IsPositive() || !income.IsPositive() {
		return nil
	}
	ratio := loan.DivRound(*income, RatioPlaces)
	return &ratio
}

// DelinquencyBucket returns nil for NULL or negative days, and for days no
// configured bucket covers.
func (e *Engine) DelinquencyBucket(days *int) *string {
	if days == nil || *days < 0 {
		return nil
	}
	for _, b := range e.rules.DelinquencyBuckets {
		if *days >= b.MinDays && (b.MaxDays == nil || *days <= *b.MaxDays) {
			label := b.Label
			return &label
		}
	}
	return nil
}

// MonthsSinceDisbursement counts whole calendar months between the
// disbursement date and the calendar date of now.
func MonthsSinceDisbursement(disbursed *time.Time, now time.Time) *int {
	if disbursed == nil {
		return nil
	}
	dy, dm, dd := disbursed.Date()
	ny, nm, nd := now.Date()
	from := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	if from.After(to) {
		return nil
	}

	months := (ny-dy)*12 + int(nm-dm)
	if nd < dd {
		months--
	}
	return &months
}

// EstimatedRemainingBalance prefers the current balance and falls back to
// the original amount. isEstimate is true only for the fallback.
func EstimatedRemainingBalance(current, original *decimal.Decimal) (balance *decimal.Decimal, isEstimate bool) {
	if current != nil {
		v := *current
		return &v, false
	}
	if original != nil {
		v := *original
		return &v, true
	}
	return nil, false
}

// CleanApplication attaches derived fields and rule outcomes to app without
// touching its parsed values.
func (e *Engine) CleanApplication(app domain.Application, flags domain.Flags, processedAt time.Time) domain.CleanedApplication {
	if flags == nil {
		flags = domain.Flags{}
	}
	return domain.CleanedApplication{
		Application:       app,
		RiskCategory:      e.RiskCategory(app.CreditScore),
		LoanToIncomeRatio: LoanToIncomeRatio(app.LoanAmountEUR, app.AnnualIncomeEUR),
		DataQualityFlags:  flags,
		ProcessedAt:       processedAt,
	}
}

// CleanApplications is CleanApplication over a batch, index-aligned with apps.
func (e *Engine) CleanApplications(apps []domain.Application, flags []domain.Flags, processedAt time.Time) []domain.CleanedApplication {
	out := make([]domain.CleanedApplication, len(apps))
	for i, app := range apps {
		var f domain.Flags
		if i < len(flags) {
			f = flags[i]
		}
		out[i] = e.CleanApplication(app, f, processedAt)
	}
	return out
}

// ServicingDerived are the portfolio fields computed from one servicing record.
type ServicingDerived struct {
	DelinquencyBucket          *string
	MonthsSinceDisbursement    *int
	EstimatedRemainingBalance  *decimal.Decimal
	RemainingBalanceIsEstimate bool
}

// DeriveServicing computes the servicing-side portfolio fields. fallbackOriginal
// is used when the record carries no original amount.
func (e *Engine) DeriveServicing(rec domain.ServicingRecord, fallbackOriginal *decimal.Decimal, now time.Time) ServicingDerived {
	original := rec.OriginalLoanAmountEUR
	if original == nil {
		original = fallbackOriginal
	}
	balance, estimate := EstimatedRemainingBalance(rec.CurrentBalanceEUR, original)
	return ServicingDerived{
		DelinquencyBucket:          e.DelinquencyBucket(rec.DaysPastDue),
		MonthsSinceDisbursement:    MonthsSinceDisbursement(rec.DisbursementDate, now),
		EstimatedRemainingBalance:  balance,
		RemainingBalanceIsEstimate: estimate,
	}
}
