package ingest

import "github.com/smallbiznis/loanportfolio/internal/loan/domain"

// ApplicationSchema maps the applications source onto domain.Application.
// Postal codes are kept as text so leading zeros survive.
var ApplicationSchema = Schema[domain.Application]{
	Source: domain.SourceApplications,
	Required: []string{
		"application_id",
		"installer_partner_id",
		"installation_type",
		"system_size_kwp",
		"loan_amount_eur",
		"application_date",
		"credit_score",
		"annual_income_eur",
		"postal_code",
		"status",
	},
	Optional: []string{"customer_email", "email", "loan_term_months"},
	Build: func(r Row) domain.Application {
		email := r.Get("customer_email")
		if email == "" {
			email = r.Get("email")
		}
		return domain.Application{
			SourceLine:         r.Line,
			ApplicationID:      r.Get("application_id"),
			CustomerEmail:      normalizeEmail(email),
			InstallerPartnerID: r.Get("installer_partner_id"),
			InstallationType:   r.Get("installation_type"),
			SystemSizeKWp:      parseFloat(r.Get("system_size_kwp")),
			LoanAmountEUR:      parseDecimal(r.Get("loan_amount_eur")),
			LoanTermMonths:     parseInt(r.Get("loan_term_months")),
			ApplicationDate:    parseDate(r.Get("application_date")),
			CreditScore:        parseInt(r.Get("credit_score")),
			AnnualIncomeEUR:    parseDecimal(r.Get("annual_income_eur")),
			PostalCode:         r.Get("postal_code"),
			Status:             lower(r.Get("status")),
		}
	},
}

// ServicingSchema maps the LMS source onto domain.ServicingRecord.
var ServicingSchema = Schema[domain.ServicingRecord]{
	Source: domain.SourceServicing,
	Required: []string{
		"loan_id",
		"application_id",
		"current_balance_eur",
		"disbursement_date",
		"days_past_due",
	},
	Optional: []string{
		"original_loan_amount_eur",
		"payment_status",
		"last_payment_date",
		"next_payment_due",
	},
	Build: func(r Row) domain.ServicingRecord {
		return domain.ServicingRecord{
			SourceLine:            r.Line,
			LoanID:                r.Get("loan_id"),
			ApplicationID:         r.Get("application_id"),
			OriginalLoanAmountEUR: parseDecimal(r.Get("original_loan_amount_eur")),
			CurrentBalanceEUR:     parseDecimal(r.Get("current_balance_eur")),
			DisbursementDate:      parseDate(r.Get("disbursement_date")),
			DaysPastDue:           parseInt(r.Get("days_past_due")),
			PaymentStatus:         lower(r.Get("payment_status")),
			LastPaymentDate:       parseDate(r.Get("last_payment_date")),
			NextPaymentDue:        parseDate(r.Get("next_payment_due")),
		}
	},
}
