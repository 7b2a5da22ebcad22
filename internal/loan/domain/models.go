// Package domain holds the record types produced and consumed by each pipeline stage.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceApplications = "applications"
	SourceServicing    = "lms"
	SourcePortfolio    = "portfolio"
)

// Application is one parsed row of the applications source. Empty text means NULL.
type Application struct {
	SourceLine         int              `gorm:"column:source_line" json:"source_line"`
	ApplicationID      string           `gorm:"column:application_id;type:varchar(255);index" json:"application_id"`
	CustomerEmail      string           `gorm:"column:customer_email;type:text" json:"customer_email"`
	InstallerPartnerID string           `gorm:"column:installer_partner_id;type:text" json:"installer_partner_id"`
	InstallationType   string           `gorm:"column:installation_type;type:text" json:"installation_type"`
	SystemSizeKWp      *float64         `gorm:"column:system_size_kwp" json:"system_size_kwp"`
	LoanAmountEUR      *decimal.Decimal `gorm:"column:loan_amount_eur;type:numeric" json:"loan_amount_eur"`
	LoanTermMonths     *int             `gorm:"column:loan_term_months" json:"loan_term_months"`
	ApplicationDate    *time.Time       `gorm:"column:application_date;type:date" json:"application_date"`
	CreditScore        *int             `gorm:"column:credit_score" json:"credit_score"`
	AnnualIncomeEUR    *decimal.Decimal `gorm:"column:annual_income_eur;type:numeric" json:"annual_income_eur"`
	PostalCode         string           `gorm:"column:postal_code;type:text" json:"postal_code"`
	Status             string           `gorm:"column:status;type:text" json:"status"`
}

// ServicingRecord is one parsed row of the loan-management (LMS) source.
type ServicingRecord struct {
	SourceLine            int              `gorm:"column:source_line" json:"source_line"`
	LoanID                string           `gorm:"column:loan_id;type:text" json:"loan_id"`
	ApplicationID         string           `gorm:"column:application_id;type:text" json:"application_id"`
	OriginalLoanAmountEUR *decimal.Decimal `gorm:"column:original_loan_amount_eur;type:numeric" json:"original_loan_amount_eur"`
	CurrentBalanceEUR     *decimal.Decimal `gorm:"column:current_balance_eur;type:numeric" json:"current_balance_eur"`
	DisbursementDate      *time.Time       `gorm:"column:disbursement_date;type:date" json:"disbursement_date"`
	DaysPastDue           *int             `gorm:"column:days_past_due" json:"days_past_due"`
	PaymentStatus         string           `gorm:"column:payment_status;type:text" json:"payment_status"`
	LastPaymentDate       *time.Time       `gorm:"column:last_payment_date;type:date" json:"last_payment_date"`
	NextPaymentDue        *time.Time       `gorm:"column:next_payment_due;type:date" json:"next_payment_due"`
}

// QuarantinedRow is a raw row that could not be aligned with its source schema.
type QuarantinedRow struct {
	Source             string `json:"source"`
	LineNumber         int    `json:"line_number"`
	FieldCount         int    `json:"field_count"`
	ExpectedFieldCount int    `json:"expected_field_count"`
	Reason             string `json:"reason"`
	Raw                string `json:"raw"`
}

// ValidatedServicing pairs a servicing record with its rule outcomes.
type ValidatedServicing struct {
	Record ServicingRecord
	Flags  Flags
}
