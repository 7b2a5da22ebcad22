package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CleanedApplication is an Application with its derived fields and rule outcomes.
type CleanedApplication struct {
	Application       `gorm:"embedded"`
	RiskCategory      string           `gorm:"column:risk_category;type:text" json:"risk_category"`
	LoanToIncomeRatio *decimal.Decimal `gorm:"column:loan_to_income_ratio;type:numeric" json:"loan_to_income_ratio"`
	DataQualityFlags  Flags            `gorm:"column:data_quality_flags;type:text" json:"data_quality_flags"`
	ProcessedAt       time.Time        `gorm:"column:processed_at" json:"processed_at"`
}

func (CleanedApplication) TableName() string { return "cleaned_applications" }

// PortfolioRecord is one row of the application/servicing reconciliation. The
// application side is empty for an orphaned servicing record; the servicing
// side is empty for an application with no servicing record.
type PortfolioRecord struct {
	PortfolioRow       int `gorm:"column:portfolio_row;primaryKey;autoIncrement:false" json:"portfolio_row"`
	CleanedApplication `gorm:"embedded"`
	Servicing          ServicingRecord `gorm:"embedded;embeddedPrefix:lms_" json:"servicing"`
	HasServicing       bool            `gorm:"column:has_servicing" json:"has_servicing"`
	ServicingFlags     Flags           `gorm:"column:lms_data_quality_flags;type:text" json:"lms_data_quality_flags"`
	JoinFlags          Flags           `gorm:"column:join_flags;type:text" json:"join_flags"`
	CombinedFlags      Flags           `gorm:"column:combined_quality_flags;type:text" json:"combined_quality_flags"`

	DelinquencyBucket          *string          `gorm:"column:delinquency_bucket;type:text" json:"delinquency_bucket"`
	MonthsSinceDisbursement    *int             `gorm:"column:months_since_disbursement" json:"months_since_disbursement"`
	EstimatedRemainingBalance  *decimal.Decimal `gorm:"column:estimated_remaining_balance;type:numeric" json:"estimated_remaining_balance"`
	RemainingBalanceIsEstimate bool             `gorm:"column:remaining_balance_is_estimate" json:"remaining_balance_is_estimate"`
}

func (PortfolioRecord) TableName() string { return "loan_portfolio" }

// HasApplication reports whether the row is anchored on an application.
func (r PortfolioRecord) HasApplication() bool {
	return r.SourceLine > 0
}

// RuleFailure counts the true outcomes of one rule over one source.
type RuleFailure struct {
	Source   string `json:"source"`
	Rule     string `json:"rule"`
	Failures int    `json:"failures"`
}

// Key returns "<source>.<rule>".
func (f RuleFailure) Key() string { return f.Source + "." + f.Rule }

// SourceCounts describes how the rows of one source were routed.
type SourceCounts struct {
	Read        int `json:"read"`
	Processed   int `json:"processed"`
	Quarantined int `json:"quarantined"`
}

// QualityReport aggregates every flag and quarantine of a single run.
type QualityReport struct {
	ProcessedAt               time.Time        `json:"processed_at"`
	Applications              SourceCounts     `json:"applications"`
	Servicing                 SourceCounts     `json:"lms"`
	PortfolioRows             int              `json:"portfolio_rows"`
	RuleFailures              []RuleFailure    `json:"rule_failures"`
	ProblematicApplicationIDs []string         `json:"problematic_application_ids"`
	Quarantined               []QuarantinedRow `json:"quarantined_rows"`
}

// HasAnomalies reports whether the run produced any flag or quarantine.
func (r QualityReport) HasAnomalies() bool {
	if len(r.Quarantined) > 0 || len(r.ProblematicApplicationIDs) > 0 {
		return true
	}
	for _, f := range r.RuleFailures {
		if f.Failures > 0 {
			return true
		}
	}
	return false
}

// Failures returns the count for source.rule, or 0 when the rule is unknown.
func (r QualityReport) Failures(source, rule string) int {
	for _, f := range r.RuleFailures {
		if f.Source == source && f.Rule == rule {
			return f.Failures
		}
	}
	return 0
}

// RunOutput is the complete result set of one pipeline execution.
type RunOutput struct {
	ProcessedAt         time.Time
	CleanedApplications []CleanedApplication
	Servicing           []ValidatedServicing
	Portfolio           []PortfolioRecord
	Report              QualityReport
}

var (
	ErrMissingSource = errors.New("missing_source")
	ErrMissingHeader = errors.New("missing_header")
	ErrMissingColumn = errors.New("missing_column")
)
