package store

import (
	"time"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"gorm.io/datatypes"
)

const CuratedViewName = "curated_loan_portfolio"

// ReportRow is the single-row summary of the last run.
type ReportRow struct {
	ID                        int            `gorm:"column:id;primaryKey;autoIncrement:false"`
	ProcessedAt               time.Time      `gorm:"column:processed_at"`
	ApplicationsRead          int            `gorm:"column:applications_read"`
	ApplicationsProcessed     int            `gorm:"column:applications_processed"`
	ApplicationsQuarantined   int            `gorm:"column:applications_quarantined"`
	ServicingRead             int            `gorm:"column:lms_read"`
	ServicingProcessed        int            `gorm:"column:lms_processed"`
	ServicingQuarantined      int            `gorm:"column:lms_quarantined"`
	PortfolioRows             int            `gorm:"column:portfolio_rows"`
	HasAnomalies              bool           `gorm:"column:has_anomalies"`
	RuleFailures              datatypes.JSON `gorm:"column:rule_failures"`
	ProblematicApplicationIDs datatypes.JSON `gorm:"column:problematic_application_ids"`
}

func (ReportRow) TableName() string { return "data_quality_report" }

type RuleFailureRow struct {
	Position int    `gorm:"column:position;primaryKey;autoIncrement:false"`
	Source   string `gorm:"column:source;type:text"`
	Rule     string `gorm:"column:rule;type:text"`
	Failures int    `gorm:"column:failures"`
}

func (RuleFailureRow) TableName() string { return "data_quality_rule_failures" }

type ProblematicIDRow struct {
	ApplicationID string `gorm:"column:application_id;primaryKey;type:varchar(255)"`
}

func (ProblematicIDRow) TableName() string { return "data_quality_problematic_ids" }

type QuarantineRow struct {
	Position           int    `gorm:"column:position;primaryKey;autoIncrement:false"`
	Source             string `gorm:"column:source;type:text"`
	LineNumber         int    `gorm:"column:line_number"`
	FieldCount         int    `gorm:"column:field_count"`
	ExpectedFieldCount int    `gorm:"column:expected_field_count"`
	Reason             string `gorm:"column:reason;type:text"`
	Raw                string `gorm:"column:raw;type:text"`
}

func (QuarantineRow) TableName() string { return "data_quality_quarantine" }

// Models lists every table the publisher writes, in write order.
func Models() []any {
	return []any{
		&domain.CleanedApplication{},
		&domain.PortfolioRecord{},
		&ReportRow{},
		&RuleFailureRow{},
		&ProblematicIDRow{},
		&QuarantineRow{},
	}
}
