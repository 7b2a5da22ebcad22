// Package store persists a run's record sets into the relational output store.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/publish"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const batchSize = 500

// Publisher replaces every output table inside one transaction.
type Publisher struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewPublisher(db *gorm.DB, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{db: db, log: log.Named("store")}
}

func (p *Publisher) Name() string { return "store" }

// Prepare writes out inside an open transaction. Readers keep seeing the
// previous run until the returned stage is committed.
func (p *Publisher) Prepare(ctx context.Context, out *domain.RunOutput) (publish.Staged, error) {
	if out == nil {
		return nil, fmt.Errorf("store: nil run output")
	}
	tx := p.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin: %w", tx.Error)
	}

	if err := replaceAll(tx, out); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			p.log.Warn("store rollback failed", zap.Error(rbErr))
		}
		return nil, err
	}

	p.log.Debug("store.prepared",
		zap.Int("cleaned_applications", len(out.CleanedApplications)),
		zap.Int("loan_portfolio", len(out.Portfolio)),
	)
	return &stagedTx{tx: tx}, nil
}

func replaceAll(tx *gorm.DB, out *domain.RunOutput) error {
	for _, model := range Models() {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}

	report, err := reportRow(out.Report)
	if err != nil {
		return err
	}

	if err := insert(tx, out.CleanedApplications); err != nil {
		return fmt.Errorf("insert cleaned_applications: %w", err)
	}
	if err := insert(tx, out.Portfolio); err != nil {
		return fmt.Errorf("insert loan_portfolio: %w", err)
	}
	if err := tx.Create(&report).Error; err != nil {
		return fmt.Errorf("insert data_quality_report: %w", err)
	}
	if err := insert(tx, ruleFailureRows(out.Report)); err != nil {
		return fmt.Errorf("insert data_quality_rule_failures: %w", err)
	}
	if err := insert(tx, problematicRows(out.Report)); err != nil {
		return fmt.Errorf("insert data_quality_problematic_ids: %w", err)
	}
	if err := insert(tx, quarantineRows(out.Report)); err != nil {
		return fmt.Errorf("insert data_quality_quarantine: %w", err)
	}
	return nil
}

func insert[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, batchSize).Error
}

func reportRow(r domain.QualityReport) (ReportRow, error) {
	failures, err := json.Marshal(r.RuleFailures)
	if err != nil {
		return ReportRow{}, err
	}
	ids := r.ProblematicApplicationIDs
	if ids == nil {
		ids = []string{}
	}
	problematic, err := json.Marshal(ids)
	if err != nil {
		return ReportRow{}, err
	}
	return ReportRow{
		ID:                        1,
		ProcessedAt:               r.ProcessedAt,
		ApplicationsRead:          r.Applications.Read,
		ApplicationsProcessed:     r.Applications.Processed,
		ApplicationsQuarantined:   r.Applications.Quarantined,
		ServicingRead:             r.Servicing.Read,
		ServicingProcessed:        r.Servicing.Processed,
		ServicingQuarantined:      r.Servicing.Quarantined,
		PortfolioRows:             r.PortfolioRows,
		HasAnomalies:              r.HasAnomalies(),
		RuleFailures:              datatypes.JSON(failures),
		ProblematicApplicationIDs: datatypes.JSON(problematic),
	}, nil
}

func ruleFailureRows(r domain.QualityReport) []RuleFailureRow {
	rows := make([]RuleFailureRow, len(r.RuleFailures))
	for i, f := range r.RuleFailures {
		rows[i] = RuleFailureRow{Position: i + 1, Source: f.Source, Rule: f.Rule, Failures: f.Failures}
	}
	return rows
}

func problematicRows(r domain.QualityReport) []ProblematicIDRow {
	rows := make([]ProblematicIDRow, len(r.ProblematicApplicationIDs))
	for i, id := range r.ProblematicApplicationIDs {
		rows[i] = ProblematicIDRow{ApplicationID: id}
	}
	return rows
}

func quarantineRows(r domain.QualityReport) []QuarantineRow {
	rows := make([]QuarantineRow, len(r.Quarantined))
	for i, q := range r.Quarantined {
		rows[i] = QuarantineRow{
			Position:           i + 1,
			Source:             q.Source,
			LineNumber:         q.LineNumber,
			FieldCount:         q.FieldCount,
			ExpectedFieldCount: q.ExpectedFieldCount,
			Reason:             q.Reason,
			Raw:                q.Raw,
		}
	}
	return rows
}

type stagedTx struct {
	tx *gorm.DB
}

func (s *stagedTx) Commit(context.Context) error {
	return s.tx.Commit().Error
}

func (s *stagedTx) Rollback(context.Context) error {
	return s.tx.Rollback().Error
}
