// Package reconcile joins cleaned applications with validated servicing
// records on application_id under an explicit Policy.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/transform"
)

const (
	FlagMultipleServicingRecords   = "multiple_servicing_records"
	FlagMultipleApplicationMatches = "multiple_application_matches"
	FlagOrphanedServicingRecord    = "orphaned_servicing_record"
)

// JoinFlagNames lists the portfolio-level flags in reporting order.
func JoinFlagNames() []string {
	return []string{
		FlagMultipleServicingRecords,
		FlagMultipleApplicationMatches,
		FlagOrphanedServicingRecord,
	}
}

type Reconciler struct {
	policy Policy
	engine *transform.Engine
}

func New(policy Policy, engine *transform.Engine) *Reconciler {
	return &Reconciler{policy: policy, engine: engine}
}

func (r *Reconciler) Policy() Policy { return r.policy }

// Join emits applications in source order, each followed by its matching
// servicing records in source order, then the orphaned servicing records
// the policy keeps. Rows are numbered from 1. Empty keys never match.
func (r *Reconciler) Join(apps []domain.CleanedApplication, servicing []domain.ValidatedServicing, processedAt time.Time) []domain.PortfolioRecord {
	servicingByApp := make(map[string][]int, len(servicing))
	for i, s := range servicing {
		if id := s.Record.ApplicationID; id != "" {
			servicingByApp[id] = append(servicingByApp[id], i)
		}
	}
	appCount := make(map[string]int, len(apps))
	for _, a := range apps {
		if a.ApplicationID != "" {
			appCount[a.ApplicationID]++
		}
	}

	out := make([]domain.PortfolioRecord, 0, len(apps)+len(servicing))
	for i := range apps {
		app := &apps[i]
		matches := servicingByApp[app.ApplicationID]
		if app.ApplicationID == "" {
			matches = nil
		}
		if len(matches) == 0 {
			if r.policy.keepsUnmatchedApplications() {
				out = append(out, r.row(app, nil, 0, 0, processedAt))
			}
			continue
		}
		for _, si := range matches {
			out = append(out, r.row(app, &servicing[si], len(matches), appCount[app.ApplicationID], processedAt))
		}
	}

	if r.policy.keepsOrphanedServicing() {
		for i := range servicing {
			s := &servicing[i]
			if appCount[s.Record.ApplicationID] > 0 {
				continue
			}
			out = append(out, r.row(nil, s, 0, 0, processedAt))
		}
	}

	for i := range out {
		out[i].PortfolioRow = i + 1
	}
	return out
}

func (r *Reconciler) row(app *domain.CleanedApplication, svc *domain.ValidatedServicing, servicingMatches, appMatches int, processedAt time.Time) domain.PortfolioRecord {
	rec := domain.PortfolioRecord{
		ServicingFlags: domain.Flags{},
		JoinFlags:      domain.NewFlags(3),
		CombinedFlags:  domain.Flags{},
	}
	if app != nil {
		rec.CleanedApplication = *app
		rec.DataQualityFlags = app.DataQualityFlags.Clone()
		rec.CombinedFlags.Merge(domain.SourceApplications, app.DataQualityFlags)
	} else {
		rec.DataQualityFlags = domain.Flags{}
	}
	rec.ProcessedAt = processedAt

	rec.JoinFlags[FlagMultipleServicingRecords] = app != nil && servicingMatches > 1
	rec.JoinFlags[FlagMultipleApplicationMatches] = svc != nil && appMatches > 1
	rec.JoinFlags[FlagOrphanedServicingRecord] = svc != nil && app == nil

	if svc != nil {
		rec.Servicing = svc.Record
		rec.HasServicing = true
		rec.ServicingFlags = svc.Flags.Clone()
		rec.CombinedFlags.Merge(domain.SourceServicing, svc.Flags)

		var fallback *decimal.Decimal
		if app != nil {
			fallback = app.LoanAmountEUR
		}
		derived := r.engine.DeriveServicing(svc.Record, fallback, processedAt)
		rec.DelinquencyBucket = derived.DelinquencyBucket
		rec.MonthsSinceDisbursement = derived.MonthsSinceDisbursement
		rec.EstimatedRemainingBalance = derived.EstimatedRemainingBalance
		rec.RemainingBalanceIsEstimate = derived.RemainingBalanceIsEstimate
	}
	rec.CombinedFlags.Merge(domain.SourcePortfolio, rec.JoinFlags)
	return rec
}
