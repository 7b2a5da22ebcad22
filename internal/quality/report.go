// Package quality aggregates the flags and quarantines of one run into a
// QualityReport.
package quality

import (
	"sort"
	"time"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/reconcile"
	"github.com/smallbiznis/loanportfolio/internal/validation"
)

// Input is everything a report is built from. Build only reads it.
type Input struct {
	ProcessedAt time.Time

	Applications            []domain.CleanedApplication
	ApplicationsQuarantined []domain.QuarantinedRow
	Servicing               []domain.ValidatedServicing
	ServicingQuarantined    []domain.QuarantinedRow
	Portfolio               []domain.PortfolioRecord

	// Rule names per source, in reporting order. Nil selects the built-in rule sets.
	ApplicationRules []string
	ServicingRules   []string
	PortfolioRules   []string
}

func Build(in Input) domain.QualityReport {
	appRules := orDefault(in.ApplicationRules, validation.ApplicationRuleNames)
	svcRules := orDefault(in.ServicingRules, validation.ServicingRuleNames)
	portfolioRules := orDefault(in.PortfolioRules, reconcile.JoinFlagNames)

	report := domain.QualityReport{
		ProcessedAt: in.ProcessedAt,
		Applications: domain.SourceCounts{
			Read:        len(in.Applications) + len(in.ApplicationsQuarantined),
			Processed:   len(in.Applications),
			Quarantined: len(in.ApplicationsQuarantined),
		},
		Servicing: domain.SourceCounts{
			Read:        len(in.Servicing) + len(in.ServicingQuarantined),
			Processed:   len(in.Servicing),
			Quarantined: len(in.ServicingQuarantined),
		},
		PortfolioRows: len(in.Portfolio),
		RuleFailures:  make([]domain.RuleFailure, 0, len(appRules)+len(svcRules)+len(portfolioRules)),
		Quarantined:   make([]domain.QuarantinedRow, 0, len(in.ApplicationsQuarantined)+len(in.ServicingQuarantined)),
	}

	problematic := map[string]struct{}{}
	mark := func(id string) {
		if id != "" {
			problematic[id] = struct{}{}
		}
	}

	appCounts := make(map[string]int, len(appRules))
	for _, a := range in.Applications {
		countTrue(appCounts, a.DataQualityFlags)
		if a.DataQualityFlags.Any() {
			mark(a.ApplicationID)
		}
	}
	svcCounts := make(map[string]int, len(svcRules))
	for _, s := range in.Servicing {
		countTrue(svcCounts, s.Flags)
		if s.Flags.Any() {
			mark(s.Record.ApplicationID)
		}
	}
	portfolioCounts := make(map[string]int, len(portfolioRules))
	for _, p := range in.Portfolio {
		countTrue(portfolioCounts, p.JoinFlags)
		if !p.JoinFlags.Any() {
			continue
		}
		mark(p.ApplicationID)
		mark(p.Servicing.ApplicationID)
	}

	report.RuleFailures = appendFailures(report.RuleFailures, domain.SourceApplications, appRules, appCounts)
	report.RuleFailures = appendFailures(report.RuleFailures, domain.SourceServicing, svcRules, svcCounts)
	report.RuleFailures = appendFailures(report.RuleFailures, domain.SourcePortfolio, portfolioRules, portfolioCounts)

	report.Quarantined = append(report.Quarantined, in.ApplicationsQuarantined...)
	report.Quarantined = append(report.Quarantined, in.ServicingQuarantined...)

	report.ProblematicApplicationIDs = make([]string, 0, len(problematic))
	for id := range problematic {
		report.ProblematicApplicationIDs = append(report.ProblematicApplicationIDs, id)
	}
	sort.Strings(report.ProblematicApplicationIDs)
	return report
}

func orDefault(names []string, fallback func() []string) []string {
	if names != nil {
		return names
	}
	return fallback()
}

func countTrue(counts map[string]int, flags domain.Flags) {
	for name, violated := range flags {
		if violated {
			counts[name]++
		}
	}
}

// appendFailures lists every named rule, zero counts included. Rules that
// fired but are not named are appended after them in name order.
func appendFailures(out []domain.RuleFailure, source string, names []string, counts map[string]int) []domain.RuleFailure {
	listed := make(map[string]struct{}, len(names))
	for _, name := range names {
		listed[name] = struct{}{}
		out = append(out, domain.RuleFailure{Source: source, Rule: name, Failures: counts[name]})
	}
	extra := make([]string, 0)
	for name := range counts {
		if _, ok := listed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, domain.RuleFailure{Source: source, Rule: name, Failures: counts[name]})
	}
	return out
}
