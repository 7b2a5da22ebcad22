package export

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

const dateLayout = "2006-01-02"

type column[T any] struct {
	name  string
	value func(T) string
}

func header[T any](cols []column[T]) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func writeCSV[T any](cols []column[T], rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header(cols)); err != nil {
		return nil, err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = c.value(row)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NULL renders as the empty string in every formatter below.

func fmtDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func fmtFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func fmtInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func fmtString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fmtFlags(f domain.Flags) string {
	b, err := f.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

func fmtTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func applicationColumns() []column[domain.CleanedApplication] {
	return []column[domain.CleanedApplication]{
		{"application_id", func(a domain.CleanedApplication) string { return a.ApplicationID }},
		{"customer_email", func(a domain.CleanedApplication) string { return a.CustomerEmail }},
		{"installer_partner_id", func(a domain.CleanedApplication) string { return a.InstallerPartnerID }},
		{"installation_type", func(a domain.CleanedApplication) string { return a.InstallationType }},
		{"system_size_kwp", func(a domain.CleanedApplication) string { return fmtFloat(a.SystemSizeKWp) }},
		{"loan_amount_eur", func(a domain.CleanedApplication) string { return fmtDecimal(a.LoanAmountEUR) }},
		{"loan_term_months", func(a domain.CleanedApplication) string { return fmtInt(a.LoanTermMonths) }},
		{"application_date", func(a domain.CleanedApplication) string { return fmtDate(a.ApplicationDate) }},
		{"credit_score", func(a domain.CleanedApplication) string { return fmtInt(a.CreditScore) }},
		{"annual_income_eur", func(a domain.CleanedApplication) string { return fmtDecimal(a.AnnualIncomeEUR) }},
		{"postal_code", func(a domain.CleanedApplication) string { return a.PostalCode }},
		{"status", func(a domain.CleanedApplication) string { return a.Status }},
		{"risk_category", func(a domain.CleanedApplication) string { return a.RiskCategory }},
		{"loan_to_income_ratio", func(a domain.CleanedApplication) string { return fmtDecimal(a.LoanToIncomeRatio) }},
		{"data_quality_flags", func(a domain.CleanedApplication) string { return fmtFlags(a.DataQualityFlags) }},
		{"processed_at", func(a domain.CleanedApplication) string { return fmtTimestamp(a.ProcessedAt) }},
	}
}

func servicingColumns() []column[domain.ServicingRecord] {
	return []column[domain.ServicingRecord]{
		{"loan_id", func(s domain.ServicingRecord) string { return s.LoanID }},
		{"application_id", func(s domain.ServicingRecord) string { return s.ApplicationID }},
		{"original_loan_amount_eur", func(s domain.ServicingRecord) string { return fmtDecimal(s.OriginalLoanAmountEUR) }},
		{"current_balance_eur", func(s domain.ServicingRecord) string { return fmtDecimal(s.CurrentBalanceEUR) }},
		{"disbursement_date", func(s domain.ServicingRecord) string { return fmtDate(s.DisbursementDate) }},
		{"days_past_due", func(s domain.ServicingRecord) string { return fmtInt(s.DaysPastDue) }},
		{"payment_status", func(s domain.ServicingRecord) string { return s.PaymentStatus }},
		{"last_payment_date", func(s domain.ServicingRecord) string { return fmtDate(s.LastPaymentDate) }},
		{"next_payment_due", func(s domain.ServicingRecord) string { return fmtDate(s.NextPaymentDue) }},
	}
}

func portfolioColumns() []column[domain.PortfolioRecord] {
	cols := []column[domain.PortfolioRecord]{
		{"portfolio_row", func(r domain.PortfolioRecord) string { return strconv.Itoa(r.PortfolioRow) }},
	}
	for _, c := range applicationColumns() {
		if c.name == "processed_at" {
			continue
		}
		value := c.value
		cols = append(cols, column[domain.PortfolioRecord]{c.name, func(r domain.PortfolioRecord) string {
			if !r.HasApplication() {
				return ""
			}
			return value(r.CleanedApplication)
		}})
	}
	for _, c := range servicingColumns() {
		value := c.value
		cols = append(cols, column[domain.PortfolioRecord]{"lms_" + c.name, func(r domain.PortfolioRecord) string {
			if !r.HasServicing {
				return ""
			}
			return value(r.Servicing)
		}})
	}
	return append(cols,
		column[domain.PortfolioRecord]{"has_servicing", func(r domain.PortfolioRecord) string { return strconv.FormatBool(r.HasServicing) }},
		column[domain.PortfolioRecord]{"lms_data_quality_flags", func(r domain.PortfolioRecord) string { return fmtFlags(r.ServicingFlags) }},
		column[domain.PortfolioRecord]{"join_flags", func(r domain.PortfolioRecord) string { return fmtFlags(r.JoinFlags) }},
		column[domain.PortfolioRecord]{"combined_quality_flags", func(r domain.PortfolioRecord) string { return fmtFlags(r.CombinedFlags) }},
		column[domain.PortfolioRecord]{"delinquency_bucket", func(r domain.PortfolioRecord) string { return fmtString(r.DelinquencyBucket) }},
		column[domain.PortfolioRecord]{"months_since_disbursement", func(r domain.PortfolioRecord) string { return fmtInt(r.MonthsSinceDisbursement) }},
		column[domain.PortfolioRecord]{"estimated_remaining_balance", func(r domain.PortfolioRecord) string { return fmtDecimal(r.EstimatedRemainingBalance) }},
		column[domain.PortfolioRecord]{"remaining_balance_is_estimate", func(r domain.PortfolioRecord) string { return strconv.FormatBool(r.RemainingBalanceIsEstimate) }},
		column[domain.PortfolioRecord]{"processed_at", func(r domain.PortfolioRecord) string { return fmtTimestamp(r.ProcessedAt) }},
	)
}

func renderCleanedCSV(out *domain.RunOutput) ([]byte, error) {
	return writeCSV(applicationColumns(), out.CleanedApplications)
}

func renderPortfolioCSV(out *domain.RunOutput) ([]byte, error) {
	return writeCSV(portfolioColumns(), out.Portfolio)
}

// reportLine is one metric of the flattened quality report.
type reportLine struct {
	Metric string
	Source string
	Key    string
	Value  string
}

var reportColumns = []column[reportLine]{
	{"metric", func(l reportLine) string { return l.Metric }},
	{"source", func(l reportLine) string { return l.Source }},
	{"key", func(l reportLine) string { return l.Key }},
	{"value", func(l reportLine) string { return l.Value }},
}

func reportLines(r domain.QualityReport) []reportLine {
	lines := []reportLine{{Metric: "processed_at", Value: fmtTimestamp(r.ProcessedAt)}}
	for _, src := range []struct {
		name   string
		counts domain.SourceCounts
	}{
		{domain.SourceApplications, r.Applications},
		{domain.SourceServicing, r.Servicing},
	} {
		lines = append(lines,
			reportLine{Metric: "rows_read", Source: src.name, Value: strconv.Itoa(src.counts.Read)},
			reportLine{Metric: "rows_processed", Source: src.name, Value: strconv.Itoa(src.counts.Processed)},
			reportLine{Metric: "rows_quarantined", Source: src.name, Value: strconv.Itoa(src.counts.Quarantined)},
		)
	}
	lines = append(lines, reportLine{Metric: "portfolio_rows", Source: domain.SourcePortfolio, Value: strconv.Itoa(r.PortfolioRows)})
	for _, f := range r.RuleFailures {
		lines = append(lines, reportLine{Metric: "rule_failures", Source: f.Source, Key: f.Rule, Value: strconv.Itoa(f.Failures)})
	}
	for _, id := range r.ProblematicApplicationIDs {
		lines = append(lines, reportLine{Metric: "problematic_application_id", Key: id})
	}
	for _, q := range r.Quarantined {
		lines = append(lines, reportLine{Metric: "quarantined_row", Source: q.Source, Key: strconv.Itoa(q.LineNumber), Value: q.Reason})
	}
	return lines
}

func renderReportCSV(out *domain.RunOutput) ([]byte, error) {
	return writeCSV(reportColumns, reportLines(out.Report))
}
