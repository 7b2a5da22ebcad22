package metrics

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/runlock"
	"github.com/smallbiznis/loanportfolio/pkg/db"
	"gorm.io/gorm"
)

const (
	RunReasonDeadlineExceeded     = "deadline_exceeded"
	RunReasonMissingSource        = "missing_source"
	RunReasonRunInProgress        = "run_in_progress"
	RunReasonSchema               = "schema"
	RunReasonIO                   = "io"
	RunReasonDBLockTimeout        = "db_lock_timeout"
	RunReasonSerializationFailure = "serialization_failure"
	RunReasonUniqueViolation      = "unique_violation"
	RunReasonDB                   = "db"
	RunReasonUnknown              = "unknown"
)

const (
	RunOutcomeSuccess = "success"
	RunOutcomeFailure = "failure"
)

// PipelineMetrics captures batch health for one process. Per-run values are
// gauges so a pushed snapshot describes exactly the last run.
type PipelineMetrics struct {
	runs            *prometheus.CounterVec
	runErrors       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageLast       *prometheus.GaugeVec
	rowsRead        *prometheus.GaugeVec
	rowsQuarantined *prometheus.GaugeVec
	ruleFailures    *prometheus.GaugeVec
	portfolioRows   prometheus.Gauge
	problematicIDs  prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// NewPipelineMetrics registers the pipeline collectors on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "loanportfolio"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loanportfolio_pipeline_runs_total",
			Help:        "Pipeline runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		runErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loanportfolio_pipeline_run_errors_total",
			Help:        "Fatal pipeline errors by stage and low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"stage", "reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "loanportfolio_pipeline_stage_duration_seconds",
			Help:        "Pipeline stage latency.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		}, []string{"stage"}),
		stageLast: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "loanportfolio_pipeline_stage_last_duration_seconds",
			Help:        "Duration of each stage in the most recent run.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		rowsRead: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "loanportfolio_rows_read",
			Help:        "Rows read per source in the most recent run.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		rowsQuarantined: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "loanportfolio_rows_quarantined",
			Help:        "Structurally broken rows per source in the most recent run.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		ruleFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "loanportfolio_rule_failures",
			Help:        "Rows violating each rule in the most recent run.",
			ConstLabels: constLabels,
		}, []string{"source", "rule"}),
		portfolioRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loanportfolio_portfolio_rows",
			Help:        "Rows in loan_portfolio after the most recent run.",
			ConstLabels: constLabels,
		}),
		problematicIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loanportfolio_problematic_applications",
			Help:        "Distinct application ids listed as problematic in the most recent report.",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loanportfolio_last_success_timestamp_seconds",
			Help:        "Unix time of the last run that published its outputs.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.runs,
		m.runErrors,
		m.stageDuration,
		m.stageLast,
		m.rowsRead,
		m.rowsQuarantined,
		m.ruleFailures,
		m.portfolioRows,
		m.problematicIDs,
		m.lastSuccess,
	)
	return m
}

// ObserveStage records the latency of one stage.
func (m *PipelineMetrics) ObserveStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	m.stageLast.WithLabelValues(stage).Set(duration.Seconds())
}

// RecordReport copies the run totals of report into the gauges.
func (m *PipelineMetrics) RecordReport(report domain.QualityReport) {
	if m == nil {
		return
	}
	m.rowsRead.WithLabelValues(domain.SourceApplications).Set(float64(report.Applications.Read))
	m.rowsRead.WithLabelValues(domain.SourceServicing).Set(float64(report.Servicing.Read))
	m.rowsQuarantined.WithLabelValues(domain.SourceApplications).Set(float64(report.Applications.Quarantined))
	m.rowsQuarantined.WithLabelValues(domain.SourceServicing).Set(float64(report.Servicing.Quarantined))
	m.ruleFailures.Reset()
	for _, f := range report.RuleFailures {
		m.ruleFailures.WithLabelValues(f.Source, f.Rule).Set(float64(f.Failures))
	}
	m.portfolioRows.Set(float64(report.PortfolioRows))
	m.problematicIDs.Set(float64(len(report.ProblematicApplicationIDs)))
}

// IncRunError counts a fatal error raised by stage.
func (m *PipelineMetrics) IncRunError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.runErrors.WithLabelValues(stage, ClassifyRunErrorReason(err)).Inc()
}

// IncRun counts a finished run; a success also moves the last-success gauge.
func (m *PipelineMetrics) IncRun(outcome string, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	if outcome == RunOutcomeSuccess {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// ClassifyRunErrorReason maps fatal run errors to low-cardinality reasons.
func ClassifyRunErrorReason(err error) string {
	if err == nil {
		return RunReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return RunReasonDeadlineExceeded
	}
	if errors.Is(err, domain.ErrMissingSource) {
		return RunReasonMissingSource
	}
	if errors.Is(err, runlock.ErrHeld) {
		return RunReasonRunInProgress
	}
	if errors.Is(err, domain.ErrMissingHeader) || errors.Is(err, domain.ErrMissingColumn) {
		return RunReasonSchema
	}
	if hasPGCode(err, "55P03") {
		return RunReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return RunReasonSerializationFailure
	}
	if db.IsDuplicateKeyErr(err) || hasPGCode(err, "23505") {
		return RunReasonUniqueViolation
	}
	if isDBError(err) {
		return RunReasonDB
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return RunReasonIO
	}
	return RunReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
