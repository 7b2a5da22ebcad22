package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/runlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestClassifyRunErrorReason(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here.csv")

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, RunReasonDeadlineExceeded},
		{"canceled", fmt.Errorf("load: %w", context.Canceled), RunReasonDeadlineExceeded},
		{"missing source", fmt.Errorf("applications: %w", domain.ErrMissingSource), RunReasonMissingSource},
		{"run in progress", fmt.Errorf("acquire_lock: %w", runlock.ErrHeld), RunReasonRunInProgress},
		{"missing column", fmt.Errorf("lms: %w", domain.ErrMissingColumn), RunReasonSchema},
		{"db lock timeout", &pgconn.PgError{Code: "55P03"}, RunReasonDBLockTimeout},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, RunReasonSerializationFailure},
		{"unique violation", gorm.ErrDuplicatedKey, RunReasonUniqueViolation},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, RunReasonUniqueViolation},
		{"other pg error", &pgconn.PgError{Code: "42P01"}, RunReasonDB},
		{"invalid transaction", gorm.ErrInvalidTransaction, RunReasonDB},
		{"file system", statErr, RunReasonIO},
		{"unknown", errors.New("boom"), RunReasonUnknown},
		{"nil", nil, RunReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyRunErrorReason(tc.err))
		})
	}
}

func TestPipelineMetrics_RecordReport(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry, Config{ServiceName: "loanportfolio", Environment: "test"})

	m.RecordReport(domain.QualityReport{
		Applications:              domain.SourceCounts{Read: 10, Processed: 9, Quarantined: 1},
		Servicing:                 domain.SourceCounts{Read: 8, Processed: 8},
		PortfolioRows:             12,
		RuleFailures:              []domain.RuleFailure{{Source: "lms", Rule: "loan_id_duplicate", Failures: 2}},
		ProblematicApplicationIDs: []string{"app_1", "app_2"},
	})

	assert.Equal(t, 10.0, testutil.ToFloat64(m.rowsRead.WithLabelValues(domain.SourceApplications)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsQuarantined.WithLabelValues(domain.SourceApplications)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.rowsQuarantined.WithLabelValues(domain.SourceServicing)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ruleFailures.WithLabelValues("lms", "loan_id_duplicate")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.portfolioRows))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.problematicIDs))
}

func TestPipelineMetrics_RunsAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPipelineMetrics(registry, Config{})
	at := time.Unix(1718445600, 0)

	m.IncRun(RunOutcomeFailure, at)
	m.IncRunError("load_applications", domain.ErrMissingSource)
	m.IncRun(RunOutcomeSuccess, at)
	m.ObserveStage("validate", 250*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(RunOutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runErrors.WithLabelValues("load_applications", RunReasonMissingSource)))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.stageLast.WithLabelValues("validate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestPipelineMetrics_NilIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveStage("validate", time.Second)
	m.IncRun(RunOutcomeSuccess, time.Now())
	m.IncRunError("validate", errors.New("boom"))
	m.RecordReport(domain.QualityReport{})
}

func TestFilterAttributesDropsIdentifiers(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("source", "lms"),
		attribute.String("application_id", "app_1"),
		attribute.String("outcome", "processed"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("source"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNewOnNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRowsLoaded(ctx, domain.SourceApplications, 10, 1)
	m.RecordFlaggedRows(ctx, domain.SourceServicing, 3)
	m.RecordRun(ctx, RunOutcomeSuccess, time.Second)
}
