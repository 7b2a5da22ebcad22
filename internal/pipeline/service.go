// Package pipeline runs one batch: load both sources, validate, derive,
// reconcile, report and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/loanportfolio/internal/clock"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/ingest"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	obslogger "github.com/smallbiznis/loanportfolio/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loanportfolio/internal/observability/metrics"
	"github.com/smallbiznis/loanportfolio/internal/observability/tracing"
	"github.com/smallbiznis/loanportfolio/internal/publish"
	"github.com/smallbiznis/loanportfolio/internal/quality"
	"github.com/smallbiznis/loanportfolio/internal/reconcile"
	"github.com/smallbiznis/loanportfolio/internal/runlock"
	"github.com/smallbiznis/loanportfolio/internal/transform"
	"github.com/smallbiznis/loanportfolio/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	StageAcquireLock      = "acquire_lock"
	StageLoadApplications = "load_applications"
	StageLoadServicing    = "load_servicing"
	StageValidate         = "validate"
	StageTransform        = "transform"
	StageReconcile        = "reconcile"
	StageReport           = "report"
	StagePublish          = "publish"

	pushTimeout = 10 * time.Second
)

var ErrInvalidConfig = errors.New("pipeline: invalid config")

type Params struct {
	fx.In

	Config    config.Config
	Rules     config.Rules
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Publisher *publish.Coordinator
	Lock      runlock.Lock `optional:"true"`

	Metrics     *obsmetrics.PipelineMetrics `optional:"true"`
	OtelMetrics *obsmetrics.Metrics         `optional:"true"`
	Registry    *prometheus.Registry        `optional:"true"`
	Pusher      obsmetrics.Pusher           `optional:"true"`
}

type Service struct {
	cfg        config.Config
	rules      config.Rules
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	location   *time.Location
	engine     *transform.Engine
	reconciler *reconcile.Reconciler
	publisher  *publish.Coordinator
	lock       runlock.Lock

	metrics     *obsmetrics.PipelineMetrics
	otelMetrics *obsmetrics.Metrics
	registry    *prometheus.Registry
	pusher      obsmetrics.Pusher
}

func New(p Params) (*Service, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.ValidateRules(p.Rules); err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(p.Config.ProcessingTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: PROCESSING_TIMEZONE: %w", ErrInvalidConfig, err)
	}
	policy, err := reconcile.PolicyFromConfig(p.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	lock := p.Lock
	if lock == nil {
		lock = runlock.Noop{}
	}

	engine := transform.New(p.Rules)
	return &Service{
		cfg:         p.Config,
		rules:       p.Rules,
		log:         p.Log.Named("pipeline").With(zap.String("component", "pipeline")),
		clock:       p.Clock,
		genID:       p.GenID,
		location:    location,
		engine:      engine,
		reconciler:  reconcile.New(policy, engine),
		publisher:   p.Publisher,
		lock:        lock,
		metrics:     p.Metrics,
		otelMetrics: p.OtelMetrics,
		registry:    p.Registry,
		pusher:      p.Pusher,
	}, nil
}

// Run executes one batch. Nothing is published unless every stage succeeds;
// a returned error names the stage that failed.
func (s *Service) Run(parent context.Context) (*domain.RunOutput, error) {
	if parent == nil {
		parent = context.Background()
	}
	runID := s.genID.Generate().String()
	ctx := obslogger.WithRunID(parent, runID)
	ctx, span := tracing.StartStage(ctx, "run")

	started := time.Now()
	processedAt := s.clock.Now().In(s.location).Truncate(time.Second)
	s.logger(ctx).Info("pipeline.run.start",
		zap.String("applications", s.cfg.ApplicationsPath),
		zap.String("lms", s.cfg.ServicingPath),
		zap.Time("processed_at", processedAt),
		zap.String("join_policy", s.reconciler.Policy().String()),
		zap.Strings("publishers", s.publisher.Publishers()),
	)

	out, err := s.run(ctx, processedAt)
	tracing.EndSpan(span, err)

	outcome := obsmetrics.RunOutcomeSuccess
	if err != nil {
		outcome = obsmetrics.RunOutcomeFailure
	}
	s.metrics.IncRun(outcome, s.clock.Now())
	s.otelMetrics.RecordRun(ctx, outcome, time.Since(started))
	s.push(ctx)

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
	}
	if err != nil {
		s.logger(ctx).Error("pipeline.run.finish", append(fields, zap.Error(err))...)
		return nil, err
	}
	s.logger(ctx).Info("pipeline.run.finish", append(fields,
		zap.Int("portfolio_rows", out.Report.PortfolioRows),
		zap.Int("problematic_applications", len(out.Report.ProblematicApplicationIDs)),
		zap.Bool("has_anomalies", out.Report.HasAnomalies()),
	)...)
	return out, nil
}

func (s *Service) run(ctx context.Context, processedAt time.Time) (*domain.RunOutput, error) {
	var (
		apps      ingest.Batch[domain.Application]
		servicing ingest.Batch[domain.ServicingRecord]
		appFlags  []domain.Flags
		validated []domain.ValidatedServicing
		release   runlock.Release
		out       = &domain.RunOutput{ProcessedAt: processedAt}
	)

	err := s.stage(ctx, StageAcquireLock, func(ctx context.Context) error {
		var err error
		release, err = s.lock.Acquire(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("run lock release failed", zap.Error(err))
		}
	}()

	err = s.stage(ctx, StageLoadApplications, func(ctx context.Context) error {
		var err error
		apps, err = loadSource(ctx, s.cfg.ApplicationsPath, ingest.ApplicationSchema)
		if err != nil {
			return err
		}
		s.recordLoad(ctx, apps.Source, len(apps.Records), len(apps.Quarantined))
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StageLoadServicing, func(ctx context.Context) error {
		var err error
		servicing, err = loadSource(ctx, s.cfg.ServicingPath, ingest.ServicingSchema)
		if err != nil {
			return err
		}
		s.recordLoad(ctx, servicing.Source, len(servicing.Records), len(servicing.Quarantined))
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StageValidate, func(ctx context.Context) error {
		appFlags = validation.ApplicationRules(s.rules, apps.Records).EvaluateAll(apps.Records)

		index := validation.NewApplicationIndex(apps.Records, s.rules.ApprovedStatuses)
		svcFlags := validation.ServicingRules(s.rules, index, servicing.Records).EvaluateAll(servicing.Records)
		validated = make([]domain.ValidatedServicing, len(servicing.Records))
		for i, rec := range servicing.Records {
			validated[i] = domain.ValidatedServicing{Record: rec, Flags: svcFlags[i]}
		}

		s.otelMetrics.RecordFlaggedRows(ctx, domain.SourceApplications, countFlagged(appFlags))
		s.otelMetrics.RecordFlaggedRows(ctx, domain.SourceServicing, countFlagged(svcFlags))
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StageTransform, func(ctx context.Context) error {
		out.CleanedApplications = s.engine.CleanApplications(apps.Records, appFlags, processedAt)
		out.Servicing = validated
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StageReconcile, func(ctx context.Context) error {
		out.Portfolio = s.reconciler.Join(out.CleanedApplications, out.Servicing, processedAt)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StageReport, func(ctx context.Context) error {
		out.Report = quality.Build(quality.Input{
			ProcessedAt:             processedAt,
			Applications:            out.CleanedApplications,
			ApplicationsQuarantined: apps.Quarantined,
			Servicing:               out.Servicing,
			ServicingQuarantined:    servicing.Quarantined,
			Portfolio:               out.Portfolio,
		})
		s.metrics.RecordReport(out.Report)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, StagePublish, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) stage(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx := obslogger.WithStage(parent, name)
	ctx, span := tracing.StartStage(ctx, name)
	log := s.logger(ctx)
	log.Debug("pipeline.stage.start")

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)
	s.metrics.ObserveStage(name, elapsed)
	tracing.EndSpan(span, err)

	if err != nil {
		s.metrics.IncRunError(name, err)
		log.Error("pipeline.stage.failed",
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.String("reason", obsmetrics.ClassifyRunErrorReason(err)),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("pipeline.stage.finish", zap.Int64("duration_ms", elapsed.Milliseconds()))
	return nil
}

func (s *Service) recordLoad(ctx context.Context, source string, processed, quarantined int) {
	s.otelMetrics.RecordRowsLoaded(ctx, source, processed, quarantined)
	log := s.logger(ctx).With(
		zap.String("source", source),
		zap.Int("rows_processed", processed),
		zap.Int("rows_quarantined", quarantined),
	)
	if quarantined > 0 {
		log.Warn("pipeline.source.quarantined")
		return
	}
	log.Debug("pipeline.source.loaded")
}

// push ships the registry snapshot. A failed push never fails the run.
func (s *Service) push(ctx context.Context) {
	if s.pusher == nil || s.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := s.pusher.Push(ctx, s.registry); err != nil {
		s.logger(ctx).Warn("metrics push failed", zap.Error(err))
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func loadSource[T any](ctx context.Context, path string, schema ingest.Schema[T]) (ingest.Batch[T], error) {
	f, err := ingest.OpenSource(path)
	if err != nil {
		return ingest.Batch[T]{Source: schema.Source}, err
	}
	defer f.Close()
	return ingest.Load(ctx, f, schema)
}

func countFlagged(flags []domain.Flags) int {
	n := 0
	for _, f := range flags {
		if f.Any() {
			n++
		}
	}
	return n
}
