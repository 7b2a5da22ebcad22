// Package export renders a run's record sets as files under the output
// directory. Files are written to a staging directory first and moved into
// place on commit.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/smallbiznis/loanportfolio/internal/publish"
	"go.uber.org/zap"
)

const (
	CleanedApplicationsFile = "cleaned_applications.csv"
	PortfolioFile           = "loan_portfolio.csv"
	ReportCSVFile           = "data_quality_report.csv"
	ReportJSONFile          = "data_quality_report.json"
	ReportPDFFile           = "data_quality_report.pdf"

	stagingPattern = ".staging-*"
)

var ErrNoArtifacts = errors.New("export: no output format selected")

type artifact struct {
	name   string
	render func(*domain.RunOutput) ([]byte, error)
}

// Publisher writes the selected formats into dir.
type Publisher struct {
	dir       string
	artifacts []artifact
	log       *zap.Logger
}

func NewPublisher(cfg config.Config, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		dir:       cfg.OutputDir,
		artifacts: artifactsFor(cfg),
		log:       log.Named("export"),
	}
}

func artifactsFor(cfg config.Config) []artifact {
	var out []artifact
	if cfg.WantsFormat(config.FormatCSV) {
		out = append(out,
			artifact{name: CleanedApplicationsFile, render: renderCleanedCSV},
			artifact{name: PortfolioFile, render: renderPortfolioCSV},
			artifact{name: ReportCSVFile, render: renderReportCSV},
		)
	}
	if cfg.WantsFormat(config.FormatJSON) {
		out = append(out, artifact{name: ReportJSONFile, render: renderReportJSON})
	}
	if cfg.WantsFormat(config.FormatPDF) {
		out = append(out, artifact{name: ReportPDFFile, render: renderReportPDF})
	}
	return out
}

func (p *Publisher) Name() string { return "export" }

// Files lists the file names a commit will produce, in write order.
func (p *Publisher) Files() []string {
	names := make([]string, len(p.artifacts))
	for i, a := range p.artifacts {
		names[i] = a.name
	}
	return names
}

func (p *Publisher) Prepare(ctx context.Context, out *domain.RunOutput) (publish.Staged, error) {
	if out == nil {
		return nil, fmt.Errorf("export: nil run output")
	}
	if len(p.artifacts) == 0 {
		return nil, ErrNoArtifacts
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	staging, err := os.MkdirTemp(p.dir, stagingPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	s := &stagedFiles{dir: p.dir, staging: staging, log: p.log}
	for _, a := range p.artifacts {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(err, s.Rollback(ctx))
		}
		body, err := a.render(out)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("render %s: %w", a.name, err), s.Rollback(ctx))
		}
		if err := os.WriteFile(filepath.Join(staging, a.name), body, 0o644); err != nil {
			return nil, errors.Join(fmt.Errorf("write %s: %w", a.name, err), s.Rollback(ctx))
		}
		s.names = append(s.names, a.name)
	}

	p.log.Debug("export.prepared", zap.String("staging", staging), zap.Strings("files", s.names))
	return s, nil
}

type stagedFiles struct {
	dir     string
	staging string
	names   []string
	log     *zap.Logger
}

// Commit renames every staged file over its published counterpart. Each
// rename is atomic on the same filesystem.
func (s *stagedFiles) Commit(context.Context) error {
	for _, name := range s.names {
		if err := os.Rename(filepath.Join(s.staging, name), filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("publish %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(s.staging); err != nil {
		s.log.Warn("failed to remove staging dir", zap.String("staging", s.staging), zap.Error(err))
	}
	s.log.Info("export.committed", zap.String("dir", s.dir), zap.Strings("files", s.names))
	return nil
}

func (s *stagedFiles) Rollback(context.Context) error {
	if err := os.RemoveAll(s.staging); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}
