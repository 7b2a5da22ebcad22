// Package publish writes a run's outputs through a two-phase protocol so a
// failed run leaves the previous outputs untouched.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"go.uber.org/zap"
)

// Publisher stages one output target.
type Publisher interface {
	Name() string
	// Prepare writes out without making it visible to readers.
	Prepare(ctx context.Context, out *domain.RunOutput) (Staged, error)
}

// Staged is a prepared write that is either committed or rolled back.
type Staged interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var ErrCommit = errors.New("publish_commit_failed")

// Coordinator drives every publisher through prepare and commit.
type Coordinator struct {
	publishers []Publisher
	log        *zap.Logger
}

func NewCoordinator(log *zap.Logger, publishers ...Publisher) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{publishers: publishers, log: log.Named("publish")}
}

func (c *Coordinator) Publishers() []string {
	names := make([]string, len(c.publishers))
	for i, p := range c.publishers {
		names[i] = p.Name()
	}
	return names
}

// Publish prepares every publisher and commits them in order only when all
// prepares succeeded. Any prepare failure rolls back the staged ones.
func (c *Coordinator) Publish(ctx context.Context, out *domain.RunOutput) error {
	staged := make([]namedStage, 0, len(c.publishers))
	for _, p := range c.publishers {
		s, err := p.Prepare(ctx, out)
		if err != nil {
			err = fmt.Errorf("prepare %s: %w", p.Name(), err)
			return errors.Join(err, c.rollback(staged))
		}
		staged = append(staged, namedStage{name: p.Name(), stage: s})
		c.log.Debug("publish.prepared", zap.String("publisher", p.Name()))
	}

	for i, s := range staged {
		if err := s.stage.Commit(ctx); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrCommit, s.name, err)
			return errors.Join(err, c.rollback(staged[i+1:]))
		}
		c.log.Debug("publish.committed", zap.String("publisher", s.name))
	}
	return nil
}

// rollback uses a fresh context so a cancelled run still releases its stages.
func (c *Coordinator) rollback(staged []namedStage) error {
	var errs []error
	for i := len(staged) - 1; i >= 0; i-- {
		s := staged[i]
		if err := s.stage.Rollback(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", s.name, err))
			continue
		}
		c.log.Info("publish.rolled_back", zap.String("publisher", s.name))
	}
	return errors.Join(errs...)
}

type namedStage struct {
	name  string
	stage Staged
}
