package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	name       string
	prepareErr error
	commitErr  error
	events     *[]string
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Prepare(context.Context, *domain.RunOutput) (Staged, error) {
	*f.events = append(*f.events, "prepare:"+f.name)
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return fakeStage{f}, nil
}

type fakeStage struct{ p *fakePublisher }

func (s fakeStage) Commit(context.Context) error {
	*s.p.events = append(*s.p.events, "commit:"+s.p.name)
	return s.p.commitErr
}

func (s fakeStage) Rollback(context.Context) error {
	*s.p.events = append(*s.p.events, "rollback:"+s.p.name)
	return nil
}

func TestPublish_CommitsAfterAllPrepared(t *testing.T) {
	var events []string
	c := NewCoordinator(zap.NewNop(),
		&fakePublisher{name: "store", events: &events},
		&fakePublisher{name: "files", events: &events},
	)

	require.NoError(t, c.Publish(context.Background(), &domain.RunOutput{}))
	assert.Equal(t, []string{"prepare:store", "prepare:files", "commit:store", "commit:files"}, events)
	assert.Equal(t, []string{"store", "files"}, c.Publishers())
}

func TestPublish_PrepareFailureRollsBackEverything(t *testing.T) {
	var events []string
	boom := errors.New("disk full")
	c := NewCoordinator(zap.NewNop(),
		&fakePublisher{name: "store", events: &events},
		&fakePublisher{name: "files", events: &events, prepareErr: boom},
	)

	err := c.Publish(context.Background(), &domain.RunOutput{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"prepare:store", "prepare:files", "rollback:store"}, events)
}

func TestPublish_CommitFailureRollsBackRemaining(t *testing.T) {
	var events []string
	c := NewCoordinator(zap.NewNop(),
		&fakePublisher{name: "store", events: &events, commitErr: errors.New("conn reset")},
		&fakePublisher{name: "files", events: &events},
	)

	err := c.Publish(context.Background(), &domain.RunOutput{})
	require.ErrorIs(t, err, ErrCommit)
	assert.Equal(t, []string{"prepare:store", "prepare:files", "commit:store", "rollback:files"}, events)
}
