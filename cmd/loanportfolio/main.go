package main

import (
	"context"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loanportfolio/internal/clock"
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/migration"
	"github.com/smallbiznis/loanportfolio/internal/observability"
	"github.com/smallbiznis/loanportfolio/internal/pipeline"
	"github.com/smallbiznis/loanportfolio/internal/runlock"
	"github.com/smallbiznis/loanportfolio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		runlock.Module,

		pipeline.Module,
		fx.Invoke(RunPipeline),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// RunPipeline executes one batch after startup and stops the app with a
// non-zero exit code when the batch fails.
func RunPipeline(lc fx.Lifecycle, shutdowner fx.Shutdowner, svc *pipeline.Service, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				exitCode := 0
				if _, err := svc.Run(ctx); err != nil {
					log.Error("pipeline run failed", zap.Error(err))
					exitCode = 1
				}
				if err := shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
					log.Error("shutdown failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
