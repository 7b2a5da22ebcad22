package pipeline

import (
	"github.com/smallbiznis/loanportfolio/internal/config"
	"github.com/smallbiznis/loanportfolio/internal/export"
	"github.com/smallbiznis/loanportfolio/internal/publish"
	"github.com/smallbiznis/loanportfolio/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		NewCoordinator,
		New,
	),
)

// NewCoordinator publishes to the output store before the files, so a
// database commit failure leaves the previous files in place.
func NewCoordinator(cfg config.Config, conn *gorm.DB, log *zap.Logger) *publish.Coordinator {
	return publish.NewCoordinator(log,
		store.NewPublisher(conn, log),
		export.NewPublisher(cfg, log),
	)
}
