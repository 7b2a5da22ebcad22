package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(
		Load,
		func(cfg Config) (Rules, error) { return LoadRules(cfg.RulesConfigPath) },
	),
)
