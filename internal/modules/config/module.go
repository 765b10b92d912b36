package config

import "go.uber.org/fx"

// Module provides *Config. An empty path means configs/$CONFIG_FILE.
func Module(path string) fx.Option {
	return fx.Module("config",
		fx.Provide(
			func() (*Config, error) {
				if path == "" {
					return NewConfig()
				}
				return Load(path)
			},
		),
	)
}
