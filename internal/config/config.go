package config

import (
	"fmt"

	"github.com/driessamyn/kapper"
)

// Config represents the demo application configuration.
type Config struct {
	Database Database `mapstructure:"database" yaml:"database"`
	Log      Log      `mapstructure:"log" yaml:"log"`
	Cache    Cache    `mapstructure:"cache" yaml:"cache"`
}

// Database selects the driver and connection string.
type Database struct {
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	Dialect string `mapstructure:"dialect" yaml:"dialect,omitempty"`
}

// Log controls the zap logger built by the CLI.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Cache sizes the translated-statement cache.
type Cache struct {
	Queries int `mapstructure:"queries" yaml:"queries"`
}

// ResolveDialect returns the configured dialect, or the one implied by the
// driver name when none is configured.
func (d Database) ResolveDialect() (kapper.Dialect, error) {
	if d.Dialect == "" {
		return kapper.DialectFor(d.Driver), nil
	}
	for _, dl := range []kapper.Dialect{kapper.Postgres, kapper.MySQL, kapper.SQLite, kapper.SQLServer, kapper.Oracle, kapper.DuckDB} {
		if dl.String() == d.Dialect {
			return dl, nil
		}
	}
	return 0, fmt.Errorf("unknown dialect %q", d.Dialect)
}
