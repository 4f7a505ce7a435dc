package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configDir  = ".kapper"
	configFile = "config"
	configType = "yaml"
	envPrefix  = "KAPPER"
)

// Load reads the configuration from path, or from ./config.yaml and
// ~/.kapper/config.yaml when path is empty. Every key can be overridden by
// an environment variable, e.g. KAPPER_DATABASE_DSN. A missing file is not
// an error; the defaults run an in-memory SQLite database.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file::memory:?cache=shared")
	v.SetDefault("database.dialect", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("cache.queries", 512)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFile)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, configDir))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
