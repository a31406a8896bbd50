// Package config loads the Merlin configuration.
//
// Precedence, lowest to highest: built-in defaults, the optional YAML
// file, MERLIN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openfraud/merlin/internal/domain"
)

// Load builds the effective configuration. An empty path skips the file
// layer; a named file that does not exist is an error.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("MERLIN_SERVER_HOST", &cfg.Server.Host)
	setInt("MERLIN_SERVER_PORT", &cfg.Server.Port)

	setString("MERLIN_DB_DRIVER", &cfg.Repository.Driver)
	setString("MERLIN_SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("MERLIN_PG_HOST", &cfg.Repository.PostgresHost)
	setInt("MERLIN_PG_PORT", &cfg.Repository.PostgresPort)
	setString("MERLIN_PG_USER", &cfg.Repository.PostgresUser)
	setString("MERLIN_PG_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("MERLIN_PG_DB", &cfg.Repository.PostgresDB)
	setString("MERLIN_PG_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("MERLIN_CACHE_TYPE", &cfg.Cache.Type)
	setString("MERLIN_REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("MERLIN_REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	setString("MERLIN_BUS_TYPE", &cfg.EventBus.Type)
	setString("MERLIN_NATS_URL", &cfg.EventBus.NATSUrl)
	setString("MERLIN_NATS_TOKEN", &cfg.EventBus.NATSToken)

	setString("MERLIN_INBOX_DIR", &cfg.Pipeline.InboxDir)
	setString("MERLIN_ARCHIVE_DIR", &cfg.Pipeline.ArchiveDir)

	setString("MERLIN_LOG_LEVEL", &cfg.Logging.Level)
	setString("MERLIN_LOG_FORMAT", &cfg.Logging.Format)
}

func validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unknown event bus type %q", cfg.EventBus.Type)
	}
	if cfg.Pipeline.InboxDir == "" {
		return fmt.Errorf("pipeline inbox dir is required")
	}
	return nil
}
