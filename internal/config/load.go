package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML config file at path and applies defaults.
// Environment variables override file values (POS_SERVER_PORT etc).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.refresh_path", "/auth/refresh-token")
	v.SetDefault("upstream.login_path", "/auth/login")
	v.SetDefault("upstream.health_path", "/health")
	v.SetDefault("upstream.exempt_paths", []string{"/auth/login", "/auth/register", "/auth/forgot-password"})

	v.SetDefault("storage.file_path", "pos-agent.db")

	v.SetDefault("sync.probe_interval", "30s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
