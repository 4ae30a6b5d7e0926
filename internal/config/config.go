package config

import (
	"time"
)

type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// UpstreamConfig describes the cloud back-office API the agent talks to.
type UpstreamConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Timeout        string   `mapstructure:"timeout"`
	RefreshPath    string   `mapstructure:"refresh_path"`
	LoginPath      string   `mapstructure:"login_path"`
	ExemptPaths    []string `mapstructure:"exempt_paths"`
	EnvelopeSecret string   `mapstructure:"envelope_secret"`
	HealthPath     string   `mapstructure:"health_path"`
}

func (u UpstreamConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(u.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// IdentityConfig scopes reference-data fetches.
type IdentityConfig struct {
	CompanyID string `mapstructure:"company_id"`
	BranchID  string `mapstructure:"branch_id"`
}

type StorageConfig struct {
	FilePath string `mapstructure:"file_path"`
}

type SyncConfig struct {
	ProbeInterval string `mapstructure:"probe_interval"`
}

func (s SyncConfig) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(s.ProbeInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(s.ReadTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(s.WriteTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
