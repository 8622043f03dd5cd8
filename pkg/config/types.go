package config

import "time"

// Shared types used across configuration structs.

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DashboardURL     string               `yaml:"dashboard_url"`
	AllowedWSOrigins []string             `yaml:"allowed_ws_origins"`
	Slack            *SlackYAMLConfig     `yaml:"slack"`
	QuotaRollover    *QuotaRolloverConfig `yaml:"quota_rollover"`
	Redis            *RedisYAMLConfig     `yaml:"redis"`
	Database         *DBYAMLConfig        `yaml:"database"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// RedisYAMLConfig holds the Redis connection used for rolling usage windows
// and throttle markers (spec §4.5).
type RedisYAMLConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DBYAMLConfig holds the Postgres connection used for the run ledger and
// entity store.
type DBYAMLConfig struct {
	DSN             string        `yaml:"dsn,omitempty"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
	MigrationsPath  string        `yaml:"migrations_path,omitempty"`
}

// QuotaRolloverConfig controls the cron schedule for the quota usage
// window rollover (pkg/quota.Enforcer.RollDailyWindows).
type QuotaRolloverConfig struct {
	Schedule string `yaml:"schedule"`
}

// DefaultQuotaRolloverConfig returns the built-in rollover schedule: once
// a day, matching the 24-hour usage window pkg/quota enforces for tokens
// and cost.
func DefaultQuotaRolloverConfig() *QuotaRolloverConfig {
	return &QuotaRolloverConfig{Schedule: "@daily"}
}
