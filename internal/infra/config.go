package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pumparena/internal/domain"
)

// Config holds every runtime setting of the backend. Sensitive values
// can be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr        string `yaml:"addr"`
		JWTSecret   string `yaml:"jwt_secret"`
		JWTAudience string `yaml:"jwt_audience"`
	} `yaml:"server"`

	Game struct {
		RoundDurationSec   int   `yaml:"round_duration_sec"`
		MinStakeUnits      int64 `yaml:"min_stake_units"`
		DailyStakeCapUnits int64 `yaml:"daily_stake_cap_units"`
		HistoryRetention   int   `yaml:"history_retention"`
		RoomIdleTimeoutSec int   `yaml:"room_idle_timeout_sec"`
		InboxSize          int   `yaml:"inbox_size"`
	} `yaml:"game"`

	Ledger struct {
		URL          string `yaml:"url"`
		TimeoutSec   int    `yaml:"timeout_sec"`
		MaxAttempts  int    `yaml:"max_attempts"`
		BaseDelayMS  int    `yaml:"base_delay_ms"`
		MaxDelayMS   int    `yaml:"max_delay_ms"`
		DrainTimeout int    `yaml:"drain_timeout_sec"`
	} `yaml:"ledger"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies env
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Game.RoundDurationSec <= 0 {
		return fmt.Errorf("round duration must be positive")
	}
	if c.Game.MinStakeUnits <= 0 {
		return fmt.Errorf("minimum stake must be positive")
	}
	if c.Game.HistoryRetention <= 0 {
		return fmt.Errorf("history retention must be positive")
	}
	if c.Ledger.URL == "" {
		return fmt.Errorf("ledger URL is required")
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("ledger max attempts must be positive")
	}
	return nil
}

// RoundDuration returns the configured round length.
func (c *Config) RoundDuration() time.Duration {
	return time.Duration(c.Game.RoundDurationSec) * time.Second
}

// overrideWithEnv replaces config values from the environment when set.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("PUMPARENA_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if secret := os.Getenv("PUMPARENA_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if url := os.Getenv("PUMPARENA_LEDGER_URL"); url != "" {
		cfg.Ledger.URL = url
	}
	if path := os.Getenv("PUMPARENA_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
