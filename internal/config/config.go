// Package config loads monitor settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

type Config struct {
	HTTPAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ModelPath     string
	Contamination float64
	Trees         int
	Seed          uint64

	AlertCapacity     int
	CorrelationWindow time.Duration
	RuleTick          time.Duration
	HousekeepingTick  time.Duration
	AlertRetention    time.Duration

	LogLevel string
	LogDev   bool
}

// Load reads files (default ".env") into the environment without
// overriding variables already set, then builds the config. Missing files
// are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		HTTPAddr:          GetEnvString("VSM_HTTP_ADDR", ":8888"),
		RedisAddr:         GetEnvString("VSM_REDIS_ADDR", ""),
		RedisPassword:     GetEnvString("VSM_REDIS_PASSWORD", ""),
		RedisDB:           GetEnvInt("VSM_REDIS_DB", 0),
		ModelPath:         GetEnvString("VSM_MODEL_PATH", "models/vnc_detector.json"),
		Contamination:     GetEnvFloat("VSM_CONTAMINATION", 0.15),
		Trees:             GetEnvInt("VSM_TREES", 200),
		Seed:              GetEnvUint64("VSM_SEED", 42),
		AlertCapacity:     GetEnvInt("VSM_ALERT_CAPACITY", 1000),
		CorrelationWindow: GetEnvDuration("VSM_CORRELATION_WINDOW", 30*time.Second),
		RuleTick:          GetEnvDuration("VSM_RULE_TICK", time.Second),
		HousekeepingTick:  GetEnvDuration("VSM_HOUSEKEEPING_TICK", 60*time.Second),
		AlertRetention:    GetEnvDuration("VSM_ALERT_RETENTION", time.Hour),
		LogLevel:          GetEnvString("VSM_LOG_LEVEL", "info"),
		LogDev:            GetEnvBool("VSM_LOG_DEV", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Contamination <= 0 || c.Contamination > 0.5:
		return fmt.Errorf("%w: VSM_CONTAMINATION %v outside (0, 0.5]", models.ErrConfiguration, c.Contamination)
	case c.Trees <= 0:
		return fmt.Errorf("%w: VSM_TREES must be positive", models.ErrConfiguration)
	case c.AlertCapacity <= 0:
		return fmt.Errorf("%w: VSM_ALERT_CAPACITY must be positive", models.ErrConfiguration)
	case c.RuleTick <= 0 || c.HousekeepingTick <= 0:
		return fmt.Errorf("%w: tick intervals must be positive", models.ErrConfiguration)
	case c.CorrelationWindow <= 0 || c.AlertRetention <= 0:
		return fmt.Errorf("%w: correlation window and retention must be positive", models.ErrConfiguration)
	}
	return nil
}
