package main

import (
	"testing"

	"github.com/nshruti113/vnc-security-monitor/internal/config"
	"github.com/nshruti113/vnc-security-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg := &config.Config{ModelPath: "models/m.json"}

	flags, err := parseFlags(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "models/m.json", flags.Out)
	assert.Equal(t, 1000, flags.Sessions)
	assert.False(t, flags.Redis)
}

func TestParseFlags_RedisDefaultFollowsConfig(t *testing.T) {
	cfg := &config.Config{ModelPath: "m.json", RedisAddr: "localhost:6379"}

	flags, err := parseFlags(cfg, []string{"-sessions", "50"})
	require.NoError(t, err)
	assert.True(t, flags.Redis)
	assert.Equal(t, 50, flags.Sessions)
}

func TestParseFlags_Rejects(t *testing.T) {
	cfg := &config.Config{}

	_, err := parseFlags(cfg, []string{"-anomaly-rate", "1.5"})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = parseFlags(cfg, []string{"-sessions", "0"})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
