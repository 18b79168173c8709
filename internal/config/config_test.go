package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "5s", cfg.Heartbeat.Interval)
	assert.Equal(t, "15s", cfg.Heartbeat.Timeout)
	assert.Equal(t, StoreBackingMemory, cfg.Store.Backing)
}

func TestSetConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 6000
	SetConfig(cfg)

	got, err := GetConfig()
	assert.NoError(t, err)
	assert.Equal(t, 6000, got.Server.Port)
}
