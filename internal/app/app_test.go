package app

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/teresa-solution/tenant-provisioning-service/internal/config"
)

func TestSetupLogging_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetupLogging(config.LogConfig{Level: "DEBUG", Format: "json"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	SetupLogging(config.LogConfig{Level: "loud"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	SetupLogging(config.LogConfig{})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
