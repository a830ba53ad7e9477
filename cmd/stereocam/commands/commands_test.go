package commands

import (
	"testing"

	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFactory(t *testing.T) {
	_, ok := deviceFactory(config.DriverSimulated)().(*device.Simulated)
	assert.True(t, ok)

	_, ok = deviceFactory(config.DriverV4L2)().(*device.V4L2)
	assert.True(t, ok)
}

func TestActiveRejectsUnknownArgument(t *testing.T) {
	err := runActive(activeCmd, []string{"maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use on or off")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "config", "devices", "active", "params", "status", "subscribe"} {
		assert.True(t, names[want], want)
	}
}
