package kms

import (
	"testing"

	"github.com/BeatGlow/kms/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("KMS_DEVICE", "/dev/dri/card1")
	t.Setenv("KMS_RENDER_CONTEXT", "false")
	t.Setenv("KMS_BACKLIGHT_PIN", "GPIO18")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/dev/dri/card1", config.Device)
	assert.False(t, config.RenderContext)
	assert.Equal(t, "GPIO18", config.BacklightPin)
	assert.Equal(t, DefaultConfig.BackendLibrary, config.BackendLibrary)
	assert.Equal(t, DefaultConfig.Socket, config.Socket)
	assert.False(t, config.Logind)
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/dev/dri/card0", config.Device)
	assert.Equal(t, render.Supported, config.RenderContext)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("KMS_LOGIND", "maybe")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestSetupError(t *testing.T) {
	err := setupError("discover display", ErrNoMode)
	assert.Equal(t, "kms: discover display: kms: connector has no modes", err.Error())
	assert.ErrorIs(t, err, ErrNoMode)
}
