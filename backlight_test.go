package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestBacklight(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO18", Num: 18}
	b := NewBacklight(pin)

	require.NoError(t, b.Set(true))
	assert.Equal(t, gpio.High, pin.L)
	assert.True(t, b.On())

	require.NoError(t, b.Set(false))
	assert.Equal(t, gpio.Low, pin.L)
	assert.False(t, b.On())
}

func TestBacklightNil(t *testing.T) {
	var b *Backlight
	assert.NoError(t, b.Set(true))
	assert.False(t, b.On())
}
