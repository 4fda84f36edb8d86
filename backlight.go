package kms

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Backlight switches panel power through a GPIO.
type Backlight struct {
	pin gpio.PinOut
	on  bool
}

// OpenBacklight looks up the named GPIO. Host drivers are initialized first.
func OpenBacklight(name string) (*Backlight, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("kms: initialize GPIO drivers: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil || pin == gpio.INVALID {
		return nil, fmt.Errorf("kms: backlight GPIO %q not found", name)
	}
	return NewBacklight(pin), nil
}

// NewBacklight uses pin to switch the backlight.
func NewBacklight(pin gpio.PinOut) *Backlight {
	return &Backlight{pin: pin}
}

// Set turns the backlight on or off. A nil Backlight does nothing.
func (b *Backlight) Set(on bool) error {
	if b == nil {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := b.pin.Out(level); err != nil {
		return fmt.Errorf("kms: backlight %s: %w", b.pin, err)
	}
	b.on = on
	return nil
}

// On reports the last level set.
func (b *Backlight) On() bool {
	return b != nil && b.on
}
