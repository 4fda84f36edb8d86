package kms

import (
	"github.com/BeatGlow/kms/render"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config of a Backend.
type Config struct {
	// Device node of the display controller.
	Device string `envconfig:"DEVICE" default:"/dev/dri/card0"`

	// BackendLibrary is the rendering backend the host loads.
	BackendLibrary string `envconfig:"BACKEND_LIBRARY" default:"libWPEBackend-fdo-1.0.so"`

	// RenderContext initializes an EGL display for the client. It defaults to
	// on for builds with EGL support.
	RenderContext bool `envconfig:"RENDER_CONTEXT"`

	// Logind opens the device through the logind session instead of opening
	// the node directly.
	Logind bool `envconfig:"LOGIND" default:"false"`

	// BacklightPin is the name of a GPIO that powers the panel, if any.
	BacklightPin string `envconfig:"BACKLIGHT_PIN"`

	// Socket is where the frame export server listens.
	Socket string `envconfig:"SOCKET" default:"/run/kms/export.sock"`

	Logger zerolog.Logger `ignored:"true"`
}

// DefaultConfig are the default configuration values.
var DefaultConfig = Config{
	Device:         "/dev/dri/card0",
	BackendLibrary: "libWPEBackend-fdo-1.0.so",
	RenderContext:  render.Supported,
	Socket:         "/run/kms/export.sock",
	Logger:         zerolog.Nop(),
}

// LoadConfig reads the configuration from KMS_* environment variables.
func LoadConfig() (*Config, error) {
	config := new(Config)
	*config = DefaultConfig
	if err := envconfig.Process("kms", config); err != nil {
		return nil, err
	}
	return config, nil
}
