package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	"github.com/BeatGlow/kms"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	deviceFlag    string
	logindFlag    bool
	socketFlag    string
	logLevelFlag  string
	backlightFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kms-test",
		Short: "Drive a display through kernel mode setting",
		Long: `kms-test exercises the KMS display backend: it lists outputs, plays an
animated test pattern, serves the frame export socket for out of process
renderers and acts as such a renderer.

Configuration is read from KMS_* environment variables; flags override them.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&deviceFlag, "device", kms.DefaultConfig.Device, "DRM device node (env: KMS_DEVICE)")
	flags.BoolVar(&logindFlag, "logind", false, "Open the device through systemd-logind (env: KMS_LOGIND)")
	flags.StringVar(&socketFlag, "socket", kms.DefaultConfig.Socket, "Frame export socket (env: KMS_SOCKET)")
	flags.StringVar(&backlightFlag, "backlight", "", "Backlight GPIO pin name (env: KMS_BACKLIGHT_PIN)")
	flags.StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newClientCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("kms-test failed")
		stop()
		os.Exit(1)
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevelFlag)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads the environment and applies the flags given on the
// command line.
func loadConfig(cmd *cobra.Command) (*kms.Config, error) {
	config, err := kms.LoadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		config.Device = deviceFlag
	}
	if flags.Changed("logind") {
		config.Logind = logindFlag
	}
	if flags.Changed("socket") {
		config.Socket = socketFlag
	}
	if flags.Changed("backlight") {
		config.BacklightPin = backlightFlag
	}
	if flags.Changed("render-context") {
		config.RenderContext, _ = flags.GetBool("render-context")
	}
	config.Logger = log.Logger
	return config, nil
}

// logHost stands in for an embedding application without a rendering
// backend library; frames come from the test pattern instead.
type logHost struct {
	log zerolog.Logger
}

var _ kms.Host = logHost{}

func (h logHost) LoadBackend(name string) error {
	h.log.Debug().Str("library", name).Msg("rendering backend not loaded, using test pattern")
	return nil
}

func (h logHost) InitializeForDisplay(display unsafe.Pointer) error {
	h.log.Debug().Bool("egl", display != nil).Msg("rendering backend initialized")
	return nil
}
