package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/wire"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Present frames of out of process renderers",
		Long: `serve sets up the display and accepts rendering clients on the frame
export socket. One client is shown at a time; a second client is refused
until the first disconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), config)
		},
	}
	cmd.Flags().Bool("render-context", kms.DefaultConfig.RenderContext, "Initialize an EGL display (env: KMS_RENDER_CONTEXT)")
	cmd.Flags().StringVar(&paramsFlag, "params", "", "Parameters for the rendering backend")
	return cmd
}

func serve(ctx context.Context, config *kms.Config) error {
	if err := os.MkdirAll(filepath.Dir(config.Socket), 0o755); err != nil {
		return err
	}

	d, err := openDisplay(ctx, config)
	if err != nil {
		return err
	}
	defer d.Close()

	server, err := wire.Listen(config.Socket, wire.ViewBackends(d.backend), d.loop, log.Logger)
	if err != nil {
		return err
	}
	defer os.Remove(config.Socket)
	log.Info().Str("socket", config.Socket).Msg("waiting for clients")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg               conc.WaitGroup
		runErr, serveErr error
	)
	wg.Go(func() {
		runErr = d.loop.Run(ctx)
		cancel()
	})
	wg.Go(func() {
		serveErr = server.Serve(ctx)
		cancel()
	})
	wg.Wait()

	stats := d.backend.Scheduler().Stats()
	log.Info().
		Uint64("presented", stats.Presented).
		Uint64("dropped", stats.Dropped).
		Uint64("modesets", stats.Modesets).
		Msg("display stopped")

	if serveErr != nil {
		return serveErr
	}
	if !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
