package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/loop"
	"github.com/BeatGlow/kms/pattern"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

var (
	framesFlag  int
	buffersFlag int
	titleFlag   string
	formatFlag  string
	paramsFlag  string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play the test pattern on the display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Dumb buffers need no rendering context.
			if !cmd.Flags().Changed("render-context") {
				config.RenderContext = false
			}
			return runPattern(cmd.Context(), config)
		},
	}
	addPatternFlags(cmd)
	cmd.Flags().Bool("render-context", false, "Initialize an EGL display (env: KMS_RENDER_CONTEXT)")
	cmd.Flags().StringVar(&paramsFlag, "params", "", "Parameters for the rendering backend")
	return cmd
}

func addPatternFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&framesFlag, "frames", 0, "Stop after this many frames (0: until interrupted)")
	cmd.Flags().IntVar(&buffersFlag, "buffers", pattern.DefaultFrames, "Number of frame buffers")
	cmd.Flags().StringVar(&titleFlag, "title", "kms-test", "Caption prefix")
	cmd.Flags().StringVar(&formatFlag, "format", pixel.XRGB8888.String(), "Pixel format of the frames (XRGB8888 or RGB565)")
}

// newRenderer allocates the test pattern frames the pattern flags ask for.
func newRenderer(dev pattern.Device, width, height int) (*pattern.Renderer, error) {
	format, err := pixel.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}
	painter, err := pattern.NewPainter(titleFlag)
	if err != nil {
		return nil, err
	}
	return pattern.NewRenderer(dev, painter, format, width, height, buffersFlag)
}

// display is a set up backend with its loop.
type display struct {
	loop    *loop.Loop
	backend *kms.Backend
}

func openDisplay(ctx context.Context, config *kms.Config) (*display, error) {
	l, err := loop.New(log.Logger)
	if err != nil {
		return nil, err
	}
	b := kms.New(config, logHost{log: log.Logger}, l)
	if err = b.Setup(ctx, paramsFlag); err != nil {
		b.Teardown()
		l.Close()
		return nil, err
	}
	return &display{loop: l, backend: b}, nil
}

// Close tears the backend down; the loop must have stopped.
func (d *display) Close() {
	d.backend.Teardown()
	if err := d.loop.Close(); err != nil {
		log.Warn().Err(err).Msg("close loop")
	}
}

func runPattern(ctx context.Context, config *kms.Config) error {
	d, err := openDisplay(ctx, config)
	if err != nil {
		return err
	}
	defer d.Close()

	dev, ok := d.backend.Device().(pattern.Device)
	if !ok {
		return errors.New("display device cannot allocate dumb buffers")
	}
	target := d.backend.Target()
	renderer, err := newRenderer(dev, target.Width(), target.Height())
	if err != nil {
		return err
	}
	defer func() {
		// Frames still on screen go back to the renderer before it is freed.
		d.backend.Teardown()
		if err := renderer.Close(); err != nil {
			log.Warn().Err(err).Msg("free frames")
		}
	}()

	var view *kms.ViewBackend
	player := pattern.NewPlayer(renderer, func(f *pattern.Frame) error {
		return view.ExportDmabuf(f.Dmabuf, f.ID)
	}, framesFlag, log.Logger)
	if view, err = d.backend.NewViewBackend(player); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     conc.WaitGroup
		runErr error
	)
	wg.Go(func() {
		runErr = d.loop.Run(ctx)
		cancel()
	})
	err = d.loop.Post(func() {
		if err := player.Start(); err != nil {
			log.Error().Err(err).Msg("first frame")
		}
	})
	if err == nil {
		select {
		case <-ctx.Done():
		case <-player.Done():
		}
	}
	cancel()
	wg.Wait()

	stats := d.backend.Scheduler().Stats()
	log.Info().
		Int("presented", player.Presented()).
		Uint64("submitted", stats.Submitted).
		Uint64("dropped", stats.Dropped).
		Msg("test pattern finished")

	if err != nil {
		return err
	}
	if err = player.Err(); err != nil {
		return fmt.Errorf("test pattern: %w", err)
	}
	if !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
