package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pattern"
	"github.com/BeatGlow/kms/wire"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send the test pattern to a running server",
		Long: `client renders the test pattern into buffers allocated on --device and
hands them to the server listening on --socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			card, err := drm.Open(config.Device)
			if err != nil {
				return err
			}
			defer card.Close()

			client, err := wire.Dial(cmd.Context(), config.Socket)
			if err != nil {
				return err
			}
			defer client.Close()
			return playRemote(cmd.Context(), client, card)
		},
	}
	addPatternFlags(cmd)
	return cmd
}

func playRemote(ctx context.Context, client *wire.Client, dev pattern.Device) error {
	log.Info().Int("width", client.Width).Int("height", client.Height).Msg("connected")

	renderer, err := newRenderer(dev, client.Width, client.Height)
	if err != nil {
		return err
	}
	defer renderer.Close()

	player := pattern.NewPlayer(renderer, func(f *pattern.Frame) error {
		return client.SendFrame(f.ID, f.Dmabuf)
	}, framesFlag, log.Logger)

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if err = player.Start(); err != nil {
		return err
	}
	for {
		select {
		case <-player.Done():
			log.Info().Int("presented", player.Presented()).Msg("test pattern finished")
			return player.Err()
		default:
		}

		ev, err := client.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: %w", err)
		}
		switch ev.Type {
		case wire.MsgFrameComplete:
			player.FrameComplete()
		case wire.MsgRelease:
			player.ReleaseBuffer(ev.BufferID)
		}
	}
}
