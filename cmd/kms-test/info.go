package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List connectors and modes, and show the output the backend would use",
		Args:  cobra.NoArgs,
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
			return printInfo(cmd.OutOrStdout(), card)
		},
	}
}

func printInfo(w io.Writer, card *drm.Card) error {
	res, err := card.Resources()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d connectors, %d encoders, %d CRTCs, framebuffers up to %dx%d\n",
		card.Name(), len(res.Connectors), len(res.Encoders), len(res.Crtcs), res.MaxWidth, res.MaxHeight)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, id := range res.Connectors {
		c, err := card.Connector(id)
		if err != nil {
			fmt.Fprintf(w, "connector %d: %v\n", id, err)
			continue
		}
		fmt.Fprintf(tw, "\n%s\tid %d\t%s\t%dx%d mm\n", c.Name(), c.ID, connection(c.Connection), c.MMWidth, c.MMHeight)
		if len(c.Modes) == 0 {
			continue
		}
		chosen, _ := kms.SelectMode(c.Modes)
		for i := range c.Modes {
			m := &c.Modes[i]
			var mark string
			if m.Preferred() {
				mark = "preferred"
			}
			if i == chosen {
				mark += "*"
			}
			fmt.Fprintf(tw, "\t%s\t%d kHz\t%s\n", m.String(), m.Clock, mark)
		}
	}
	if err = tw.Flush(); err != nil {
		return err
	}

	if v, err := card.GetCap(drm.CapAddFB2Modifiers); err == nil {
		fmt.Fprintf(w, "\nframebuffer modifiers: %t\n", v != 0)
	}

	target, err := kms.Discover(card, log.Logger)
	if errors.Is(err, kms.ErrNoConnectedOutput) {
		fmt.Fprintln(w, "\nno connected output")
		return nil
	} else if err != nil {
		return err
	}
	fmt.Fprintf(w, "\noutput: %s %s\n", target.Connector.Name(), target)
	fmt.Fprintf(w, "frames: %dx%d %s\n", target.Width(), target.Height(), pixel.XRGB8888)
	return nil
}

func connection(state uint32) string {
	switch state {
	case drm.Connected:
		return "connected"
	case drm.Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
