package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snapbooth/photobooth-agent/internal/compose"
	"github.com/snapbooth/photobooth-agent/internal/layout"
)

func newLayoutsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "List the frames the booth offers",
		Long: `layouts prints the built-in frames plus those from layouts.yaml in the
frames directory, with the overlay asset each one resolves to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			registry := layout.NewRegistry()
			if _, err := registry.LoadYAML(filepath.Join(cfg.FramesDir(), layout.LayoutsFilename)); err != nil {
				return err
			}
			assets := compose.NewFrameAssets(cfg.FramesDir(), cfg.MediaLoadTimeout(), nil)
			return printLayouts(cmd.OutOrStdout(), registry, assets)
		},
	}
	return cmd
}

func printLayouts(out io.Writer, registry *layout.Registry, assets *compose.FrameAssets) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().PaddingRight(2)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			return s
		}).
		Headers("FRAME", "PHOTOS", "CAPTURES", "CANVAS", "CUSTOM", "OVERLAY")

	for _, f := range registry.Frames() {
		w, h := registry.StripCanvas(f.FrameID)
		t.Row(
			f.FrameID,
			strconv.Itoa(f.PhotoCount),
			strconv.Itoa(f.CaptureCount),
			fmt.Sprintf("%dx%d", w, h),
			strconv.FormatBool(f.Custom),
			overlayStatus(assets.Path(f.FrameID)),
		)
	}
	// Fprintln drops styling when out is not a terminal.
	_, err := lipgloss.Fprintln(out, t.String())
	return err
}

func overlayStatus(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return fmt.Sprintf("%s (%s)", filepath.Base(path), humanize.Bytes(uint64(info.Size())))
}
