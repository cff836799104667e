package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapbooth/photobooth-agent/internal/media"
)

func newDoctorCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the ffmpeg toolchain used for the camera and recap videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			runner := media.NewRunner(cfg.FFmpegPath(), cfg.FFprobePath(), nil)
			caps, err := media.NewDoctor(runner, nil).Refresh(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ffmpeg   %s\n", found(caps.FFmpeg, cfg.FFmpegPath(), caps.Version))
			fmt.Fprintf(out, "ffprobe  %s\n", found(caps.FFprobe, cfg.FFprobePath(), ""))
			if !caps.Video() {
				return fmt.Errorf("toolchain incomplete: recap videos and the camera monitor need both tools")
			}
			return nil
		},
	}
}

func found(ok bool, path, version string) string {
	if !ok {
		return "missing (" + path + ")"
	}
	if version != "" {
		return "ok " + version
	}
	return "ok"
}
