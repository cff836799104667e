package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/snapbooth/photobooth-agent/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "photobooth",
		Short: "Photo booth agent: capture, compose and share photo strips",
		Long: `photobooth runs the booth controller on a kiosk: it drives the capture
session, relays commands to the camera monitor, composes the final strip
and recap video, and uploads them to the session API.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default $"+config.EnvConfigFile+" or the data dir)")

	load := func() (*config.EnvConfig, error) {
		var (
			cfg *config.EnvConfig
			err error
		)
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.New()
		}
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	cmd.AddCommand(newServeCmd(version, load))
	cmd.AddCommand(newMonitorCmd(load))
	cmd.AddCommand(newLayoutsCmd(load))
	cmd.AddCommand(newDoctorCmd(load))

	return cmd
}

type configLoader func() (*config.EnvConfig, error)
