package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file. Pointer fields
// distinguish "absent" from zero values.
type FileConfig struct {
	Server ServerSection `toml:"server"`
	Booth  BoothSection  `toml:"booth"`
	Cloud  CloudSection  `toml:"cloud"`
	Media  MediaSection  `toml:"media"`
}

type ServerSection struct {
	Port           *int     `toml:"port"`
	LogLevel       *string  `toml:"log_level"`
	DataDir        *string  `toml:"data_dir"`
	Headless       *bool    `toml:"headless"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type BoothSection struct {
	ID                *string `toml:"id"`
	DeviceType        *string `toml:"device_type"`
	FramesDir         *string `toml:"frames_dir"`
	DefaultMessage    *string `toml:"default_message"`
	CaptureIntervalMs *int    `toml:"capture_interval_ms"`
	CaptureTimeoutS   *int    `toml:"capture_timeout_s"`
}

type CloudSection struct {
	Enabled      *bool   `toml:"enabled"`
	BaseURL      *string `toml:"base_url"`
	Token        *string `toml:"token"`
	ShareBaseURL *string `toml:"share_base_url"`
}

type MediaSection struct {
	FFmpeg          *string `toml:"ffmpeg"`
	FFprobe         *string `toml:"ffprobe"`
	CameraDevice    *string `toml:"camera_device"`
	CameraFormat    *string `toml:"camera_format"`
	LocalCamera     *bool   `toml:"local_camera"`
	VideoFPS        *int    `toml:"video_fps"`
	LoadTimeoutS    *int    `toml:"load_timeout_s"`
	CompositorWaitS *int    `toml:"compositor_wait_s"`
}

// LoadFile reads a TOML config from the given path. Missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return fc, nil
}

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), "photobooth", "config.toml")
}
