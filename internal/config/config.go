// Package config provides configuration management for the photobooth agent.
// Values come from built-in defaults, an optional TOML file and environment
// variables, applied in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort       = 8790
	DefaultLogLevel   = "info"
	DefaultDataDir    = ".photobooth"
	DefaultBoothID    = "booth-1"
	DefaultDeviceType = "kiosk"

	DefaultCameraDevice = "/dev/video0"
	DefaultCameraFormat = "v4l2"
	DefaultFFmpegPath   = "ffmpeg"
	DefaultFFprobePath  = "ffprobe"

	DefaultVideoFPS             = 30
	DefaultCaptureIntervalMs    = 1000
	DefaultCaptureTimeoutS      = 30
	DefaultMediaLoadTimeoutS    = 10
	DefaultCompositorWaitS      = 120
	DefaultDefaultMessage       = "Memories made here"
	DefaultHistoryLimit         = 50
	DefaultPreviewDebounceMs    = 300
	DefaultCloudRequestTimeoutS = 60

	// Environment variable names
	EnvConfigFile = "PHOTOBOOTH_CONFIG"
	EnvPort       = "PHOTOBOOTH_PORT"
	EnvLogLevel   = "PHOTOBOOTH_LOG_LEVEL"
	EnvDataDir    = "PHOTOBOOTH_DATA_DIR"
	EnvBoothID    = "PHOTOBOOTH_BOOTH_ID"
	EnvDeviceType = "PHOTOBOOTH_DEVICE_TYPE"
	EnvFramesDir  = "PHOTOBOOTH_FRAMES_DIR"
	EnvHeadless   = "PHOTOBOOTH_HEADLESS"

	EnvCloudEnabled  = "PHOTOBOOTH_CLOUD_ENABLED"
	EnvCloudBaseURL  = "PHOTOBOOTH_CLOUD_BASE_URL"
	EnvCloudToken    = "PHOTOBOOTH_CLOUD_TOKEN"
	EnvShareBaseURL  = "PHOTOBOOTH_SHARE_BASE_URL"
	EnvAllowedOrigin = "PHOTOBOOTH_ALLOWED_ORIGINS"

	EnvFFmpegPath   = "PHOTOBOOTH_FFMPEG"
	EnvFFprobePath  = "PHOTOBOOTH_FFPROBE"
	EnvCameraDevice = "PHOTOBOOTH_CAMERA_DEVICE"
	EnvCameraFormat = "PHOTOBOOTH_CAMERA_FORMAT"
	EnvLocalCamera  = "PHOTOBOOTH_LOCAL_CAMERA"

	EnvCaptureIntervalMs = "PHOTOBOOTH_CAPTURE_INTERVAL_MS"
	EnvCaptureTimeoutS   = "PHOTOBOOTH_CAPTURE_TIMEOUT_S"
	EnvMediaLoadTimeoutS = "PHOTOBOOTH_MEDIA_LOAD_TIMEOUT_S"
	EnvCompositorWaitS   = "PHOTOBOOTH_COMPOSITOR_WAIT_S"
	EnvVideoFPS          = "PHOTOBOOTH_VIDEO_FPS"
	EnvDefaultMessage    = "PHOTOBOOTH_DEFAULT_MESSAGE"

	// Database filename
	DBFilename = "photobooth.db"
)

// MinCaptureTimeoutS is the wait allowed after a countdown ends for the
// monitor's photo to arrive.
const MinCaptureTimeoutS = 5

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ArtifactsDir() string
	FramesDir() string
	BoothID() string
	DeviceType() string
	Headless() bool

	CloudEnabled() bool
	CloudBaseURL() string
	CloudToken() string
	CloudRequestTimeout() time.Duration
	ShareBaseURL() string
	AllowedOrigins() []string

	FFmpegPath() string
	FFprobePath() string
	CameraDevice() string
	CameraFormat() string
	LocalCamera() bool

	CaptureInterval() time.Duration
	CaptureTimeout() time.Duration
	MediaLoadTimeout() time.Duration
	CompositorWait() time.Duration
	VideoFPS() int
	DefaultMessage() string
	HistoryLimit() int
	PreviewDebounce() time.Duration
}

// EnvConfig reads configuration from the config file and environment variables
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	framesDir  string
	boothID    string
	deviceType string
	headless   bool

	cloudEnabled   bool
	cloudBaseURL   string
	cloudToken     string
	shareBaseURL   string
	allowedOrigins []string

	ffmpegPath   string
	ffprobePath  string
	cameraDevice string
	cameraFormat string
	localCamera  bool

	captureIntervalMs int
	captureTimeoutS   int
	mediaLoadTimeoutS int
	compositorWaitS   int
	videoFPS          int
	defaultMessage    string
}

// New creates a new EnvConfig from defaults, the TOML file at
// DefaultConfigPath (or $PHOTOBOOTH_CONFIG) and environment overrides.
func New() (*EnvConfig, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = DefaultConfigPath()
	}
	return Load(path)
}

// Load is New with an explicit config file path. A missing file is not an error.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()

	fc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyFile(fc)

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.captureTimeoutS < MinCaptureTimeoutS {
		return nil, fmt.Errorf("invalid booth.capture_timeout_s %d: must be at least %d", cfg.captureTimeoutS, MinCaptureTimeoutS)
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	dataDir := defaultDataDir()
	return &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           dataDir,
		boothID:           DefaultBoothID,
		deviceType:        DefaultDeviceType,
		ffmpegPath:        DefaultFFmpegPath,
		ffprobePath:       DefaultFFprobePath,
		cameraDevice:      DefaultCameraDevice,
		cameraFormat:      DefaultCameraFormat,
		captureIntervalMs: DefaultCaptureIntervalMs,
		captureTimeoutS:   DefaultCaptureTimeoutS,
		mediaLoadTimeoutS: DefaultMediaLoadTimeoutS,
		compositorWaitS:   DefaultCompositorWaitS,
		videoFPS:          DefaultVideoFPS,
		defaultMessage:    DefaultDefaultMessage,
		allowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
	}
}

func (c *EnvConfig) applyFile(fc FileConfig) {
	if fc.Server.Port != nil {
		c.port = *fc.Server.Port
	}
	if fc.Server.LogLevel != nil {
		c.logLevel = *fc.Server.LogLevel
	}
	if fc.Server.DataDir != nil {
		c.dataDir = expandTilde(*fc.Server.DataDir)
	}
	if fc.Server.Headless != nil {
		c.headless = *fc.Server.Headless
	}
	if len(fc.Server.AllowedOrigins) > 0 {
		c.allowedOrigins = fc.Server.AllowedOrigins
	}

	if fc.Booth.ID != nil {
		c.boothID = *fc.Booth.ID
	}
	if fc.Booth.DeviceType != nil {
		c.deviceType = *fc.Booth.DeviceType
	}
	if fc.Booth.FramesDir != nil {
		c.framesDir = expandTilde(*fc.Booth.FramesDir)
	}
	if fc.Booth.DefaultMessage != nil {
		c.defaultMessage = *fc.Booth.DefaultMessage
	}
	if fc.Booth.CaptureIntervalMs != nil {
		c.captureIntervalMs = *fc.Booth.CaptureIntervalMs
	}
	if fc.Booth.CaptureTimeoutS != nil {
		c.captureTimeoutS = *fc.Booth.CaptureTimeoutS
	}

	if fc.Cloud.Enabled != nil {
		c.cloudEnabled = *fc.Cloud.Enabled
	}
	if fc.Cloud.BaseURL != nil {
		c.cloudBaseURL = *fc.Cloud.BaseURL
	}
	if fc.Cloud.Token != nil {
		c.cloudToken = *fc.Cloud.Token
	}
	if fc.Cloud.ShareBaseURL != nil {
		c.shareBaseURL = *fc.Cloud.ShareBaseURL
	}

	if fc.Media.FFmpeg != nil {
		c.ffmpegPath = *fc.Media.FFmpeg
	}
	if fc.Media.FFprobe != nil {
		c.ffprobePath = *fc.Media.FFprobe
	}
	if fc.Media.CameraDevice != nil {
		c.cameraDevice = *fc.Media.CameraDevice
	}
	if fc.Media.CameraFormat != nil {
		c.cameraFormat = *fc.Media.CameraFormat
	}
	if fc.Media.LocalCamera != nil {
		c.localCamera = *fc.Media.LocalCamera
	}
	if fc.Media.VideoFPS != nil {
		c.videoFPS = *fc.Media.VideoFPS
	}
	if fc.Media.LoadTimeoutS != nil {
		c.mediaLoadTimeoutS = *fc.Media.LoadTimeoutS
	}
	if fc.Media.CompositorWaitS != nil {
		c.compositorWaitS = *fc.Media.CompositorWaitS
	}
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}

	setString(&c.logLevel, EnvLogLevel)
	setString(&c.boothID, EnvBoothID)
	setString(&c.deviceType, EnvDeviceType)
	setString(&c.cloudBaseURL, EnvCloudBaseURL)
	setString(&c.cloudToken, EnvCloudToken)
	setString(&c.shareBaseURL, EnvShareBaseURL)
	setString(&c.ffmpegPath, EnvFFmpegPath)
	setString(&c.ffprobePath, EnvFFprobePath)
	setString(&c.cameraDevice, EnvCameraDevice)
	setString(&c.cameraFormat, EnvCameraFormat)
	setString(&c.defaultMessage, EnvDefaultMessage)

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = expandTilde(dd)
	}
	if fd := os.Getenv(EnvFramesDir); fd != "" {
		c.framesDir = expandTilde(fd)
	}
	if ao := os.Getenv(EnvAllowedOrigin); ao != "" {
		c.allowedOrigins = splitList(ao)
	}

	for _, b := range []struct {
		env string
		dst *bool
	}{
		{EnvHeadless, &c.headless},
		{EnvCloudEnabled, &c.cloudEnabled},
		{EnvLocalCamera, &c.localCamera},
	} {
		if v := os.Getenv(b.env); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", b.env, err)
			}
			*b.dst = parsed
		}
	}

	for _, n := range []struct {
		env string
		dst *int
		min int
	}{
		{EnvCaptureIntervalMs, &c.captureIntervalMs, 50},
		{EnvCaptureTimeoutS, &c.captureTimeoutS, MinCaptureTimeoutS},
		{EnvMediaLoadTimeoutS, &c.mediaLoadTimeoutS, 1},
		{EnvCompositorWaitS, &c.compositorWaitS, 1},
		{EnvVideoFPS, &c.videoFPS, 1},
	} {
		if v := os.Getenv(n.env); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", n.env, err)
			}
			if parsed < n.min {
				return fmt.Errorf("invalid %s: must be at least %d", n.env, n.min)
			}
			*n.dst = parsed
		}
	}

	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ArtifactsDir returns where composed strips and recaps are written
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// FramesDir returns the directory holding frame overlay PNGs and layouts.yaml
func (c *EnvConfig) FramesDir() string {
	if c.framesDir != "" {
		return c.framesDir
	}
	return filepath.Join(c.dataDir, "frames")
}

func (c *EnvConfig) BoothID() string {
	return c.boothID
}

func (c *EnvConfig) DeviceType() string {
	return c.deviceType
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// CloudEnabled reports whether uploads go to the remote session API
func (c *EnvConfig) CloudEnabled() bool {
	return c.cloudEnabled
}

func (c *EnvConfig) CloudBaseURL() string {
	return strings.TrimRight(c.cloudBaseURL, "/")
}

func (c *EnvConfig) CloudToken() string {
	return c.cloudToken
}

func (c *EnvConfig) CloudRequestTimeout() time.Duration {
	return time.Duration(DefaultCloudRequestTimeoutS) * time.Second
}

// ShareBaseURL is the public page prefix encoded into the QR code
func (c *EnvConfig) ShareBaseURL() string {
	return strings.TrimRight(c.shareBaseURL, "/")
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) CameraDevice() string {
	return c.cameraDevice
}

func (c *EnvConfig) CameraFormat() string {
	return c.cameraFormat
}

// LocalCamera reports whether the controller hosts an in-process monitor
func (c *EnvConfig) LocalCamera() bool {
	return c.localCamera
}

func (c *EnvConfig) CaptureInterval() time.Duration {
	return time.Duration(c.captureIntervalMs) * time.Millisecond
}

// CaptureTimeout bounds how long a capture request may stay pending once
// its countdown has ended.
func (c *EnvConfig) CaptureTimeout() time.Duration {
	return time.Duration(c.captureTimeoutS) * time.Second
}

func (c *EnvConfig) MediaLoadTimeout() time.Duration {
	return time.Duration(c.mediaLoadTimeoutS) * time.Second
}

func (c *EnvConfig) CompositorWait() time.Duration {
	return time.Duration(c.compositorWaitS) * time.Second
}

func (c *EnvConfig) VideoFPS() int {
	return c.videoFPS
}

func (c *EnvConfig) DefaultMessage() string {
	return c.defaultMessage
}

func (c *EnvConfig) HistoryLimit() int {
	return DefaultHistoryLimit
}

func (c *EnvConfig) PreviewDebounce() time.Duration {
	return time.Duration(DefaultPreviewDebounceMs) * time.Millisecond
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
