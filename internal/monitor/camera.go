package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

const stopGrace = 5 * time.Second

// Camera is the physical capture device.
type Camera interface {
	Still(ctx context.Context) ([]byte, error)
	StartClip(ctx context.Context) (Clip, error)
}

// Clip is an in-flight recording.
type Clip interface {
	Stop() ([]byte, error)
}

// FFmpegCamera captures from a local device through ffmpeg.
type FFmpegCamera struct {
	runner *media.Runner
	device string
	format string
	tmpDir string
	logger *slog.Logger

	mu     sync.Mutex
	active *ffmpegClip
}

func NewFFmpegCamera(runner *media.Runner, device, format, tmpDir string, logger *slog.Logger) *FFmpegCamera {
	return &FFmpegCamera{
		runner: runner,
		device: device,
		format: format,
		tmpDir: tmpDir,
		logger: logging.WithComponent(logging.OrDiscard(logger), "camera"),
	}
}

func (c *FFmpegCamera) inputArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if c.format != "" {
		args = append(args, "-f", c.format)
	}
	return append(args, "-i", c.device)
}

// Still grabs one JPEG frame from the device.
func (c *FFmpegCamera) Still(ctx context.Context) ([]byte, error) {
	var out bytes.Buffer
	args := append(c.inputArgs(),
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
	if err := c.runner.Run(ctx, nil, &out, args...); err != nil {
		return nil, fmt.Errorf("grab still from %s: %w", c.device, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("grab still from %s: empty frame", c.device)
	}
	return out.Bytes(), nil
}

// StartClip begins recording to a temp file. Any clip still recording is
// torn down and discarded first.
func (c *FFmpegCamera) StartClip(ctx context.Context) (Clip, error) {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		c.logger.Warn("discarding in-flight clip recorder")
		prev.discard()
	}

	f, err := os.CreateTemp(c.tmpDir, "clip-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create clip file: %w", err)
	}
	path := f.Name()
	f.Close()

	args := append(c.inputArgs(),
		"-y",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		path,
	)
	proc, err := c.runner.Start(ctx, args...)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	clip := &ffmpegClip{camera: c, proc: proc, path: path}
	c.mu.Lock()
	c.active = clip
	c.mu.Unlock()
	c.logger.Debug("clip recording started", "path", filepath.Base(path))
	return clip, nil
}

type ffmpegClip struct {
	camera *FFmpegCamera
	proc   *media.Process
	path   string
	once   sync.Once
	data   []byte
	err    error
}

// Stop asks ffmpeg to finish the file by writing q to its stdin, then
// returns the recorded bytes.
func (c *ffmpegClip) Stop() ([]byte, error) {
	c.once.Do(func() {
		c.camera.release(c)
		c.err = c.finish()
		if c.err == nil {
			c.data, c.err = os.ReadFile(c.path)
		}
		os.Remove(c.path)
	})
	return c.data, c.err
}

func (c *ffmpegClip) discard() {
	c.once.Do(func() {
		c.err = fmt.Errorf("clip discarded")
		c.proc.Cmd.Process.Kill()
		c.proc.Wait()
		os.Remove(c.path)
	})
}

func (c *ffmpegClip) finish() error {
	io.WriteString(c.proc.Stdin, "q")
	c.proc.Stdin.Close()

	done := make(chan error, 1)
	go func() {
		io.Copy(io.Discard, c.proc.Stdout)
		done <- c.proc.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("finish clip: %w", err)
		}
		return nil
	case <-time.After(stopGrace):
		c.proc.Cmd.Process.Kill()
		<-done
		return fmt.Errorf("finish clip: recorder did not exit within %s", stopGrace)
	}
}

func (c *FFmpegCamera) release(clip *ffmpegClip) {
	c.mu.Lock()
	if c.active == clip {
		c.active = nil
	}
	c.mu.Unlock()
}
