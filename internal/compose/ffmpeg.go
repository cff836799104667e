package compose

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

// FFmpegClipOpener decodes clips to raw RGBA frames with ffmpeg, looping the
// input indefinitely.
type FFmpegClipOpener struct {
	runner *media.Runner
	logger *slog.Logger
}

func NewFFmpegClipOpener(runner *media.Runner, logger *slog.Logger) *FFmpegClipOpener {
	return &FFmpegClipOpener{runner: runner, logger: logging.WithComponent(logging.OrDiscard(logger), "clip-decoder")}
}

func (o *FFmpegClipOpener) Open(ctx context.Context, clip []byte, fps int) (ClipSource, error) {
	path, cleanup, err := media.SpoolTemp(clip, "source-*.mp4")
	if err != nil {
		return nil, err
	}
	probe, err := o.runner.Probe(ctx, path)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("probe clip: %w", err)
	}
	if probe.Width <= 0 || probe.Height <= 0 {
		cleanup()
		return nil, fmt.Errorf("probe clip: no video stream")
	}

	// The decoder outlives the open and is stopped by Close.
	proc, err := o.runner.Start(context.WithoutCancel(ctx), decodeArgs(path, fps)...)
	if err != nil {
		cleanup()
		return nil, err
	}
	proc.Stdin.Close()

	o.logger.Debug("clip decoder started", "width", probe.Width, "height", probe.Height, "duration_s", probe.Duration)
	return &ffmpegSource{
		proc:     proc,
		cleanup:  cleanup,
		frame:    image.NewRGBA(image.Rect(0, 0, probe.Width, probe.Height)),
		duration: time.Duration(probe.Duration * float64(time.Second)),
	}, nil
}

// decodeArgs keeps the stored orientation so frames match the dimensions
// ffprobe reports for the stream.
func decodeArgs(path string, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-noautorotate",
		"-stream_loop", "-1",
		"-i", path,
		"-an",
		"-vf", "fps=" + strconv.Itoa(fps),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

type ffmpegSource struct {
	proc     *media.Process
	cleanup  func()
	frame    *image.RGBA
	duration time.Duration
}

func (s *ffmpegSource) Duration() time.Duration { return s.duration }

// NextFrame reuses one buffer; the previous frame is overwritten.
func (s *ffmpegSource) NextFrame() (image.Image, error) {
	if _, err := io.ReadFull(s.proc.Stdout, s.frame.Pix); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return s.frame, nil
}

func (s *ffmpegSource) Close() error {
	s.proc.Cmd.Process.Kill()
	s.proc.Wait()
	s.cleanup()
	return nil
}

// FFmpegEncoders encodes raw RGBA frames to H.264 MP4.
type FFmpegEncoders struct {
	runner *media.Runner
	tmpDir string
	logger *slog.Logger
}

func NewFFmpegEncoders(runner *media.Runner, tmpDir string, logger *slog.Logger) *FFmpegEncoders {
	return &FFmpegEncoders{runner: runner, tmpDir: tmpDir, logger: logging.WithComponent(logging.OrDiscard(logger), "encoder")}
}

func (e *FFmpegEncoders) NewEncoder(ctx context.Context, width, height, fps int) (FrameEncoder, error) {
	f, err := os.CreateTemp(e.tmpDir, "recap-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	path := f.Name()
	f.Close()

	proc, err := e.runner.Start(ctx,
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", path,
	)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	go io.Copy(io.Discard, proc.Stdout)
	return &ffmpegEncoder{proc: proc, path: path}, nil
}

type ffmpegEncoder struct {
	proc *media.Process
	path string
}

func (e *ffmpegEncoder) WriteFrame(frame *image.RGBA) error {
	_, err := e.proc.Stdin.Write(frame.Pix)
	return err
}

func (e *ffmpegEncoder) Close() ([]byte, error) {
	defer os.Remove(e.path)
	e.proc.Stdin.Close()
	if err := e.proc.Wait(); err != nil {
		return nil, err
	}
	return os.ReadFile(e.path)
}
