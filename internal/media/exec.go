// Package media wraps the ffmpeg/ffprobe executables and the image codecs
// shared by the camera, the compositors and the uploader.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

const maxStderrBytes = 8 * 1024

// ErrToolMissing is returned when ffmpeg or ffprobe cannot be found.
var ErrToolMissing = errors.New("media: ffmpeg tool not found")

// Runner executes ffmpeg and ffprobe.
type Runner struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

func NewRunner(ffmpegPath, ffprobePath string, logger *slog.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Runner{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "media"),
	}
}

// Check verifies both executables are on PATH.
func (r *Runner) Check() error {
	for _, bin := range []string{r.ffmpeg, r.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s", ErrToolMissing, bin)
		}
	}
	return nil
}

// ExitError reports a failed ffmpeg run with the tail of its stderr.
type ExitError struct {
	Tool       string
	ExitCode   int
	StderrTail string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.StderrTail, 512))
}

// Run executes ffmpeg to completion. stdin and stdout may be nil.
func (r *Runner) Run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	return r.run(ctx, r.ffmpeg, stdin, stdout, args...)
}

func (r *Runner) run(ctx context.Context, bin string, stdin io.Reader, stdout io.Writer, args ...string) error {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdin = stdin
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	r.logger.Debug("executing media command", "tool", bin, "args", args)
	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		r.logger.Debug("media command completed", "tool", bin, "duration_ms", elapsed.Milliseconds())
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", bin, ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	r.logger.Warn("media command failed",
		"tool", bin,
		"exit_code", exitCode,
		"duration_ms", elapsed.Milliseconds(),
		"stderr_tail", truncate(stderrBuf.String(), 512),
	)
	return &ExitError{Tool: bin, ExitCode: exitCode, StderrTail: stderrBuf.String()}
}

// Process is a long-running ffmpeg whose pipes the caller drives.
type Process struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr *bytes.Buffer
}

// Start launches ffmpeg with piped stdin and stdout.
func (r *Runner) Start(ctx context.Context, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	r.logger.Debug("starting media process", "args", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.ffmpeg, err)
	}
	return &Process{Cmd: cmd, Stdin: stdin, Stdout: stdout, stderr: &stderrBuf}, nil
}

// Wait waits for exit and converts a failure into an ExitError.
func (p *Process) Wait() error {
	err := p.Cmd.Wait()
	if err == nil {
		return nil
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &ExitError{Tool: p.Cmd.Path, ExitCode: exitCode, StderrTail: p.stderr.String()}
}

// ProbeResult is the subset of ffprobe output the booth uses.
type ProbeResult struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	FrameRate float64
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Probe inspects a media file.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	var out bytes.Buffer
	err := r.run(ctx, r.ffprobe, nil, &out,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,codec_name,width,height,r_frame_rate,duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseProbe(out.Bytes())
}

// ProbeBytes spools data to a temp file and probes it. Containers such as
// MP4 cannot be probed reliably from a pipe.
func (r *Runner) ProbeBytes(ctx context.Context, data []byte) (*ProbeResult, error) {
	path, cleanup, err := SpoolTemp(data, "probe-*")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return r.Probe(ctx, path)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	for _, s := range raw.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.Codec = s.CodecName
		res.Width = s.Width
		res.Height = s.Height
		res.FrameRate = parseRate(s.RFrameRate)
		if res.Duration == 0 {
			res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		break
	}
	return res, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// SpoolTemp writes data to a temp file and returns a cleanup func.
func SpoolTemp(data []byte, pattern string) (string, func(), error) {
	f, err := os.CreateTemp("", "photobooth-"+pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	cleanup := func() { os.Remove(name) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return name, cleanup, nil
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
