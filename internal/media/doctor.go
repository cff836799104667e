package media

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

const defaultDoctorTTL = 5 * time.Minute

// Capabilities describes the ffmpeg toolchain found on this machine.
type Capabilities struct {
	FFmpeg   bool      `json:"ffmpeg"`
	FFprobe  bool      `json:"ffprobe"`
	Version  string    `json:"version,omitempty"`
	ProbedAt time.Time `json:"probed_at"`
}

// Video reports whether recap videos can be encoded.
func (c *Capabilities) Video() bool {
	return c != nil && c.FFmpeg && c.FFprobe
}

// Capabilities looks both executables up and reads the ffmpeg version line.
func (r *Runner) Capabilities(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{ProbedAt: time.Now()}
	if _, err := exec.LookPath(r.ffprobe); err == nil {
		caps.FFprobe = true
	}
	if _, err := exec.LookPath(r.ffmpeg); err != nil {
		return caps, nil
	}
	caps.FFmpeg = true

	var out bytes.Buffer
	if err := r.Run(ctx, nil, &out, "-hide_banner", "-version"); err != nil {
		return nil, err
	}
	caps.Version = parseVersionLine(out.Bytes())
	return caps, nil
}

// parseVersionLine extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersionLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	if !sc.Scan() {
		return ""
	}
	fields := strings.Fields(sc.Text())
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return ""
}

// Doctor caches toolchain probes for a TTL.
type Doctor struct {
	probe  func(ctx context.Context) (*Capabilities, error)
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(r *Runner, logger *slog.Logger) *Doctor {
	return &Doctor{
		probe:  r.Capabilities,
		ttl:    defaultDoctorTTL,
		logger: logging.WithComponent(logging.OrDiscard(logger), "doctor"),
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()
	return d.Refresh(ctx)
}

func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes regardless of cache freshness. A failed probe falls back
// to the stale result when there is one.
func (d *Doctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.probe(ctx)
	if err != nil {
		d.logger.Warn("toolchain probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}
