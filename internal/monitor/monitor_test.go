package monitor

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/signal"
)

type fakeClip struct {
	data    []byte
	stopped bool
	mu      *sync.Mutex
}

func (c *fakeClip) Stop() ([]byte, error) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return c.data, nil
}

type fakeCamera struct {
	mu       sync.Mutex
	stillErr error
	clipErr  error
	stills   int
	clips    []*fakeClip
}

func (c *fakeCamera) Still(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stillErr != nil {
		return nil, c.stillErr
	}
	c.stills++
	return []byte{0xff, 0xd8, byte(c.stills)}, nil
}

func (c *fakeCamera) StartClip(ctx context.Context) (Clip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clipErr != nil {
		return nil, c.clipErr
	}
	clip := &fakeClip{data: []byte("mp4"), mu: &c.mu}
	c.clips = append(c.clips, clip)
	return clip, nil
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func never(time.Duration) <-chan time.Time { return nil }

func expect(t *testing.T, ch <-chan signal.Envelope, event string) signal.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-ch:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func setup(t *testing.T, cam Camera, after func(time.Duration) <-chan time.Time) (*signal.Peer, context.CancelFunc, chan struct{}) {
	t.Helper()
	hub := signal.NewHub(nil, 0)
	t.Cleanup(func() { hub.Close() })
	controller, _ := hub.Join("booth-1", "controller")
	peer, _ := hub.Join("booth-1", "monitor")

	mon := New(cam, Options{Room: "booth-1", After: after})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx, peer)
		close(done)
	}()
	return controller, cancel, done
}

func ptr[T any](v T) *T { return &v }

func TestMonitor_AnswersCaptureRequest(t *testing.T) {
	cam := &fakeCamera{}
	controller, cancel, done := setup(t, cam, immediate)
	defer func() { cancel(); <-done }()

	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{
		Reset:         true,
		SessionID:     ptr("sess-1"),
		TimerDuration: ptr(3),
	})
	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Some("req-1")})

	var cd signal.Countdown
	expect(t, controller.Messages(), signal.EventStartCountdown).Decode(&cd)
	if cd.RequestID != "req-1" || cd.Seconds != 3 || cd.ShotIndex != 0 {
		t.Errorf("countdown = %+v", cd)
	}

	var pt signal.PhotoTaken
	if err := expect(t, controller.Messages(), signal.EventPhotoTaken).Decode(&pt); err != nil {
		t.Fatal(err)
	}
	if pt.RequestID != "req-1" || pt.SessionID != "sess-1" || pt.Slot != 0 {
		t.Errorf("photo_taken = %+v", pt)
	}
	clip, _ := base64.StdEncoding.DecodeString(pt.Video)
	if string(clip) != "mp4" {
		t.Errorf("clip = %q", clip)
	}
	expect(t, controller.Messages(), signal.EventCaptureDone)

	// Controller clears the id, then asks for the next shot.
	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Cleared()})
	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Some("req-2")})
	expect(t, controller.Messages(), signal.EventPhotoTaken).Decode(&pt)
	if pt.RequestID != "req-2" || pt.Slot != 1 {
		t.Errorf("second photo_taken = %+v", pt)
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()
	for i, c := range cam.clips {
		if !c.stopped {
			t.Errorf("clip %d never stopped", i)
		}
	}
}

func TestMonitor_StillFailureReportsCaptureFailed(t *testing.T) {
	cam := &fakeCamera{stillErr: errors.New("device busy")}
	controller, cancel, done := setup(t, cam, immediate)
	defer func() { cancel(); <-done }()

	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Some("req-1")})

	var f signal.CaptureFailed
	expect(t, controller.Messages(), signal.EventCaptureFailed).Decode(&f)
	if f.RequestID != "req-1" || f.Error == "" {
		t.Errorf("capture_failed = %+v", f)
	}
}

func TestMonitor_ClipFailureStillSendsPhoto(t *testing.T) {
	cam := &fakeCamera{clipErr: errors.New("no encoder")}
	controller, cancel, done := setup(t, cam, immediate)
	defer func() { cancel(); <-done }()

	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Some("req-1")})

	var pt signal.PhotoTaken
	expect(t, controller.Messages(), signal.EventPhotoTaken).Decode(&pt)
	if pt.Video != "" || pt.Image == "" {
		t.Errorf("photo_taken = %+v", pt)
	}
}

func TestMonitor_ResetCancelsCountdown(t *testing.T) {
	cam := &fakeCamera{}
	controller, cancel, done := setup(t, cam, never)
	defer func() { cancel(); <-done }()

	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{CaptureRequestID: signal.Some("req-1")})
	expect(t, controller.Messages(), signal.EventStartCountdown)

	controller.Send(signal.EventUpdateConfig, signal.ConfigUpdate{Reset: true})

	deadline := time.Now().Add(2 * time.Second)
	for {
		cam.mu.Lock()
		stopped := len(cam.clips) == 1 && cam.clips[0].stopped
		stills := cam.stills
		cam.mu.Unlock()
		if stills != 0 {
			t.Fatal("still taken after reset")
		}
		if stopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("clip not torn down after reset")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
