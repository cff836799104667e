package booth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/signal"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListen_OverHub(t *testing.T) {
	hub := signal.NewHub(nil, 0)
	defer hub.Close()
	controller, _ := hub.Join("booth-1", "controller")
	monitor, _ := hub.Join("booth-1", "monitor")

	m := NewMachine(Options{Sessions: fakeCreator{id: "s"}, Broadcaster: controller, Room: "booth-1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Listen(ctx, controller)

	toCapture(t, m, "default_3_photo")

	// A remote display asks for a capture.
	monitor.Send(signal.EventTriggerCountdown, signal.Countdown{RoomID: "booth-1"})
	waitFor(t, "pending request", func() bool { return m.Snapshot().CapturePending() })
	reqID := m.Snapshot().CaptureRequestID

	// Monitor answers with a photo for a stale id first, then the real one.
	img := base64.StdEncoding.EncodeToString(photo(1))
	monitor.Send(signal.EventPhotoTaken, signal.PhotoTaken{SessionID: "s", Image: img, RequestID: "old"})
	monitor.Send(signal.EventPhotoTaken, signal.PhotoTaken{
		SessionID: "s",
		Image:     img,
		Video:     base64.StdEncoding.EncodeToString([]byte("clip")),
		RequestID: reqID,
	})
	waitFor(t, "registered capture", func() bool { return m.Snapshot().CapturedCount == 1 })

	s := m.Snapshot()
	if string(s.RawVideoClips[0]) != "clip" {
		t.Errorf("clip = %q", s.RawVideoClips[0])
	}

	// A failure report clears the next request.
	id, _ := m.RequestCapture()
	monitor.Send(signal.EventCaptureFailed, signal.CaptureFailed{RequestID: id, Error: "no device"})
	waitFor(t, "cleared request", func() bool { return !m.Snapshot().CapturePending() })

	monitor.Send(signal.EventSyncSignature, signal.SyncSignature{SignatureImage: "data:image/png;base64,AA"})
	waitFor(t, "signature", func() bool { return m.Snapshot().SignatureData != "" })

	reset := signal.ConfigUpdate{Reset: true}
	monitor.Send(signal.EventUpdateConfig, reset)
	waitFor(t, "remote reset", func() bool { return m.Snapshot().Step == StepFrameSelection })
}

func TestListen_StopsWhenConnCloses(t *testing.T) {
	hub := signal.NewHub(nil, 0)
	peer, _ := hub.Join("r", "p")
	m := NewMachine(Options{})

	done := make(chan struct{})
	go func() {
		m.Listen(context.Background(), peer)
		close(done)
	}()
	peer.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return")
	}
}
