package api

import (
	"context"
	"testing"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/compose"
)

func reviewSession(t *testing.T) booth.Session {
	t.Helper()
	var s booth.Session
	s.SessionID = "sess-1"
	s.Step = booth.StepReview
	s.SelectedFrameID = "default_3_photo"
	s.SelectedFilter = booth.FilterNone
	for i := 0; i < 3; i++ {
		s.RawPhotos[i] = testJPEG(t)
	}
	s.SelectedPhotoIndices = []int{0, 1, 2}
	return s
}

func TestPreviewKey_ChangesWithInputs(t *testing.T) {
	s := reviewSession(t)
	base := previewKey(s)

	s2 := s
	s2.SelectedPhotoIndices = []int{2, 1, 0}
	s3 := s
	s3.CustomMessage = "hello"
	s4 := s
	s4.SelectedFilter = booth.FilterSepia

	for name, other := range map[string]booth.Session{"order": s2, "message": s3, "filter": s4} {
		if previewKey(other) == base {
			t.Errorf("%s change kept the same key", name)
		}
	}
	if previewKey(s) != base {
		t.Error("key is not stable")
	}
}

func TestPreviewable(t *testing.T) {
	s := reviewSession(t)
	if !previewable(s) {
		t.Error("review session with photos should be previewable")
	}
	s.Step = booth.StepCapture
	if previewable(s) {
		t.Error("capture step should not be previewable")
	}
	s.Step = booth.StepSelection
	s.SelectedPhotoIndices = nil
	if previewable(s) {
		t.Error("empty selection should not be previewable")
	}
}

func TestPreviewer_DebouncedRenderIsCached(t *testing.T) {
	p := newPreviewer(compose.NewStripCompositor(nil, nil, "", nil), 10*time.Millisecond, testLogger())
	s := reviewSession(t)

	// A burst of changes settles on the last one.
	first := s
	first.SelectedPhotoIndices = []int{0}
	p.observe(first)
	p.observe(s)

	key := previewKey(s)
	deadline := time.Now().Add(5 * time.Second)
	for {
		p.mu.Lock()
		done := p.last.key == key
		p.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced render never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.mu.Lock()
	cached := p.last.result
	p.mu.Unlock()

	got, err := p.get(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if got != cached {
		t.Error("get rendered again instead of using the debounced result")
	}
}

func TestPreviewer_GetRendersWhenStale(t *testing.T) {
	p := newPreviewer(compose.NewStripCompositor(nil, nil, "", nil), time.Hour, testLogger())
	s := reviewSession(t)

	res, err := p.get(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if res.PreviewURL == "" || res.Width == 0 {
		t.Errorf("result = %+v", res)
	}
	p.stop()
}
