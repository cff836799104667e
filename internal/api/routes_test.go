package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/artifacts"
	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/cloud"
	"github.com/snapbooth/photobooth-agent/internal/compose"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/layout"
)

type fakeSessions struct{ id string }

func (f *fakeSessions) CreateSession(ctx context.Context) (string, error) {
	return f.id, nil
}

type fakeFinalizer struct{ result booth.Result }

func (f *fakeFinalizer) Finalize(ctx context.Context, s booth.Session, progress func(int)) booth.Result {
	progress(50)
	return f.result
}

type memHistory struct {
	mu      sync.Mutex
	entries []*history.Entry
}

func (m *memHistory) Add(ctx context.Context, e *history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]*history.Entry{e}, m.entries...)
	return nil
}

func (m *memHistory) List(ctx context.Context, limit int) ([]*history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	return append([]*history.Entry(nil), m.entries[:limit]...), nil
}

func (m *memHistory) Get(ctx context.Context, id string) (*history.Entry, error) { return nil, nil }

func (m *memHistory) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memHistory) GetConfig(ctx context.Context, key string) (string, error) { return "", nil }
func (m *memHistory) SetConfig(ctx context.Context, key, value string) error    { return nil }
func (m *memHistory) DeviceID(ctx context.Context) (string, error)              { return "dev", nil }

type fakeCloud struct {
	*cloud.StubClient
	stats *cloud.Stats
}

func (f *fakeCloud) Stats(ctx context.Context) (*cloud.Stats, error) { return f.stats, nil }

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 200, 255
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type testEnv struct {
	machine *booth.Machine
	store   *artifacts.Store
	history *memHistory
	router  http.Handler
}

func newTestEnv(t *testing.T, fin booth.Finalizer) *testEnv {
	t.Helper()
	m := booth.NewMachine(booth.Options{
		Sessions: &fakeSessions{id: "sess-1"},
		Room:     "booth-1",
	})
	if fin != nil {
		m.SetFinalizer(fin)
	}
	store := artifacts.NewStore(t.TempDir())
	hist := &memHistory{}
	cfg := ServerConfig{
		Machine:   m,
		Strip:     compose.NewStripCompositor(nil, nil, "", nil),
		Artifacts: artifacts.NewServer(store, nil),
		History:   hist,
		Cloud:     &fakeCloud{StubClient: cloud.NewStubClient(nil), stats: &cloud.Stats{TotalSessions: 3}},
		Logger:    testLogger(),
		StartTime: time.Now(),
		DeviceID:  "test-device",
		BoothID:   "booth-1",
		Version:   "test",
	}
	return &testEnv{machine: m, store: store, history: hist, router: NewRouter(cfg)}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var s SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode session %q: %v", rr.Body.String(), err)
	}
	return s
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	if code == "" {
		return
	}
	if got := decodeJSONBody(t, rr)["code"]; got != code {
		t.Errorf("code = %v, want %s", got, code)
	}
}

// captureAll answers capture requests until the machine leaves CAPTURE.
func (e *testEnv) captureAll(t *testing.T) {
	t.Helper()
	photo := testJPEG(t)
	for e.machine.Snapshot().Step == booth.StepCapture {
		rr := e.do(t, http.MethodPost, "/session/capture/trigger", "")
		expectCode(t, rr, http.StatusAccepted, "")
		var resp CaptureResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if _, err := e.machine.RegisterCapture(resp.RequestID, photo, nil); err != nil {
			t.Fatalf("register capture: %v", err)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/health", "")
	expectCode(t, rr, http.StatusOK, "")

	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["device_id"] != "test-device" || body["booth_id"] != "booth-1" {
		t.Errorf("health = %v", body)
	}
}

func TestFramesHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/frames", "")
	expectCode(t, rr, http.StatusOK, "")

	var resp FramesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Frames) != len(layout.Default().Frames()) {
		t.Fatalf("frames = %d", len(resp.Frames))
	}
	for _, f := range resp.Frames {
		if f.ID == layout.DefaultFrameID && (f.PhotoCount != 3 || f.CaptureCount != 6) {
			t.Errorf("default frame = %+v", f)
		}
	}
}

func TestSessionFlow_OverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/session", "")
	expectCode(t, rr, http.StatusOK, "")
	if s := decodeSession(t, rr); s.Step != string(booth.StepFrameSelection) {
		t.Fatalf("initial step = %s", s.Step)
	}

	expectCode(t, env.do(t, http.MethodPost, "/session/confirm", ""), http.StatusConflict, "WRONG_STEP")

	rr = env.do(t, http.MethodPost, "/session/frame", `{"frame_id":"default_3_photo"}`)
	expectCode(t, rr, http.StatusOK, "")
	s := decodeSession(t, rr)
	if s.Step != string(booth.StepConfig) || s.SessionID != "sess-1" || s.Local {
		t.Fatalf("after frame: %+v", s)
	}

	expectCode(t, env.do(t, http.MethodPut, "/session/filter", `{"filter":"neon"}`), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPut, "/session/filter", `{"filter":"sepia"}`), http.StatusOK, "")
	expectCode(t, env.do(t, http.MethodPut, "/session/message", `{"message":"  hi there "}`), http.StatusOK, "")
	expectCode(t, env.do(t, http.MethodPost, "/session/capture", `{"timer_seconds":99}`), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPost, "/session/capture", `{"timer_seconds":3}`), http.StatusOK, "")

	rr = env.do(t, http.MethodPost, "/session/capture/trigger", "")
	expectCode(t, rr, http.StatusAccepted, "")
	expectCode(t, env.do(t, http.MethodPost, "/session/capture/trigger", ""), http.StatusConflict, "WRONG_STEP")
	var first CaptureResponse
	json.Unmarshal(rr.Body.Bytes(), &first)
	if _, err := env.machine.RegisterCapture(first.RequestID, testJPEG(t), nil); err != nil {
		t.Fatal(err)
	}
	env.captureAll(t)

	s = decodeSession(t, env.do(t, http.MethodGet, "/session", ""))
	if s.Step != string(booth.StepSelection) || s.CapturedCount != 6 || len(s.Previews) != 6 {
		t.Fatalf("after capture: step=%s captured=%d previews=%d", s.Step, s.CapturedCount, len(s.Previews))
	}
	if s.Filter != "sepia" || s.Message != "hi there" || s.TimerDuration != 3 {
		t.Errorf("config not kept: %+v", s)
	}

	expectCode(t, env.do(t, http.MethodPost, "/session/selection/abc", ""), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPost, "/session/selection/9", ""), http.StatusBadRequest, "BAD_REQUEST")
	for _, i := range []string{"4", "0", "2"} {
		expectCode(t, env.do(t, http.MethodPost, "/session/selection/"+i, ""), http.StatusOK, "")
	}
	expectCode(t, env.do(t, http.MethodPost, "/session/selection/0", ""), http.StatusOK, "")
	expectCode(t, env.do(t, http.MethodPost, "/session/confirm", ""), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPost, "/session/selection/1", ""), http.StatusOK, "")

	rr = env.do(t, http.MethodPost, "/session/confirm", "")
	expectCode(t, rr, http.StatusOK, "")
	s = decodeSession(t, rr)
	if s.Step != string(booth.StepReview) || len(s.SelectedPhotoIndices) != 3 || s.SelectedPhotoIndices[0] != 4 {
		t.Fatalf("after confirm: %+v", s)
	}

	rr = env.do(t, http.MethodGet, "/session/preview", "")
	expectCode(t, rr, http.StatusOK, "")
	var preview PreviewResponse
	json.Unmarshal(rr.Body.Bytes(), &preview)
	if !strings.HasPrefix(preview.PreviewURL, "data:image/jpeg;base64,") || preview.Width != layout.DefaultCanvasWidth {
		t.Errorf("preview = %.60q %dx%d", preview.PreviewURL, preview.Width, preview.Height)
	}

	expectCode(t, env.do(t, http.MethodPost, "/session/signature", `{"data_url":"nope"}`), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPost, "/session/signing", ""), http.StatusOK, "")
	rr = env.do(t, http.MethodPost, "/session/signature", `{"data_url":"data:image/png;base64,AAAA"}`)
	expectCode(t, rr, http.StatusOK, "")
	if !decodeSession(t, rr).HasSignature {
		t.Error("signature not recorded")
	}

	rr = env.do(t, http.MethodPost, "/session/reset", "")
	expectCode(t, rr, http.StatusOK, "")
	if s := decodeSession(t, rr); s.Step != string(booth.StepFrameSelection) || s.SessionID != "" {
		t.Errorf("after reset: %+v", s)
	}
}

func TestSelectFrame_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.do(t, http.MethodPost, "/session/frame", `{}`), http.StatusBadRequest, "BAD_REQUEST")
	expectCode(t, env.do(t, http.MethodPost, "/session/frame", `{"frame_id":"nope"}`), http.StatusNotFound, "NOT_FOUND")
	expectCode(t, env.do(t, http.MethodPost, "/session/frame", `{bad json`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestPreview_RequiresSelection(t *testing.T) {
	env := newTestEnv(t, nil)
	expectCode(t, env.do(t, http.MethodGet, "/session/preview", ""), http.StatusConflict, "WRONG_STEP")
}

// finishSession drives the machine through to a finished session.
func (e *testEnv) finishSession(t *testing.T) {
	t.Helper()
	expectCode(t, e.do(t, http.MethodPost, "/session/frame", `{"frame_id":"default_3_photo"}`), http.StatusOK, "")
	expectCode(t, e.do(t, http.MethodPost, "/session/capture", `{}`), http.StatusOK, "")
	e.captureAll(t)
	for _, i := range []string{"0", "1", "2"} {
		e.do(t, http.MethodPost, "/session/selection/"+i, "")
	}
	expectCode(t, e.do(t, http.MethodPost, "/session/confirm", ""), http.StatusOK, "")

	expectCode(t, e.do(t, http.MethodGet, "/session/qr.png", ""), http.StatusConflict, "WRONG_STEP")

	rr := e.do(t, http.MethodPost, "/session/finalize", "")
	expectCode(t, rr, http.StatusAccepted, "")
	e.machine.Wait()
	expectCode(t, e.do(t, http.MethodPost, "/session/finalize", ""), http.StatusConflict, "WRONG_STEP")
}

func TestQR_EncodesShareURL(t *testing.T) {
	env := newTestEnv(t, &fakeFinalizer{result: booth.Result{ShareURL: "https://share.example/sess-1"}})
	env.finishSession(t)

	s := decodeSession(t, env.do(t, http.MethodGet, "/session", ""))
	if s.Result == nil || s.Result.Progress != 100 || s.IsProcessing {
		t.Fatalf("result = %+v processing = %v", s.Result, s.IsProcessing)
	}

	rr := env.do(t, http.MethodGet, "/session/qr.png", "")
	expectCode(t, rr, http.StatusOK, "")
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatalf("qr is not a png: %v", err)
	}
	if img.Bounds().Dx() != qrSize {
		t.Errorf("qr size = %d", img.Bounds().Dx())
	}
}

func TestQR_NothingToShare(t *testing.T) {
	env := newTestEnv(t, &fakeFinalizer{})
	env.finishSession(t)
	expectCode(t, env.do(t, http.MethodGet, "/session/qr.png", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestShareTarget(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://booth.local:8080/session/qr.png", nil)
	if got := shareTarget(req, nil); got != "" {
		t.Errorf("nil result = %q", got)
	}
	if got := shareTarget(req, &booth.Result{ShareURL: "https://s/1", LocalStrip: "/artifacts/1/strip.jpg"}); got != "https://s/1" {
		t.Errorf("share url = %q", got)
	}
	if got := shareTarget(req, &booth.Result{LocalStrip: "/artifacts/local-1/strip.jpg"}); got != "http://booth.local:8080/artifacts/local-1/strip.jpg" {
		t.Errorf("local strip = %q", got)
	}
}

func TestArtifactRoute_Range(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.store.Put("sess-1", artifacts.VideoName, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/artifacts/sess-1/recap.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodHead, "/artifacts/sess-1/recap.mp4", "")
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("HEAD status = %d body = %d bytes", rr.Code, rr.Body.Len())
	}

	rr = env.do(t, http.MethodGet, "/artifacts/sess-1/missing.jpg", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rr.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		env.history.Add(context.Background(), &history.Entry{ID: id})
	}

	var resp HistoryResponse
	rr := env.do(t, http.MethodGet, "/history?limit=2", "")
	expectCode(t, rr, http.StatusOK, "")
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Entries) != 2 || resp.Total != 3 || resp.Entries[0].ID != "c" {
		t.Errorf("history = %+v", resp)
	}

	expectCode(t, env.do(t, http.MethodGet, "/history?limit=x", ""), http.StatusBadRequest, "BAD_REQUEST")
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/admin/stats", "")
	expectCode(t, rr, http.StatusOK, "")
	if decodeJSONBody(t, rr)["totalSessions"] != float64(3) {
		t.Errorf("stats = %s", rr.Body.String())
	}

	expectCode(t, env.do(t, http.MethodGet, "/admin/sessions", ""), http.StatusServiceUnavailable, "CLOUD_DISABLED")

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	expectCode(t, rr, http.StatusForbidden, "FORBIDDEN")
}

func TestHealthRoute_CORS_Integration(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}
