package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_CreateSession_Success(t *testing.T) {
	var received createSessionRequest
	var receivedAuth, receivedBooth, receivedRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		receivedAuth = r.Header.Get("Authorization")
		receivedBooth = r.Header.Get("X-Booth-Id")
		receivedRequestID = r.Header.Get("X-Request-Id")

		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"sess-42"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "test-token", "booth-1", "kiosk", 0, testLogger())
	id, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sess-42" {
		t.Errorf("id = %q, want %q", id, "sess-42")
	}
	if receivedAuth != "Bearer test-token" {
		t.Errorf("auth = %q, want %q", receivedAuth, "Bearer test-token")
	}
	if receivedBooth != "booth-1" {
		t.Errorf("booth header = %q", receivedBooth)
	}
	if receivedRequestID == "" {
		t.Error("missing request id header")
	}
	if received.BoothID != "booth-1" || received.DeviceType != "kiosk" {
		t.Errorf("body = %+v", received)
	}
}

func TestHTTPClient_CreateSession_EmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "", "", 0, testLogger())
	if _, err := client.CreateSession(context.Background()); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestHTTPClient_UploadMedia_Multipart(t *testing.T) {
	var gotType, gotFilename, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/sess-1/media" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotType = r.FormValue("type")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		b, _ := io.ReadAll(f)
		gotBody = string(b)

		json.NewEncoder(w).Encode(Media{ID: "m1", Type: MediaProcessed, URL: "https://cdn.example/strip.jpg"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "", "", 0, testLogger())
	m, err := client.UploadMedia(context.Background(), "sess-1", MediaProcessed, "strip.jpg", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotType != "PROCESSED" || gotFilename != "strip.jpg" || gotBody != "jpeg-bytes" {
		t.Errorf("received type=%q filename=%q body=%q", gotType, gotFilename, gotBody)
	}
	if m.URL != "https://cdn.example/strip.jpg" {
		t.Errorf("url = %q", m.URL)
	}
}

func TestHTTPClient_ServerError_ReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"detail":"upstream down"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "", "", 0, testLogger())
	err := client.CompleteSession(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "upstream down") {
		t.Errorf("body = %q", apiErr.Body)
	}
	if !apiErr.IsRetryable() {
		t.Error("expected 502 to be retryable")
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	if !(&APIError{StatusCode: http.StatusInternalServerError}).IsRetryable() {
		t.Fatal("expected 5xx error to be retryable")
	}
	if (&APIError{StatusCode: http.StatusBadRequest}).IsRetryable() {
		t.Fatal("expected 4xx error to be permanent")
	}
}

func TestHTTPClient_GetSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/sess-9" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"sess-9","status":"COMPLETED","medias":[
			{"id":"a","type":"ORIGINAL","url":"u1"},
			{"id":"b","type":"VIDEO","url":"u2"}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "", "", 0, testLogger())
	s, err := client.GetSession(context.Background(), "sess-9")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusCompleted || len(s.Medias) != 2 {
		t.Errorf("session = %+v", s)
	}
	if s.MediaURL(MediaVideo) != "u2" || s.MediaURL(MediaProcessed) != "" {
		t.Errorf("MediaURL lookup wrong: video=%q processed=%q", s.MediaURL(MediaVideo), s.MediaURL(MediaProcessed))
	}
}

func TestHTTPClient_ListSessions_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "1" {
			t.Errorf("page = %q, want clamped to 1", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("limit = %q", got)
		}
		w.Write([]byte(`{"sessions":[{"id":"s1","status":"UPLOADING","medias":[]}],"page":1,"limit":20,"total":1}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "", "", 0, testLogger())
	p, err := client.ListSessions(context.Background(), 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if p.Total != 1 || len(p.Sessions) != 1 || p.Sessions[0].Status != StatusUploading {
		t.Errorf("page = %+v", p)
	}
}

func TestHTTPClient_Stats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"totalSessions":5,"completedSessions":4,"totalMedia":30}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", "", "", 0, testLogger())
	s, err := client.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalSessions != 5 || s.CompletedSessions != 4 || s.TotalMedia != 30 {
		t.Errorf("stats = %+v", s)
	}
}

func TestStubClient_Disabled(t *testing.T) {
	c := NewStubClient(testLogger())
	if _, err := c.CreateSession(context.Background()); !errors.Is(err, ErrCloudDisabled) {
		t.Errorf("CreateSession err = %v", err)
	}
	if _, err := c.UploadMedia(context.Background(), "s", MediaOriginal, "a.jpg", strings.NewReader("x")); !errors.Is(err, ErrCloudDisabled) {
		t.Errorf("UploadMedia err = %v", err)
	}
}

var _ Client = (*HTTPClient)(nil)
var _ Client = (*StubClient)(nil)
