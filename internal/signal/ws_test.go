package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServeWS_RelaysBetweenClientAndHubPeer(t *testing.T) {
	hub := NewHub(nil, 0)
	defer hub.Close()
	srv := httptest.NewServer(ServeWS(hub, ServerOptions{}))
	defer srv.Close()

	controller, err := hub.Join("booth-1", "controller")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := Dial(ctx, wsURL(srv), "booth-1", "monitor", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	// The join is processed asynchronously; wait until the hub sees the peer.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Stats().Peers) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("client never joined")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := client.Send(EventCaptureDone, CaptureDone{RoomID: "booth-1", ShotIndex: 1}); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}
	env := recv(t, controller.Messages())
	if env.Event != EventCaptureDone {
		t.Errorf("controller got %q", env.Event)
	}

	if err := controller.Send(EventShowResult, ShowResult{RoomID: "booth-1", ImageURL: "https://x/strip.jpg"}); err != nil {
		t.Fatal(err)
	}
	env = recv(t, client.Messages())
	var res ShowResult
	if err := env.Decode(&res); err != nil || res.ImageURL != "https://x/strip.jpg" {
		t.Errorf("client got %+v, %v", res, err)
	}
}

func TestServeWS_RejectsMissingJoin(t *testing.T) {
	hub := NewHub(nil, 0)
	defer hub.Close()
	srv := httptest.NewServer(ServeWS(hub, ServerOptions{}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	env, _ := NewEnvelope(EventUpdateConfig, ConfigUpdate{})
	if err := ws.WriteJSON(env); err != nil {
		t.Fatal(err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("ReadMessage() error = %v, want policy violation close", err)
	}
	if n := len(hub.Stats().Peers); n != 0 {
		t.Errorf("hub has %d peers, want 0", n)
	}
}

func TestServeWS_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, 0)
	defer hub.Close()
	srv := httptest.NewServer(ServeWS(hub, ServerOptions{AllowedOrigins: []string{"http://kiosk.local"}}))
	defer srv.Close()

	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Errorf("handshake response = %v, want 403", resp)
	}
}

func TestServeWS_AcceptsMissingOrigin(t *testing.T) {
	hub := NewHub(nil, 0)
	defer hub.Close()
	srv := httptest.NewServer(ServeWS(hub, ServerOptions{AllowedOrigins: []string{"http://kiosk.local"}}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ws.Close()
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/ws", "r", "monitor", nil); err == nil {
		t.Fatal("expected dial error")
	}
}
