package signal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	joinWait       = 10 * time.Second
	maxMessageSize = 32 << 20 // photo_taken carries a base64 still and clip
)

// ServerOptions configures the websocket endpoint.
type ServerOptions struct {
	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin.
	// Requests without an Origin header (non-browser peers) are always accepted.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ServeWS returns an HTTP handler that upgrades to a websocket and attaches
// the connection to the hub. The first frame must be a join envelope.
func ServeWS(hub *Hub, opts ServerOptions) http.Handler {
	logger := logging.WithComponent(logging.OrDiscard(opts.Logger), "signal-ws")
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(opts.AllowedOrigins) == 0 || origin == "" {
				return true
			}
			return slices.Contains(opts.AllowedOrigins, origin)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		ws.SetReadLimit(maxMessageSize)

		room, err := readJoin(ws)
		if err != nil {
			logger.Warn("rejecting websocket without join", "error", err, "remote", r.RemoteAddr)
			closeWith(ws, websocket.ClosePolicyViolation, "first message must be join")
			return
		}

		peer, err := hub.Join(room, uuid.NewString())
		if err != nil {
			logger.Warn("hub join failed", "room", room, "error", err)
			closeWith(ws, websocket.CloseTryAgainLater, err.Error())
			return
		}
		log := logging.WithRoom(logger, room).With("peer", peer.ID())
		log.Info("websocket peer connected", "remote", r.RemoteAddr)

		done := make(chan struct{})
		go writePump(ws, peer, done, log)
		readPump(ws, peer, log)
		close(done)
		peer.Close()
		log.Info("websocket peer disconnected")
	})
}

func readJoin(ws *websocket.Conn) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(joinWait)); err != nil {
		return "", err
	}
	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		return "", err
	}
	if env.Event != EventJoin {
		return "", &unexpectedEventError{got: env.Event}
	}
	var j Join
	if err := env.Decode(&j); err != nil {
		return "", err
	}
	if j.SessionID == "" {
		return "", &unexpectedEventError{got: "join without sessionId"}
	}
	return j.SessionID, nil
}

type unexpectedEventError struct{ got string }

func (e *unexpectedEventError) Error() string { return "unexpected event: " + e.got }

func readPump(ws *websocket.Conn, peer *Peer, log *slog.Logger) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("ignoring malformed envelope", "error", err)
			continue
		}
		if env.Event == EventJoin {
			continue
		}
		if err := peer.Forward(env); err != nil {
			log.Warn("relay failed", "event", env.Event, "error", err)
			return
		}
	}
}

func writePump(ws *websocket.Conn, peer *Peer, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case env, ok := <-peer.Messages():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(env); err != nil {
				log.Warn("websocket write failed", "event", env.Event, "error", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func closeWith(ws *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	ws.Close()
}
