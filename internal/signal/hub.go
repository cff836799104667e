package signal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

// DefaultBufferSize is the per-peer inbound queue length.
const DefaultBufferSize = 32

var (
	// ErrHubClosed is returned by operations on a closed hub.
	ErrHubClosed = errors.New("signal: hub is closed")

	// ErrPeerExists is returned when a peer id is already in the room.
	ErrPeerExists = errors.New("signal: peer already joined")
)

// Hub relays envelopes between the peers of a room. A message is delivered
// to every other peer; a peer whose queue is full misses it.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]*Peer
	closed     bool
	bufferSize int
	logger     *slog.Logger

	published atomic.Uint64
}

// NewHub creates a hub. bufferSize <= 0 selects DefaultBufferSize.
func NewHub(logger *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		rooms:      make(map[string]map[string]*Peer),
		bufferSize: bufferSize,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "signal"),
	}
}

// Peer is a hub member. It satisfies Conn.
type Peer struct {
	id   string
	room string
	hub  *Hub
	ch   chan Envelope

	sent    atomic.Uint64
	dropped atomic.Uint64
	left    bool // guarded by hub.mu
}

// Join adds a peer to room.
func (h *Hub) Join(room, peerID string) (*Peer, error) {
	if room == "" || peerID == "" {
		return nil, fmt.Errorf("signal: room and peer id are required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Peer)
		h.rooms[room] = members
	}
	if _, exists := members[peerID]; exists {
		return nil, fmt.Errorf("%w: %s in %s", ErrPeerExists, peerID, room)
	}

	p := &Peer{id: peerID, room: room, hub: h, ch: make(chan Envelope, h.bufferSize)}
	members[peerID] = p
	h.logger.Debug("peer joined", "room", room, "peer", peerID, "members", len(members))
	return p, nil
}

func (h *Hub) publish(from *Peer, env Envelope) error {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	if from.left {
		return fmt.Errorf("signal: peer %s has left", from.id)
	}

	env.Room = from.room
	env.From = from.id
	for id, p := range h.rooms[from.room] {
		if id == from.id {
			continue
		}
		select {
		case p.ch <- env:
			p.sent.Add(1)
		default:
			p.dropped.Add(1)
			h.logger.Warn("dropped message for slow peer", "room", from.room, "peer", id, "event", env.Event)
		}
	}
	return nil
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.left {
		return
	}
	p.left = true
	close(p.ch)

	if members, ok := h.rooms[p.room]; ok {
		delete(members, p.id)
		if len(members) == 0 {
			delete(h.rooms, p.room)
		}
	}
	h.logger.Debug("peer left", "room", p.room, "peer", p.id)
}

// PeerStats counts deliveries to one peer.
type PeerStats struct {
	Room    string `json:"room"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats is a snapshot of hub activity.
type Stats struct {
	Published    uint64               `json:"published"`
	TotalDropped uint64               `json:"total_dropped"`
	Peers        map[string]PeerStats `json:"peers"`
}

// Stats returns a snapshot. Counters may advance while it is built.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Published: h.published.Load(), Peers: make(map[string]PeerStats)}
	for room, members := range h.rooms {
		for id, p := range members {
			ps := PeerStats{Room: room, Sent: p.sent.Load(), Dropped: p.dropped.Load()}
			s.TotalDropped += ps.Dropped
			s.Peers[id] = ps
		}
	}
	return s
}

// Close disconnects every peer. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for room, members := range h.rooms {
		for _, p := range members {
			p.left = true
			close(p.ch)
		}
		delete(h.rooms, room)
	}
	return nil
}

// ID returns the peer id.
func (p *Peer) ID() string { return p.id }

// Room returns the room the peer joined.
func (p *Peer) Room() string { return p.room }

// Send marshals payload and relays it to the room without waiting.
func (p *Peer) Send(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return p.hub.publish(p, env)
}

// Forward relays an already-encoded envelope.
func (p *Peer) Forward(env Envelope) error {
	return p.hub.publish(p, env)
}

// Messages returns the inbound queue. It is closed when the peer leaves.
func (p *Peer) Messages() <-chan Envelope { return p.ch }

// Close leaves the room.
func (p *Peer) Close() error {
	p.hub.leave(p)
	return nil
}
