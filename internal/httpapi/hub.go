package httpapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/ent0n29/parlance/internal/connections"
)

const outboundBuffer = 256

// peer is the write side of one attached websocket. Its writer goroutine
// drains outbound; done closes when the socket is detached.
type peer struct {
	outbound chan []byte
	done     chan struct{}
	once     sync.Once
}

func newPeer() *peer {
	return &peer{
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// Hub tracks the websockets attached to this process and implements
// connections.Transport for them. Connections attached to other processes
// are unknown here and report ErrGone.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*peer)}
}

func (h *Hub) attach(id string) *peer {
	p := newPeer()
	h.mu.Lock()
	if old, ok := h.peers[id]; ok {
		old.close()
	}
	h.peers[id] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) detach(id string, p *peer) {
	h.mu.Lock()
	if cur, ok := h.peers[id]; ok && cur == p {
		delete(h.peers, id)
	}
	h.mu.Unlock()
	p.close()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) Send(ctx context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	p, ok := h.peers[connectionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not attached", connections.ErrGone, connectionID)
	}

	select {
	case <-p.done:
		return fmt.Errorf("%w: %s closed", connections.ErrGone, connectionID)
	default:
	}
	select {
	case p.outbound <- payload:
		return nil
	case <-p.done:
		return fmt.Errorf("%w: %s closed", connections.ErrGone, connectionID)
	case <-ctx.Done():
		return ctx.Err()
	}
}
