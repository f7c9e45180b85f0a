package meshnet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryService is an in-process Service used by tests and local
// single-node scenarios: broadcasts fan out directly to every other
// MemoryService registered in the same Hub, with no real transport.
// Production RuntimeContext construction must refuse this implementation.
type MemoryService struct {
	hub  *Hub
	self PeerID

	subLock   sync.Mutex
	consumers []chan ProtocolMessage

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Hub wires a set of MemoryService instances together, standing in for a
// real libp2p swarm in tests.
type Hub struct {
	mu      sync.RWMutex
	members map[PeerID]*MemoryService
}

// NewHub creates an empty in-process mesh.
func NewHub() *Hub {
	return &Hub{members: make(map[PeerID]*MemoryService)}
}

// Join registers a new in-process peer and returns its Service handle.
func (h *Hub) Join(id PeerID) *MemoryService {
	s := &MemoryService{hub: h, self: id}
	h.mu.Lock()
	h.members[id] = s
	h.mu.Unlock()
	return s
}

func (s *MemoryService) BroadcastMessage(ctx context.Context, msg ProtocolMessage) error {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	for id, peer := range s.hub.members {
		if id == s.self {
			continue
		}
		peer.deliver(msg)
	}
	s.sent.Add(1)
	return nil
}

func (s *MemoryService) SendMessage(ctx context.Context, peerID PeerID, msg ProtocolMessage) error {
	s.hub.mu.RLock()
	peer, ok := s.hub.members[peerID]
	s.hub.mu.RUnlock()
	if !ok {
		return fmt.Errorf("meshnet: unknown peer %q", peerID)
	}
	peer.deliver(msg)
	s.sent.Add(1)
	return nil
}

func (s *MemoryService) deliver(msg ProtocolMessage) {
	s.subLock.Lock()
	defer s.subLock.Unlock()
	for _, ch := range s.consumers {
		select {
		case ch <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *MemoryService) Subscribe() (<-chan ProtocolMessage, func(), error) {
	ch := make(chan ProtocolMessage, 64)
	s.subLock.Lock()
	s.consumers = append(s.consumers, ch)
	s.subLock.Unlock()
	cancel := func() {
		s.subLock.Lock()
		defer s.subLock.Unlock()
		for i, c := range s.consumers {
			if c == ch {
				s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

func (s *MemoryService) DiscoverPeers(ctx context.Context, hint string) ([]PeerID, error) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	out := make([]PeerID, 0, len(s.hub.members))
	for id := range s.hub.members {
		if id != s.self {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryService) ConnectPeer(ctx context.Context, addr string) error {
	return nil // every member of a Hub is already reachable
}

func (s *MemoryService) GetNetworkStats() NetworkStats {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return NetworkStats{
		PeerCount:       len(s.hub.members) - 1,
		MessagesSent:    s.sent.Load(),
		MessagesDropped: s.dropped.Load(),
	}
}

func (s *MemoryService) Close() error {
	s.hub.mu.Lock()
	delete(s.hub.members, s.self)
	s.hub.mu.Unlock()
	s.subLock.Lock()
	for _, ch := range s.consumers {
		close(ch)
	}
	s.consumers = nil
	s.subLock.Unlock()
	return nil
}

var _ Service = (*MemoryService)(nil)
