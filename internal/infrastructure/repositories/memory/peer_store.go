package memory

import (
	"context"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
)

type MemoryPeerStore struct {
	peers    []domain.DiscoveredPeer
	modified time.Time
	stored   bool
	mu       sync.RWMutex
}

func NewMemoryPeerStore() ports.PeerStore {
	return &MemoryPeerStore{}
}

func (s *MemoryPeerStore) Store(ctx context.Context, peers []domain.DiscoveredPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers = append([]domain.DiscoveredPeer(nil), peers...)
	s.modified = time.Now()
	s.stored = true
	return nil
}

func (s *MemoryPeerStore) Load(ctx context.Context) (*domain.LanPeers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.stored {
		return nil, domain.ErrLanPeersNotStored
	}
	return &domain.LanPeers{
		Peers:      append([]domain.DiscoveredPeer(nil), s.peers...),
		ModifiedAt: s.modified,
	}, nil
}

func (s *MemoryPeerStore) ModifiedAt(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.stored {
		return time.Time{}, domain.ErrLanPeersNotStored
	}
	return s.modified, nil
}
