package file

import (
	"context"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
)

type peerFile struct {
	ModifiedAt time.Time               `yaml:"modified_at"`
	Peers      []domain.DiscoveredPeer `yaml:"peers"`
}

// PeerStore persists the latest LAN scan as YAML.
type PeerStore struct {
	path string
	mu   sync.Mutex
}

func NewPeerStore(path string) ports.PeerStore {
	return &PeerStore{path: path}
}

func (s *PeerStore) Store(ctx context.Context, peers []domain.DiscoveredPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeYAML(s.path, peerFile{ModifiedAt: time.Now().UTC(), Peers: peers})
}

func (s *PeerStore) Load(ctx context.Context) (*domain.LanPeers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f peerFile
	ok, err := readYAML(s.path, &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLanPeersNotStored
	}
	return &domain.LanPeers{Peers: f.Peers, ModifiedAt: f.ModifiedAt}, nil
}

func (s *PeerStore) ModifiedAt(ctx context.Context) (time.Time, error) {
	peers, err := s.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return peers.ModifiedAt, nil
}
