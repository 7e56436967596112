package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	lanPeersKey     = keyPrefix + "lan_peers"
	fieldPeers      = "peers"
	fieldModifiedAt = "modified_at"
)

// RedisPeerStore keeps the latest LAN scan as a JSON list of
// [id, username, hostname, platform] tuples plus its modification time.
type RedisPeerStore struct {
	client *redis.Client
}

func NewRedisPeerStore(client *redis.Client) ports.PeerStore {
	return &RedisPeerStore{client: client}
}

func (s *RedisPeerStore) Store(ctx context.Context, peers []domain.DiscoveredPeer) error {
	if peers == nil {
		peers = []domain.DiscoveredPeer{}
	}
	data, err := json.Marshal(peers)
	if err != nil {
		return fmt.Errorf("failed to marshal lan peers: %w", err)
	}

	modified := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, lanPeersKey, fieldPeers, data, fieldModifiedAt, modified).Err(); err != nil {
		return fmt.Errorf("failed to store lan peers in Redis: %w", err)
	}
	return nil
}

func (s *RedisPeerStore) Load(ctx context.Context) (*domain.LanPeers, error) {
	values, err := s.client.HMGet(ctx, lanPeersKey, fieldPeers, fieldModifiedAt).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load lan peers from Redis: %w", err)
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, domain.ErrLanPeersNotStored
	}

	var peers []domain.DiscoveredPeer
	if err := json.Unmarshal([]byte(raw), &peers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lan peers: %w", err)
	}

	modified, err := parseModified(values[1])
	if err != nil {
		return nil, err
	}
	return &domain.LanPeers{Peers: peers, ModifiedAt: modified}, nil
}

func (s *RedisPeerStore) ModifiedAt(ctx context.Context) (time.Time, error) {
	value, err := s.client.HGet(ctx, lanPeersKey, fieldModifiedAt).Result()
	if err == redis.Nil {
		return time.Time{}, domain.ErrLanPeersNotStored
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load lan peers time from Redis: %w", err)
	}
	return parseModified(value)
}

func parseModified(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid lan peers modification time %q: %w", s, err)
	}
	return t, nil
}
