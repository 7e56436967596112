package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// HostInfo is what this host advertises in LAN discovery replies.
type HostInfo struct {
	ID       string
	Mac      string
	Hostname string
	Username string
	Platform string
}

// PeerDiscovery is the LAN discovery wire message.
type PeerDiscovery struct {
	Cmd      string
	Mac      string
	ID       string
	Username string
	Hostname string
	Platform string
	Misc     string
}

const (
	DiscoveryPing = "ping"
	DiscoveryPong = "pong"
)

// DiscoveredPeer is one pong received during a LAN scan.
type DiscoveredPeer struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Hostname string `yaml:"hostname"`
	Platform string `yaml:"platform"`
}

// MarshalJSON encodes the peer as a [id, username, hostname, platform] tuple.
func (p DiscoveredPeer) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]string{p.ID, p.Username, p.Hostname, p.Platform})
}

func (p *DiscoveredPeer) UnmarshalJSON(data []byte) error {
	var tuple []string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 4 {
		return fmt.Errorf("discovered peer: expected 4 fields, got %d", len(tuple))
	}
	p.ID, p.Username, p.Hostname, p.Platform = tuple[0], tuple[1], tuple[2], tuple[3]
	return nil
}

// LanPeers is the persisted result of the latest LAN scan.
type LanPeers struct {
	Peers      []DiscoveredPeer
	ModifiedAt time.Time
}

// ServerEndpoint is one rendezvous endpoint returned by the server directory.
type ServerEndpoint struct {
	Scheme string
	Host   string
	Port   string
}

func (e ServerEndpoint) String() string {
	return fmt.Sprintf("%s://%s:%s", e.Scheme, e.Host, e.Port)
}

// Frame is one data frame read from a signaling channel.
type Frame struct {
	Binary bool
	Data   []byte
}
