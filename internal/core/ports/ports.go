package ports

import (
	"context"
	"net"
	"time"

	"rendezlink/internal/core/domain"
)

// OptionStore is the persistent key/value configuration. A missing key reads
// as the empty string.
type OptionStore interface {
	GetOption(ctx context.Context, key string) (string, error)
	SetOption(ctx context.Context, key, value string) error
}

// PeerStore persists the result of the latest LAN scan.
type PeerStore interface {
	Store(ctx context.Context, peers []domain.DiscoveredPeer) error
	Load(ctx context.Context) (*domain.LanPeers, error)
	ModifiedAt(ctx context.Context) (time.Time, error)
}

// SessionAcceptor upgrades an established stream into a remote-access session.
type SessionAcceptor interface {
	Accept(ctx context.Context, conn net.Conn, peer net.Addr, kind domain.ConnKind) error
}

// PublicAddrResolver discovers this host's best known public address.
type PublicAddrResolver interface {
	PublicAddr(ctx context.Context) (net.Addr, error)
}

// KeyProvider supplies the public key announced to peers.
type KeyProvider interface {
	PublicKey() []byte
}

// ServerDirectory is the remote lookup of rendezvous endpoints.
type ServerDirectory interface {
	Lookup(ctx context.Context) ([]domain.ServerEndpoint, error)
}

// ServerLister yields the candidate list for one mediator round. Each entry
// is a ';'-joined host list served by one session.
type ServerLister interface {
	Servers(ctx context.Context) ([]string, error)
}

// SignalDialer opens a signaling channel to the first reachable host of a
// ';'-joined host list.
type SignalDialer interface {
	Connect(ctx context.Context, hostList string) (SignalChannel, error)
}

// SignalChannel is one live connection to a rendezvous server.
type SignalChannel interface {
	LocalIP() net.IP
	Host() string
	ReadFrame() (domain.Frame, error)
	WriteMessage(msg domain.ControlMessage) error
	Close() error
}

// HostInfoProvider describes this host for LAN discovery replies.
type HostInfoProvider interface {
	HostInfo() domain.HostInfo
}

// MetricsRecorder receives operational events for export.
type MetricsRecorder interface {
	SessionOpened(host string)
	SessionClosed(host string)
	SignalConnectFailed()
	Handoff(kind domain.ConnKind)
	DirectBindFailed()
	LanPongSent()
	LanScanCompleted(peers int, elapsed time.Duration)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) SessionOpened(string)                {}
func (NopMetrics) SessionClosed(string)                {}
func (NopMetrics) SignalConnectFailed()                {}
func (NopMetrics) Handoff(domain.ConnKind)             {}
func (NopMetrics) DirectBindFailed()                   {}
func (NopMetrics) LanPongSent()                        {}
func (NopMetrics) LanScanCompleted(int, time.Duration) {}
