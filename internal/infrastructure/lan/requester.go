package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ScanPolicy configures a LAN scan.
type ScanPolicy struct {
	Target          string        // ping destination, the broadcast address by default
	Inactivity      time.Duration // scan ends after this long without a datagram
	PersistInterval time.Duration // minimum spacing of intermediate persists
	ReadTimeout     time.Duration
}

func DefaultScanPolicy() ScanPolicy {
	return ScanPolicy{
		Target:          net.JoinHostPort("255.255.255.255", strconv.Itoa(domain.LanDiscoveryPort)),
		Inactivity:      3 * time.Second,
		PersistInterval: 300 * time.Millisecond,
		ReadTimeout:     10 * time.Millisecond,
	}
}

// Requester broadcasts one ping and collects pongs into the peer store.
type Requester struct {
	host    ports.HostInfoProvider
	store   ports.PeerStore
	metrics ports.MetricsRecorder
	policy  ScanPolicy
	clock   clock.Clock
	logger  *zap.SugaredLogger
}

func NewRequester(host ports.HostInfoProvider, store ports.PeerStore, metrics ports.MetricsRecorder, policy ScanPolicy, logger *zap.SugaredLogger) *Requester {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Requester{
		host:    host,
		store:   store,
		metrics: metrics,
		policy:  policy,
		clock:   clock.New(),
		logger:  logger,
	}
}

// Scan pings the LAN and returns every pong received before the inactivity
// window closes. Pongs carrying our own MAC are skipped; duplicates are kept.
// The final list is always persisted.
func (r *Requester) Scan(ctx context.Context) ([]domain.DiscoveredPeer, error) {
	target, err := net.ResolveUDPAddr("udp4", r.policy.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid lan discovery target %q: %w", r.policy.Target, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("failed to bind lan discovery socket: %w", err)
	}
	defer conn.Close()

	self := r.host.HostInfo()
	// a ping carries only the command; identity travels in pongs
	ping := EncodeDiscovery(domain.PeerDiscovery{Cmd: domain.DiscoveryPing})
	if _, err := conn.WriteTo(ping, target); err != nil {
		return nil, fmt.Errorf("failed to send lan ping: %w", err)
	}

	var (
		peers     []domain.DiscoveredPeer
		start     = r.clock.Now()
		lastRecv  = start
		lastStore = start
		stored    = 0
		buf       = make([]byte, maxDatagram)
	)

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(r.policy.ReadTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err == nil {
			if msg, derr := DecodeDiscovery(buf[:n]); derr == nil {
				lastRecv = r.clock.Now()
				if msg.Cmd == domain.DiscoveryPong && msg.Mac != self.Mac {
					peers = append(peers, domain.DiscoveredPeer{
						ID:       msg.ID,
						Username: msg.Username,
						Hostname: msg.Hostname,
						Platform: msg.Platform,
					})
				}
			}
		} else {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				r.logger.Warnw("lan scan read failed", "error", err)
				break
			}
		}

		now := r.clock.Now()
		if now.Sub(lastStore) > r.policy.PersistInterval && len(peers) != stored {
			if err := r.store.Store(ctx, peers); err != nil {
				r.logger.Warnw("failed to persist lan peers", "error", err)
			} else {
				stored = len(peers)
			}
			lastStore = now
		}
		if now.Sub(lastRecv) > r.policy.Inactivity {
			break
		}
	}

	elapsed := r.clock.Since(start)
	r.metrics.LanScanCompleted(len(peers), elapsed)
	r.logger.Infow("lan scan finished", "peers", len(peers), "elapsed", elapsed)

	// a cancelled scan still records what it found
	if err := r.store.Store(context.WithoutCancel(ctx), peers); err != nil {
		return peers, fmt.Errorf("failed to persist lan peers: %w", err)
	}
	return peers, nil
}
