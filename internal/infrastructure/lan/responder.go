package lan

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxDatagram = 2048

// ResponderConfig configures the LAN discovery responder.
type ResponderConfig struct {
	ListenAddr    string
	Port          int
	ReadTimeout   time.Duration
	RepliesPerSec float64
	ReplyBurst    int
}

func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		ListenAddr:    "0.0.0.0",
		Port:          domain.LanDiscoveryPort,
		ReadTimeout:   time.Second,
		RepliesPerSec: 5,
		ReplyBurst:    10,
	}
}

// Event reports one ping received by the responder.
type Event struct {
	From net.Addr
	Ping domain.PeerDiscovery
	At   time.Time
}

// Responder answers LAN discovery pings with this host's identity.
type Responder struct {
	cfg     ResponderConfig
	host    ports.HostInfoProvider
	metrics ports.MetricsRecorder
	limiter *replyLimiter
	events  chan Event
	logger  *zap.SugaredLogger

	mu   sync.RWMutex
	addr net.Addr
}

func NewResponder(cfg ResponderConfig, host ports.HostInfoProvider, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Responder {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Responder{
		cfg:     cfg,
		host:    host,
		metrics: metrics,
		limiter: newReplyLimiter(rate.Limit(cfg.RepliesPerSec), cfg.ReplyBurst),
		events:  make(chan Event, 16),
		logger:  logger,
	}
}

// Events delivers received pings. Events are dropped when nobody reads.
func (r *Responder) Events() <-chan Event {
	return r.events
}

// Addr returns the bound address, or nil before Run has bound.
func (r *Responder) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

// Run binds the discovery port and serves pings until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	addr := net.JoinHostPort(r.cfg.ListenAddr, strconv.Itoa(r.cfg.Port))
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		r.logger.Errorw("failed to bind lan discovery", "addr", addr, "error", err)
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.mu.Lock()
	r.addr = conn.LocalAddr()
	r.mu.Unlock()
	r.logger.Infow("lan discovery listening", "addr", conn.LocalAddr().String())

	buf := make([]byte, maxDatagram)
	lastSweep := time.Now()
	for {
		conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		n, from, err := conn.ReadFrom(buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if time.Since(lastSweep) > time.Minute {
					r.limiter.sweep(time.Now())
					lastSweep = time.Now()
				}
				continue
			}
			r.logger.Warnw("lan discovery read failed", "error", err)
			return err
		}

		msg, err := DecodeDiscovery(buf[:n])
		if err != nil {
			r.logger.Debugw("ignoring lan datagram", "from", from.String(), "error", err)
			continue
		}
		if msg.Cmd != domain.DiscoveryPing {
			continue
		}
		r.handlePing(conn, from, msg)
	}
}

func (r *Responder) handlePing(conn net.PacketConn, from net.Addr, ping domain.PeerDiscovery) {
	now := time.Now()
	select {
	case r.events <- Event{From: from, Ping: ping, At: now}:
	default:
	}

	if !r.limiter.allow(from, now) {
		r.logger.Debugw("lan pong rate limited", "to", from.String())
		return
	}

	self := r.host.HostInfo()
	pong := EncodeDiscovery(domain.PeerDiscovery{
		Cmd:      domain.DiscoveryPong,
		Mac:      self.Mac,
		ID:       self.ID,
		Username: self.Username,
		Hostname: self.Hostname,
		Platform: self.Platform,
	})
	if _, err := conn.WriteTo(pong, from); err != nil {
		r.logger.Warnw("failed to send lan pong", "to", from.String(), "error", err)
		return
	}
	r.metrics.LanPongSent()
	r.logger.Debugw("lan pong sent", "to", from.String())
}
