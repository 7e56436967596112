package services

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DirectPolicy holds the direct access listener timings.
type DirectPolicy struct {
	BindHost      string
	Poll          time.Duration // option poll and bind retry interval
	AcceptTimeout time.Duration
	AcceptBackoff time.Duration // pause after an accept timeout
}

func DefaultDirectPolicy() DirectPolicy {
	return DirectPolicy{
		BindHost:      "0.0.0.0",
		Poll:          time.Second,
		AcceptTimeout: time.Second,
		AcceptBackoff: 100 * time.Millisecond,
	}
}

// DirectServer accepts unauthenticated TCP streams on the direct access port
// while the direct-server option is set.
type DirectServer struct {
	options ports.OptionStore
	handoff *handoff
	metrics ports.MetricsRecorder
	policy  DirectPolicy
	clock   clock.Clock
	logger  *zap.SugaredLogger

	mu   sync.RWMutex
	addr net.Addr
}

func NewDirectServer(options ports.OptionStore, acceptor ports.SessionAcceptor, metrics ports.MetricsRecorder, policy DirectPolicy, logger *zap.SugaredLogger) *DirectServer {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &DirectServer{
		options: options,
		handoff: &handoff{acceptor: acceptor, metrics: metrics, logger: logger},
		metrics: metrics,
		policy:  policy,
		clock:   clock.New(),
		logger:  logger,
	}
}

// Addr returns the bound listener address, or nil while not listening.
func (s *DirectServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *DirectServer) setAddr(addr net.Addr) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

// Run follows the direct-server and direct-access-port options until ctx is
// cancelled. Streams already handed off are not affected by the listener
// closing.
func (s *DirectServer) Run(ctx context.Context) error {
	var (
		ln         *net.TCPListener
		port       int
		failedPort int // last port that failed to bind, 0 if none
	)

	closeListener := func() {
		if ln == nil {
			return
		}
		ln.Close()
		ln = nil
		s.setAddr(nil)
		s.logger.Infow("exit direct access listen", "port", port)
	}
	defer closeListener()

	for ctx.Err() == nil {
		enabled, wantPort := s.readOptions(ctx)

		if ln != nil && (!enabled || wantPort != port) {
			closeListener()
		}

		if !enabled {
			failedPort = 0
			s.sleep(ctx, s.policy.Poll)
			continue
		}

		if ln == nil {
			l, err := s.listen(ctx, wantPort)
			if err != nil {
				if failedPort == wantPort {
					s.logger.Debugw("direct access port still unavailable", "port", wantPort, "error", err)
				} else {
					s.logger.Errorw("failed to start direct access listener", "port", wantPort, "error", err)
				}
				s.metrics.DirectBindFailed()
				failedPort = wantPort
				s.sleep(ctx, s.policy.Poll)
				continue
			}
			failedPort = 0
			ln, port = l, wantPort
			s.setAddr(ln.Addr())
			s.logger.Infow("direct access listening", "addr", ln.Addr().String())
		}

		ln.SetDeadline(time.Now().Add(s.policy.AcceptTimeout))
		conn, err := ln.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.sleep(ctx, s.policy.AcceptBackoff)
				continue
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Warnw("direct access accept failed", "error", err)
			closeListener()
			s.sleep(ctx, s.policy.Poll)
			continue
		}

		conn.SetNoDelay(true)
		peer := conn.RemoteAddr()
		s.logger.Infow("direct access from", "peer", peer.String())
		go s.handoff.run(ctx, conn, peer, domain.ConnKindDirect, "")
	}
	return nil
}

func (s *DirectServer) listen(ctx context.Context, port int) (*net.TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.policy.BindHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

// readOptions reports whether direct access is enabled and on which port.
func (s *DirectServer) readOptions(ctx context.Context) (bool, int) {
	flag, err := s.options.GetOption(ctx, domain.OptionDirectServer)
	if err != nil {
		s.logger.Warnw("failed to read option", "key", domain.OptionDirectServer, "error", err)
		return false, 0
	}

	port := domain.DefaultDirectPort
	raw, err := s.options.GetOption(ctx, domain.OptionDirectAccessPort)
	if err == nil {
		if p, perr := strconv.Atoi(strings.TrimSpace(raw)); perr == nil && p > 0 && p < 65536 {
			port = p
		}
	}
	return flag != "", port
}

func (s *DirectServer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}
