package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"
	apperrors "rendezlink/pkg/errors"
	rlog "rendezlink/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type frameResult struct {
	frame domain.Frame
	err   error
}

// session is one signaling connection serving one host list.
type session struct {
	id         string
	m          *Mediator
	group      *domain.CancelGroup
	ch         ports.SignalChannel
	publicAddr net.Addr
	frames     chan frameResult
	lastTick   time.Time
	logger     *zap.SugaredLogger
}

// runSession connects to the first reachable host of hostList and serves
// control messages until the group is cancelled, ctx ends, or the channel
// fails. A nil return means a clean exit.
func (m *Mediator) runSession(ctx context.Context, hostList string, group *domain.CancelGroup) error {
	id := uuid.NewString()
	ctx = rlog.WithSessionID(ctx, id)

	publicAddr, err := m.deps.Resolver.PublicAddr(ctx)
	if err != nil {
		return apperrors.Resource(fmt.Errorf("%w: %v", domain.ErrNoPublicAddr, err), "session aborted")
	}

	ch, err := m.deps.Dialer.Connect(ctx, hostList)
	if err != nil {
		m.deps.Metrics.SignalConnectFailed()
		return err
	}
	defer ch.Close()

	host := ch.Host()
	ctx = rlog.WithHost(ctx, host)

	s := &session{
		id:         id,
		m:          m,
		group:      group,
		ch:         ch,
		publicAddr: publicAddr,
		frames:     make(chan frameResult),
		lastTick:   m.clock.Now(),
		logger:     m.log.Sugar(ctx),
	}

	if err := m.deps.Latency.Update(ctx, host, m.policy.LatencyPlaceholder); err != nil {
		s.logger.Warnw("failed to update latency", "error", err)
	}
	s.confirmKeys(ctx, host)

	now := m.clock.Now()
	localIP := ""
	if ip := ch.LocalIP(); ip != nil {
		localIP = ip.String()
	}
	m.register(&SessionInfo{ID: id, Host: host, LocalIP: localIP, StartedAt: now, LastActivity: now})
	defer m.unregister(id)

	m.deps.Metrics.SessionOpened(host)
	defer m.deps.Metrics.SessionClosed(host)

	s.logger.Infow("rendezvous session established", "local_ip", localIP, "public_addr", publicAddr.String())
	return s.serve(ctx)
}

func (s *session) confirmKeys(ctx context.Context, host string) {
	for _, key := range []string{domain.OptionKeyConfirmed, domain.HostKeyConfirmedOption(host)} {
		if err := setOptionIfChanged(ctx, s.m.deps.Options, key, domain.OptionEnabledValue); err != nil {
			s.logger.Warnw("failed to persist key confirmation", "key", key, "error", err)
		}
	}
}

func (s *session) serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(done)

	ticker := s.m.clock.Ticker(s.m.policy.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if s.group.Cancelled() {
				s.logger.Debugw("session cancelled by group")
				return nil
			}
			if !s.acceptTick(s.m.clock.Now()) {
				continue
			}
			s.m.touch(s.id)

		case res := <-s.frames:
			if err := s.handleFrame(ctx, res); err != nil {
				return err
			}
		}
	}
}

// acceptTick filters ticks that fire earlier than one full interval after
// the previous accepted tick.
func (s *session) acceptTick(now time.Time) bool {
	if now.Sub(s.lastTick) < s.m.policy.Tick {
		return false
	}
	s.lastTick = now
	return true
}

func (s *session) readLoop(done <-chan struct{}) {
	for {
		frame, err := s.ch.ReadFrame()
		select {
		case s.frames <- frameResult{frame: frame, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// handleFrame returns an error only for conditions that end the session.
func (s *session) handleFrame(ctx context.Context, res frameResult) error {
	if res.err != nil {
		return apperrors.Transport(res.err, "rendezvous channel read failed")
	}
	if res.frame.Binary {
		return apperrors.Protocol(domain.ErrBinaryFrame, "rendezvous channel")
	}

	msg, err := domain.DecodeControl(res.frame.Data)
	if err != nil {
		s.logger.Debugw("ignoring control message", "error", err, "size", len(res.frame.Data))
		return nil
	}

	switch msg := msg.(type) {
	case domain.ConnectRequest:
		s.handleConnectRequest(ctx, msg)
		return nil
	case domain.RelayConnection:
		return s.handleRelayConnection(ctx, msg)
	default:
		s.logger.Debugw("ignoring control message", "kind", msg.Kind())
		return nil
	}
}

// handleConnectRequest opens a listener on the local bind address, announces
// it, and hands every accepted stream to the acceptor until the listener idles.
func (s *session) handleConnectRequest(ctx context.Context, msg domain.ConnectRequest) {
	host := ""
	if ip := s.ch.LocalIP(); ip != nil {
		host = ip.String()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		s.logger.Warnw("failed to open listener for connect request", "sender_id", msg.SenderID, "error", err)
		return
	}

	reply := domain.NewListening(msg.SenderID, ln.Addr(), s.publicAddr, s.m.deps.Keys.PublicKey())
	if err := s.ch.WriteMessage(reply); err != nil {
		ln.Close()
		s.logger.Warnw("failed to send listening", "sender_id", msg.SenderID, "error", err)
		return
	}

	s.logger.Infow("listening for requester", "sender_id", msg.SenderID, "addr", ln.Addr().String())
	s.m.spawn(func() { s.acceptLoop(ctx, ln.(*net.TCPListener)) })
}

func (s *session) acceptLoop(ctx context.Context, ln *net.TCPListener) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		ln.SetDeadline(time.Now().Add(s.m.policy.ListenerIdle))
		conn, err := ln.AcceptTCP()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debugw("requester listener idle, closing", "addr", ln.Addr().String())
			}
			return
		}
		conn.SetNoDelay(true)
		s.logger.Infow("accepted requester stream", "peer", conn.RemoteAddr().String())
		s.m.spawn(func() {
			s.m.handoff.run(ctx, conn, conn.RemoteAddr(), domain.ConnKindNATTraversed, s.id)
		})
	}
}

// handleRelayConnection dials the relay and requires the next channel frame
// to be RelayReady. Any other frame abandons the relay and is then handled
// normally. Read failures while waiting end the session.
func (s *session) handleRelayConnection(ctx context.Context, msg domain.RelayConnection) error {
	dialer := net.Dialer{Timeout: s.m.policy.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", msg.Addr)
	if err != nil {
		s.logger.Warnw("failed to connect relay", "addr", msg.Addr, "error", err)
		return nil
	}

	select {
	case <-ctx.Done():
		conn.Close()
		return nil

	case <-s.m.clock.After(s.m.policy.ConnectTimeout):
		conn.Close()
		s.logger.Warnw("relay readiness timed out", "addr", msg.Addr)
		return nil

	case res := <-s.frames:
		if res.err != nil || res.frame.Binary {
			conn.Close()
			return s.handleFrame(ctx, res)
		}
		if _, err := domain.DecodeRelayReady(res.frame.Data); err != nil {
			conn.Close()
			s.logger.Warnw("relay connection abandoned", "addr", msg.Addr, "error", err)
			// the frame may be a control message in its own right
			return s.handleFrame(ctx, res)
		}
	}

	s.logger.Infow("relay ready", "addr", msg.Addr)
	s.m.spawn(func() {
		s.m.handoff.run(ctx, conn, conn.RemoteAddr(), domain.ConnKindRelay, s.id)
	})
	return nil
}
